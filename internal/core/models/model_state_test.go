package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(values ...float64) ModelState {
	t, _ := NewTensor([]int{len(values)}, values)
	return ModelState{"layer": t}
}

func TestNewTensor(t *testing.T) {
	tensor, err := NewTensor([]int{2, 3}, make([]float64, 6))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, tensor.Shape)

	_, err = NewTensor([]int{2, 3}, make([]float64, 5))
	assert.Error(t, err)

	_, err = NewTensor([]int{2, 0}, nil)
	assert.Error(t, err)
}

func TestModelStateClone(t *testing.T) {
	m := testModel(1, 2, 3)
	c := m.Clone()

	c["layer"].Data[0] = 99
	assert.Equal(t, 1.0, m["layer"].Data[0], "clone must not share backing arrays")
}

func TestSameStructure(t *testing.T) {
	a := testModel(1, 2)
	b := testModel(3, 4)
	require.NoError(t, a.SameStructure(b))

	c := testModel(1, 2, 3)
	err := a.SameStructure(c)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	d := ModelState{"other": a["layer"]}
	err = a.SameStructure(d)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestHashDeterministic(t *testing.T) {
	w1, _ := NewTensor([]int{2}, []float64{1, 2})
	w2, _ := NewTensor([]int{2}, []float64{3, 4})

	a := ModelState{"alpha": w1, "beta": w2}
	b := ModelState{"beta": w2.Clone(), "alpha": w1.Clone()}

	assert.Equal(t, a.Hash(), b.Hash(), "hash must be independent of map iteration order")

	b["alpha"].Data[0] = 1.0000001
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestCosineSimilarity(t *testing.T) {
	a := testModel(1, 0)
	b := testModel(2, 0)
	sim, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-12)

	c := testModel(0, 1)
	sim, err = CosineSimilarity(a, c)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-12)

	zero := testModel(0, 0)
	sim, err = CosineSimilarity(a, zero)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)

	_, err = CosineSimilarity(a, testModel(1, 2, 3))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFlattenSortedOrder(t *testing.T) {
	w1, _ := NewTensor([]int{1}, []float64{10})
	w2, _ := NewTensor([]int{1}, []float64{20})
	m := ModelState{"b": w2, "a": w1}

	assert.Equal(t, []float64{10, 20}, m.Flatten())
}

func TestL2Norm(t *testing.T) {
	m := testModel(3, 4)
	assert.InDelta(t, 5.0, m.L2Norm(), 1e-12)
}
