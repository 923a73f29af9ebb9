package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/fedagg/internal/core/models"
)

func TestNewDifferentialPrivacyServiceValidation(t *testing.T) {
	_, err := NewDifferentialPrivacyService(0, 1e-5)
	assert.Error(t, err)

	_, err = NewDifferentialPrivacyService(-1, 1e-5)
	assert.Error(t, err)

	_, err = NewDifferentialPrivacyService(1.0, 0)
	assert.Error(t, err)

	_, err = NewDifferentialPrivacyService(1.0, 1)
	assert.Error(t, err)

	svc, err := NewDifferentialPrivacyService(1.0, 1e-5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, svc.Epsilon())
	assert.Equal(t, 1e-5, svc.Delta())
}

func TestNoiseScaleFormula(t *testing.T) {
	svc, err := NewDifferentialPrivacyService(1.0, 1e-5)
	require.NoError(t, err)

	expected := math.Sqrt(2*math.Log(1.25/1e-5)) / 1.0
	assert.InDelta(t, expected, svc.NoiseScale(1.0), 1e-12)
	assert.InDelta(t, 2*expected, svc.NoiseScale(2.0), 1e-12)
}

func TestNoiseScaleDecreasesWithEpsilon(t *testing.T) {
	weak, err := NewDifferentialPrivacyService(10.0, 1e-5)
	require.NoError(t, err)
	strong, err := NewDifferentialPrivacyService(0.1, 1e-5)
	require.NoError(t, err)

	assert.Greater(t, strong.NoiseScale(1.0), weak.NoiseScale(1.0),
		"a stronger privacy guarantee needs more noise")
}

func TestClipGradients(t *testing.T) {
	svc, err := NewDifferentialPrivacyService(1.0, 1e-5)
	require.NoError(t, err)

	big := testGradients(30, 40) // L2 norm 50
	clipped := svc.clipGradients(big, 5.0)
	assert.InDelta(t, 5.0, clipped.L2Norm(), 1e-3)
	assert.InDelta(t, 50.0, big.L2Norm(), 1e-12, "input must not be mutated")

	small := testGradients(0.3, 0.4) // L2 norm 0.5
	unclipped := svc.clipGradients(small, 5.0)
	assert.InDelta(t, 0.3, unclipped["layer"].Data[0], 1e-6)
	assert.InDelta(t, 0.4, unclipped["layer"].Data[1], 1e-6)
}

func TestAddNoiseToGradients(t *testing.T) {
	svc, err := NewDifferentialPrivacyService(1.0, 1e-5)
	require.NoError(t, err)

	gradients := testGradients(30, 40)
	noised, err := svc.AddNoiseToGradients(gradients, 5.0)
	require.NoError(t, err)

	assert.NotEqual(t, gradients.Hash(), noised.Hash())
	assert.InDelta(t, 50.0, gradients.L2Norm(), 1e-12, "input must not be mutated")

	// The result stays within a few standard deviations of the clipped norm.
	scale := svc.NoiseScale(5.0)
	assert.Less(t, noised.L2Norm(), 5.0+10*scale)

	_, err = svc.AddNoiseToGradients(gradients, 0)
	assert.Error(t, err)
}

func TestPrivacySpent(t *testing.T) {
	svc, err := NewDifferentialPrivacyService(0.5, 1e-5)
	require.NoError(t, err)

	eps, delta := svc.PrivacySpent(1)
	assert.InDelta(t, 0.5, eps, 1e-12)
	assert.InDelta(t, 1e-5, delta, 1e-18)

	eps, delta = svc.PrivacySpent(100)
	assert.InDelta(t, 0.5*10, eps, 1e-12)
	assert.InDelta(t, 1e-3, delta, 1e-15)
}

func testGradients(values ...float64) models.ModelState {
	tensor, _ := models.NewTensor([]int{len(values)}, values)
	return models.ModelState{"layer": tensor}
}
