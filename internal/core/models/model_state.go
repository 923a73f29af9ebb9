package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrShapeMismatch is returned when two model states do not share identical
// layer keys and per-layer shapes.
var ErrShapeMismatch = errors.New("model shape mismatch")

// Tensor is a multi-dimensional numeric array stored as a flat float64 slice
// in row-major order.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelState maps layer names to parameter tensors.
type ModelState map[string]*Tensor

func NewTensor(shape []int, data []float64) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid tensor dimension %d", d)
		}
		n *= d
	}
	if len(data) != n {
		return nil, fmt.Errorf("tensor data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

func ZerosLike(t *Tensor) *Tensor {
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	return &Tensor{Shape: shape, Data: make([]float64, len(t.Data))}
}

func (t *Tensor) Clone() *Tensor {
	c := ZerosLike(t)
	copy(c.Data, t.Data)
	return c
}

func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i, d := range t.Shape {
		if other.Shape[i] != d {
			return false
		}
	}
	return true
}

// Clone deep-copies the model state.
func (m ModelState) Clone() ModelState {
	c := make(ModelState, len(m))
	for key, tensor := range m {
		c[key] = tensor.Clone()
	}
	return c
}

// SortedKeys returns layer names in lexicographic order. Every operation that
// must be reproducible across map iteration orders goes through this.
func (m ModelState) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SameStructure reports whether other has identical layer keys and shapes.
func (m ModelState) SameStructure(other ModelState) error {
	if len(m) != len(other) {
		return fmt.Errorf("%w: %d layers vs %d layers", ErrShapeMismatch, len(m), len(other))
	}
	for key, tensor := range m {
		peer, ok := other[key]
		if !ok {
			return fmt.Errorf("%w: missing layer %q", ErrShapeMismatch, key)
		}
		if !tensor.SameShape(peer) {
			return fmt.Errorf("%w: layer %q has shape %v vs %v", ErrShapeMismatch, key, tensor.Shape, peer.Shape)
		}
	}
	return nil
}

// Flatten concatenates all layer data in sorted key order.
func (m ModelState) Flatten() []float64 {
	total := 0
	for _, tensor := range m {
		total += len(tensor.Data)
	}
	flat := make([]float64, 0, total)
	for _, key := range m.SortedKeys() {
		flat = append(flat, m[key].Data...)
	}
	return flat
}

// Hash computes the SHA-256 over each layer's raw element bytes
// (little-endian IEEE-754) taken in sorted key order, making the digest
// independent of map iteration order.
func (m ModelState) Hash() string {
	hasher := sha256.New()
	var buf [8]byte
	for _, key := range m.SortedKeys() {
		for _, v := range m[key].Data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			hasher.Write(buf[:])
		}
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// L2Norm returns the Euclidean norm over all layers concatenated.
func (m ModelState) L2Norm() float64 {
	sum := 0.0
	for _, tensor := range m {
		for _, v := range tensor.Data {
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

// CosineSimilarity computes the cosine similarity between the flattened
// parameter vectors of two model states. Zero vectors yield 0.
func CosineSimilarity(a, b ModelState) (float64, error) {
	if err := a.SameStructure(b); err != nil {
		return 0, err
	}
	va := a.Flatten()
	vb := b.Flatten()

	dot, normA, normB := 0.0, 0.0, 0.0
	for i := range va {
		dot += va[i] * vb[i]
		normA += va[i] * va[i]
		normB += vb[i] * vb[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
