package services

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mathrand "math/rand"
	"sync"

	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

const clipEpsilon = 1e-6

// DifferentialPrivacyService bounds the sensitivity of a model update by
// global L2 clipping and perturbs it with Gaussian noise calibrated for an
// (epsilon, delta)-DP guarantee.
type DifferentialPrivacyService struct {
	epsilon float64
	delta   float64
	rng     *mathrand.Rand
	mu      sync.Mutex
}

func NewDifferentialPrivacyService(epsilon, delta float64) (*DifferentialPrivacyService, error) {
	if epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %f", epsilon)
	}
	if delta <= 0 || delta >= 1 {
		return nil, fmt.Errorf("delta must be in (0, 1), got %f", delta)
	}

	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed noise generator: %w", err)
	}

	return &DifferentialPrivacyService{
		epsilon: epsilon,
		delta:   delta,
		rng:     mathrand.New(mathrand.NewSource(int64(binary.BigEndian.Uint64(seed[:])))),
	}, nil
}

func (s *DifferentialPrivacyService) Epsilon() float64 { return s.epsilon }
func (s *DifferentialPrivacyService) Delta() float64   { return s.delta }

// AddNoiseToGradients clips the update to clipNorm and adds independent
// zero-mean Gaussian noise per element. Clipping is global: one factor over
// the L2 norm of all layers concatenated, not per layer.
func (s *DifferentialPrivacyService) AddNoiseToGradients(gradients models.ModelState, clipNorm float64) (models.ModelState, error) {
	if clipNorm <= 0 {
		return nil, fmt.Errorf("clip norm must be positive, got %f", clipNorm)
	}

	clipped := s.clipGradients(gradients, clipNorm)
	scale := s.NoiseScale(clipNorm)

	s.mu.Lock()
	for _, tensor := range clipped {
		for i := range tensor.Data {
			tensor.Data[i] += s.rng.NormFloat64() * scale
		}
	}
	s.mu.Unlock()

	log := gologger.WithComponent("differential_privacy")
	log.Info().
		Float64("epsilon", s.epsilon).
		Float64("clip_norm", clipNorm).
		Float64("noise_scale", scale).
		Msg("Added DP noise to gradients")

	return clipped, nil
}

func (s *DifferentialPrivacyService) clipGradients(gradients models.ModelState, clipNorm float64) models.ModelState {
	factor := math.Min(1.0, clipNorm/(gradients.L2Norm()+clipEpsilon))

	clipped := gradients.Clone()
	for _, tensor := range clipped {
		for i := range tensor.Data {
			tensor.Data[i] *= factor
		}
	}
	return clipped
}

// NoiseScale returns the Gaussian mechanism standard deviation
// sigma = sensitivity * sqrt(2 * ln(1.25/delta)) / epsilon.
func (s *DifferentialPrivacyService) NoiseScale(sensitivity float64) float64 {
	return sensitivity * math.Sqrt(2*math.Log(1.25/s.delta)) / s.epsilon
}

// PrivacySpent reports cumulative privacy loss over rounds under naive
// composition: (epsilon * sqrt(rounds), delta * rounds). Conservative and
// non-tight; a moments accountant can replace it without changing the
// contract.
func (s *DifferentialPrivacyService) PrivacySpent(rounds int) (totalEpsilon, totalDelta float64) {
	return s.epsilon * math.Sqrt(float64(rounds)), s.delta * float64(rounds)
}
