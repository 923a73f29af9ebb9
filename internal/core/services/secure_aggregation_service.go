package services

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mathrand "math/rand"
	"sync"

	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

const secretLength = 32

type clientPair struct {
	low, high int
}

func pairKey(clientI, clientJ int) clientPair {
	if clientI > clientJ {
		clientI, clientJ = clientJ, clientI
	}
	return clientPair{low: clientI, high: clientJ}
}

// SecureAggregationService hides individual client updates behind
// pairwise-canceling random masks. When every client in a round masks against
// the same symmetric peer set, each pairwise mask is added once and
// subtracted once, so the sum of masked models equals the sum of raw models.
//
// Secrets here stand in for a real key exchange; pair secrets are generated
// server-side and cached. This is not a full secure multi-party computation
// scheme and offers no dropout tolerance.
type SecureAggregationService struct {
	secrets map[clientPair][]byte
	mu      sync.Mutex
}

func NewSecureAggregationService() *SecureAggregationService {
	return &SecureAggregationService{
		secrets: make(map[clientPair][]byte),
	}
}

// PairwiseSecret returns the shared secret for the unordered client pair,
// creating it on first use. Creation is mutually exclusive per pair: the
// first successful writer's secret is authoritative for all later callers.
func (s *SecureAggregationService) PairwiseSecret(clientI, clientJ int) ([]byte, error) {
	key := pairKey(clientI, clientJ)

	s.mu.Lock()
	defer s.mu.Unlock()

	if secret, ok := s.secrets[key]; ok {
		return secret, nil
	}

	secret := make([]byte, secretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate pairwise secret: %w", err)
	}
	s.secrets[key] = secret
	return secret, nil
}

// maskFromSecret derives a deterministic mask tensor from a shared secret. A
// fresh generator is seeded per layer so both endpoints of a pair produce
// identical masks regardless of layer iteration order.
func maskFromSecret(secret []byte, like *models.Tensor) *models.Tensor {
	seed := int64(binary.BigEndian.Uint64(secret[:8]))
	rng := mathrand.New(mathrand.NewSource(seed))

	mask := models.ZerosLike(like)
	for i := range mask.Data {
		mask.Data[i] = rng.NormFloat64()
	}
	return mask
}

// MaskModel applies pairwise masks to a client's model before transmission.
// The mask for peer p is added when clientID < p and subtracted when
// clientID > p, which is what makes the terms cancel in the summed result.
func (s *SecureAggregationService) MaskModel(clientID int, model models.ModelState, peerIDs []int) (models.ModelState, error) {
	masked := model.Clone()

	for _, peerID := range peerIDs {
		if peerID == clientID {
			continue
		}

		secret, err := s.PairwiseSecret(clientID, peerID)
		if err != nil {
			return nil, err
		}

		sign := 1.0
		if clientID > peerID {
			sign = -1.0
		}

		for _, key := range masked.SortedKeys() {
			mask := maskFromSecret(secret, masked[key])
			dst := masked[key].Data
			for i, v := range mask.Data {
				dst[i] += sign * v
			}
		}
	}
	return masked, nil
}

// UnmaskAggregate returns the summed masked model as-is when the active
// client set equals the expected participant set; the pairwise masks have
// already canceled in the sum. Any dropout breaks cancellation, so partial
// rounds are rejected rather than returning a corrupted aggregate.
func (s *SecureAggregationService) UnmaskAggregate(summed models.ModelState, activeClients, expectedClients []int) (models.ModelState, error) {
	if !sameClientSet(activeClients, expectedClients) {
		log := gologger.WithComponent("secure_aggregation")
		log.Error().
			Int("active", len(activeClients)).
			Int("expected", len(expectedClients)).
			Msg("Client set changed mid-round, masks cannot cancel")
		return nil, fmt.Errorf("%w: %d of %d clients active", ErrPartialParticipation, len(activeClients), len(expectedClients))
	}
	return summed, nil
}

func sameClientSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			return false
		}
	}
	return true
}

// VerifyContribution recomputes the hash of a masked model and compares it
// against the client's pre-published commitment. A match only proves the
// model was not altered after commitment, not that it was masked honestly.
func (s *SecureAggregationService) VerifyContribution(clientID int, maskedModel models.ModelState, commitmentHash string) bool {
	computed := maskedModel.Hash()
	if computed != commitmentHash {
		log := gologger.WithComponent("secure_aggregation")
		log.Warn().
			Int("client_id", clientID).
			Str("expected", commitmentHash).
			Str("computed", computed).
			Msg("Commitment verification failed")
		return false
	}
	return true
}
