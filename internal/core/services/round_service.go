package services

import (
	"context"
	"fmt"

	"github.com/sentinelmesh/fedagg/internal/core/config"
	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/internal/core/ports"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

// FederatedRoundService runs one federated round end to end: commitment
// verification, participation check, outlier filtering, aggregation,
// differential privacy, versioning, and round persistence.
type FederatedRoundService struct {
	cfg         config.FederationConfig
	aggregation *AggregationService
	secureAgg   *SecureAggregationService
	privacy     *DifferentialPrivacyService
	versions    ports.VersionStore
	roundRepo   ports.AggregationRoundRepository
	notary      ports.NotarySink
}

func NewFederatedRoundService(
	cfg config.FederationConfig,
	aggregation *AggregationService,
	secureAgg *SecureAggregationService,
	privacy *DifferentialPrivacyService,
	versions ports.VersionStore,
) *FederatedRoundService {
	return &FederatedRoundService{
		cfg:         cfg,
		aggregation: aggregation,
		secureAgg:   secureAgg,
		privacy:     privacy,
		versions:    versions,
	}
}

// SetRoundRepository wires optional database persistence for round records.
func (s *FederatedRoundService) SetRoundRepository(repo ports.AggregationRoundRepository) {
	s.roundRepo = repo
}

// SetNotarySink wires optional downstream notarization of round receipts.
func (s *FederatedRoundService) SetNotarySink(notary ports.NotarySink) {
	s.notary = notary
}

// RunRound executes one aggregation round over the given client updates and
// returns the saved model version. expectedClients is the configured
// participant set for secure rounds; nil means the active set defines it.
func (s *FederatedRoundService) RunRound(ctx context.Context, epoch int, updates []*models.ClientUpdate, expectedClients []int) (*models.ModelVersion, error) {
	log := gologger.WithComponent("round_service")

	if len(updates) == 0 {
		return nil, fmt.Errorf("no client updates for epoch %d", epoch)
	}

	receipts := make([]models.ClientReceipt, 0, len(updates))
	accepted := make([]*models.ClientUpdate, 0, len(updates))
	for _, update := range updates {
		receipt := models.ClientReceipt{
			ClientID:       update.ClientID,
			SampleCount:    update.SampleCount,
			CommitmentHash: update.CommitmentHash,
			Verified:       true,
		}
		if update.CommitmentHash != "" && s.secureAgg != nil {
			if !s.secureAgg.VerifyContribution(update.ClientID, update.Model, update.CommitmentHash) {
				receipt.Verified = false
				receipts = append(receipts, receipt)
				continue
			}
		}
		receipts = append(receipts, receipt)
		accepted = append(accepted, update)
	}

	if len(accepted) == 0 {
		return nil, fmt.Errorf("no verified client updates for epoch %d", epoch)
	}

	activeClients := make([]int, 0, len(accepted))
	for _, update := range accepted {
		activeClients = append(activeClients, update.ClientID)
	}

	prior := s.aggregation.GlobalModel()
	secure := s.cfg.SecureAggregation && s.secureAgg != nil

	var aggregated models.ModelState
	contributors := accepted

	if secure {
		expected := expectedClients
		if expected == nil {
			expected = activeClients
		}
		if !sameClientSet(activeClients, expected) {
			return nil, fmt.Errorf("%w: epoch %d", ErrPartialParticipation, epoch)
		}

		// Masked vectors carry random pairwise offsets, so cosine-based
		// outlier screening is skipped and contributions are summed with
		// equal coefficients; any per-client weighting would stop the
		// masks from canceling.
		summed, err := s.aggregation.AggregateMasked(ctx, accepted)
		if err != nil {
			return nil, err
		}
		aggregated, err = s.secureAgg.UnmaskAggregate(summed, activeClients, expected)
		if err != nil {
			return nil, err
		}
	} else {
		filtered, err := s.aggregation.FilterOutliers(accepted, s.cfg.OutlierThreshold)
		if err != nil {
			return nil, fmt.Errorf("outlier filtering failed: %w", err)
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("no client updates left after filtering for epoch %d", epoch)
		}
		contributors = filtered

		aggregated, err = s.aggregation.Aggregate(ctx, filtered)
		if err != nil {
			return nil, err
		}
	}

	if s.cfg.DifferentialPrivacy && s.privacy != nil {
		noised, err := s.privacy.AddNoiseToGradients(aggregated, s.cfg.ClipNorm)
		if err != nil {
			return nil, fmt.Errorf("differential privacy failed: %w", err)
		}
		aggregated = noised
		s.aggregation.SetGlobalModel(aggregated)
	}

	metrics := map[string]float64{
		"num_clients": float64(len(contributors)),
	}
	var aggMetrics *models.AggregationMetrics
	if prior != nil {
		// Diversity over masked updates would measure the masks, not the
		// clients, so secure rounds report change magnitude only.
		metricUpdates := contributors
		if secure {
			metricUpdates = nil
		}
		computed, err := s.aggregation.ComputeMetrics(prior, aggregated, metricUpdates)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to compute aggregation metrics")
		} else {
			aggMetrics = computed
			aggMetrics.NumClients = len(contributors)
			metrics["change_magnitude"] = aggMetrics.ChangeMagnitude
			if !secure {
				metrics["avg_client_diversity"] = aggMetrics.AvgClientDiversity
			}
		}
	}

	metadata := map[string]interface{}{
		"aggregation_method":   string(s.cfg.AggregationMethod),
		"secure_aggregation":   s.cfg.SecureAggregation,
		"differential_privacy": s.cfg.DifferentialPrivacy,
	}

	version, err := s.versions.SaveVersion(ctx, aggregated, epoch, metrics, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to save model version: %w", err)
	}

	if round := s.aggregation.LastRound(); round != nil {
		round.VersionID = version.VersionID
		if aggMetrics != nil {
			round.Metrics = aggMetrics
		}
		if s.roundRepo != nil {
			if err := s.roundRepo.Create(ctx, round); err != nil {
				log.Warn().Err(err).Str("round_id", round.ID.String()).Msg("Failed to persist round record")
			}
		}
	}

	if s.notary != nil {
		if err := s.notary.NotarizeRound(ctx, epoch, version.ModelHash, receipts); err != nil {
			log.Warn().Err(err).Int("epoch", epoch).Msg("Round notarization failed")
		}
	}

	log.Info().
		Int("epoch", epoch).
		Str("version_id", version.VersionID).
		Int("clients", len(contributors)).
		Msg("Federated round completed")

	return version, nil
}

// History returns round records, preferring the database when wired.
func (s *FederatedRoundService) History(ctx context.Context, limit int) ([]*models.AggregationRound, error) {
	if s.roundRepo != nil {
		return s.roundRepo.List(ctx, limit)
	}
	history := s.aggregation.History()
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}
