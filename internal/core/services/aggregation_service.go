package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

// AggregationStrategy combines a batch of client updates into one model
// state. Implementations are closed over the supported method set; config
// strings are resolved once through StrategyForMethod.
type AggregationStrategy interface {
	Method() models.AggregationMethod
	Aggregate(updates []*models.ClientUpdate) (models.ModelState, error)
}

// StrategyForMethod resolves a configured method name to its strategy.
func StrategyForMethod(method models.AggregationMethod) (AggregationStrategy, error) {
	switch method {
	case models.MethodFederatedAverage:
		return &FederatedAverage{}, nil
	case models.MethodWeightedAverage:
		return &WeightedAverage{}, nil
	case models.MethodCoordinateMedian:
		return &CoordinateMedian{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// FederatedAverage weights each client by sampleCount_i / Σ sampleCount.
type FederatedAverage struct{}

func (f *FederatedAverage) Method() models.AggregationMethod {
	return models.MethodFederatedAverage
}

func (f *FederatedAverage) Aggregate(updates []*models.ClientUpdate) (models.ModelState, error) {
	totalSamples := 0
	for _, update := range updates {
		totalSamples += update.SampleCount
	}
	if totalSamples == 0 {
		return nil, fmt.Errorf("total sample count is zero")
	}

	aggregated := make(models.ModelState, len(updates[0].Model))
	for key, tensor := range updates[0].Model {
		aggregated[key] = models.ZerosLike(tensor)
	}

	for _, update := range updates {
		weight := float64(update.SampleCount) / float64(totalSamples)
		for key, tensor := range update.Model {
			dst := aggregated[key].Data
			for i, v := range tensor.Data {
				dst[i] += v * weight
			}
		}
	}
	return aggregated, nil
}

// WeightedAverage averages with custom per-client weights. A nil weight map
// falls back to sample-count weighting.
type WeightedAverage struct {
	Weights map[int]float64
}

func (w *WeightedAverage) Method() models.AggregationMethod {
	return models.MethodWeightedAverage
}

func (w *WeightedAverage) Aggregate(updates []*models.ClientUpdate) (models.ModelState, error) {
	if w.Weights == nil {
		return (&FederatedAverage{}).Aggregate(updates)
	}

	totalWeight := 0.0
	for _, update := range updates {
		totalWeight += w.Weights[update.ClientID]
	}
	if totalWeight == 0 {
		return nil, fmt.Errorf("total custom weight is zero")
	}

	aggregated := make(models.ModelState, len(updates[0].Model))
	for key, tensor := range updates[0].Model {
		aggregated[key] = models.ZerosLike(tensor)
	}

	for _, update := range updates {
		weight := w.Weights[update.ClientID] / totalWeight
		for key, tensor := range update.Model {
			dst := aggregated[key].Data
			for i, v := range tensor.Data {
				dst[i] += v * weight
			}
		}
	}
	return aggregated, nil
}

// CoordinateMedian takes the per-coordinate median across clients. Robust to
// a minority of arbitrarily large outliers; ignores sample counts. Even
// counts take the lower middle element.
type CoordinateMedian struct{}

func (c *CoordinateMedian) Method() models.AggregationMethod {
	return models.MethodCoordinateMedian
}

func (c *CoordinateMedian) Aggregate(updates []*models.ClientUpdate) (models.ModelState, error) {
	aggregated := make(models.ModelState, len(updates[0].Model))
	column := make([]float64, len(updates))

	for key, tensor := range updates[0].Model {
		out := models.ZerosLike(tensor)
		for i := range tensor.Data {
			for j, update := range updates {
				column[j] = update.Model[key].Data[i]
			}
			sort.Float64s(column)
			out.Data[i] = column[(len(column)-1)/2]
		}
		aggregated[key] = out
	}
	return aggregated, nil
}

// AggregationService combines client updates into the global model, detects
// outlier contributions, and records a history entry per successful round.
type AggregationService struct {
	strategy    AggregationStrategy
	globalModel models.ModelState
	history     []*models.AggregationRound
	mu          sync.Mutex
}

func NewAggregationService(strategy AggregationStrategy) *AggregationService {
	return &AggregationService{strategy: strategy}
}

func (s *AggregationService) SetGlobalModel(model models.ModelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalModel = model
}

func (s *AggregationService) GlobalModel() models.ModelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalModel
}

// Aggregate combines updates with the configured strategy. An empty batch is
// a soft failure: the prior global model is returned unchanged. Mismatched
// layer keys or shapes abort the round.
func (s *AggregationService) Aggregate(ctx context.Context, updates []*models.ClientUpdate) (models.ModelState, error) {
	log := gologger.WithComponent("aggregation_service")

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(updates) == 0 {
		log.Warn().Msg("No client updates to aggregate, returning prior global model")
		return s.globalModel, nil
	}

	if err := validateUpdates(updates); err != nil {
		return nil, err
	}

	aggregated, err := s.strategy.Aggregate(updates)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}

	totalSamples := 0
	participantIDs := make([]int, 0, len(updates))
	for _, update := range updates {
		totalSamples += update.SampleCount
		participantIDs = append(participantIDs, update.ClientID)
	}

	round := models.NewAggregationRound(s.strategy.Method(), participantIDs, totalSamples)
	s.history = append(s.history, round)
	s.globalModel = aggregated

	log.Info().
		Str("method", string(s.strategy.Method())).
		Int("num_clients", len(updates)).
		Int("total_samples", totalSamples).
		Msg("Aggregation completed")

	return aggregated, nil
}

// AggregateMasked sums masked contributions with unit weight. Pairwise masks
// only cancel when every contribution enters the sum with the same
// coefficient, so sample counts are recorded but never weight the sum;
// clients pre-scale their updates by their averaging weight before masking.
func (s *AggregationService) AggregateMasked(ctx context.Context, updates []*models.ClientUpdate) (models.ModelState, error) {
	log := gologger.WithComponent("aggregation_service")

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(updates) == 0 {
		log.Warn().Msg("No client updates to aggregate, returning prior global model")
		return s.globalModel, nil
	}

	if err := validateUpdates(updates); err != nil {
		return nil, err
	}

	summed := make(models.ModelState, len(updates[0].Model))
	for key, tensor := range updates[0].Model {
		summed[key] = tensor.Clone()
	}
	for _, update := range updates[1:] {
		for key, tensor := range update.Model {
			dst := summed[key].Data
			for i, v := range tensor.Data {
				dst[i] += v
			}
		}
	}

	totalSamples := 0
	participantIDs := make([]int, 0, len(updates))
	for _, update := range updates {
		totalSamples += update.SampleCount
		participantIDs = append(participantIDs, update.ClientID)
	}

	round := models.NewAggregationRound(models.MethodSecureSum, participantIDs, totalSamples)
	s.history = append(s.history, round)
	s.globalModel = summed

	log.Info().
		Int("num_clients", len(updates)).
		Int("total_samples", totalSamples).
		Msg("Masked aggregation completed")

	return summed, nil
}

func validateUpdates(updates []*models.ClientUpdate) error {
	reference := updates[0].Model
	for _, update := range updates[1:] {
		if err := reference.SameStructure(update.Model); err != nil {
			return fmt.Errorf("client %d: %w", update.ClientID, err)
		}
	}
	return nil
}

// DetectOutliers flags clients whose mean cosine similarity to all other
// clients falls below threshold. Fewer than 3 updates cannot be judged
// robustly and yield an empty set.
func (s *AggregationService) DetectOutliers(updates []*models.ClientUpdate, threshold float64) ([]int, error) {
	if len(updates) < 3 {
		return nil, nil
	}

	log := gologger.WithComponent("aggregation_service")

	n := len(updates)
	similarities := make([][]float64, n)
	for i := range similarities {
		similarities[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim, err := models.CosineSimilarity(updates[i].Model, updates[j].Model)
			if err != nil {
				return nil, err
			}
			similarities[i][j] = sim
			similarities[j][i] = sim
		}
	}

	var outliers []int
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			if j != i {
				sum += similarities[i][j]
			}
		}
		avg := sum / float64(n-1)
		if avg < threshold {
			outliers = append(outliers, i)
			log.Warn().
				Int("client_id", updates[i].ClientID).
				Float64("avg_similarity", avg).
				Msg("Client flagged as outlier")
		}
	}
	return outliers, nil
}

// FilterOutliers removes flagged clients, preserving the relative order of
// the remainder.
func (s *AggregationService) FilterOutliers(updates []*models.ClientUpdate, threshold float64) ([]*models.ClientUpdate, error) {
	outliers, err := s.DetectOutliers(updates, threshold)
	if err != nil {
		return nil, err
	}
	if len(outliers) == 0 {
		return updates, nil
	}

	flagged := make(map[int]bool, len(outliers))
	for _, idx := range outliers {
		flagged[idx] = true
	}

	filtered := make([]*models.ClientUpdate, 0, len(updates)-len(outliers))
	for i, update := range updates {
		if !flagged[i] {
			filtered = append(filtered, update)
		}
	}

	log := gologger.WithComponent("aggregation_service")
	log.Info().
		Int("filtered", len(outliers)).
		Int("remaining", len(filtered)).
		Msg("Filtered outlier clients")

	return filtered, nil
}

// ComputeMetrics summarizes one aggregation: the summed per-layer L2 norm of
// the model delta and the mean pairwise client diversity (1 - cosine).
func (s *AggregationService) ComputeMetrics(oldModel, newModel models.ModelState, updates []*models.ClientUpdate) (*models.AggregationMetrics, error) {
	if err := oldModel.SameStructure(newModel); err != nil {
		return nil, err
	}

	changeMagnitude := 0.0
	for key, oldTensor := range oldModel {
		sum := 0.0
		for i, v := range oldTensor.Data {
			diff := newModel[key].Data[i] - v
			sum += diff * diff
		}
		changeMagnitude += math.Sqrt(sum)
	}

	avgDiversity := 0.0
	if len(updates) > 1 {
		total, pairs := 0.0, 0
		for i := 0; i < len(updates); i++ {
			for j := i + 1; j < len(updates); j++ {
				sim, err := models.CosineSimilarity(updates[i].Model, updates[j].Model)
				if err != nil {
					return nil, err
				}
				total += 1.0 - sim
				pairs++
			}
		}
		avgDiversity = total / float64(pairs)
	}

	return &models.AggregationMetrics{
		ChangeMagnitude:    changeMagnitude,
		AvgClientDiversity: avgDiversity,
		NumClients:         len(updates),
	}, nil
}

// LastRound returns the most recent history record, or nil before the first
// aggregation.
func (s *AggregationService) LastRound() *models.AggregationRound {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return nil
	}
	return s.history[len(s.history)-1]
}

// History returns a copy of the in-memory aggregation history.
func (s *AggregationService) History() []*models.AggregationRound {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]*models.AggregationRound, len(s.history))
	copy(history, s.history)
	return history
}
