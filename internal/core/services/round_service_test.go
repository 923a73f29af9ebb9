package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/fedagg/internal/core/config"
	"github.com/sentinelmesh/fedagg/internal/core/models"
)

type fakeRoundRepo struct {
	rounds []*models.AggregationRound
}

func (r *fakeRoundRepo) Create(ctx context.Context, round *models.AggregationRound) error {
	r.rounds = append(r.rounds, round)
	return nil
}

func (r *fakeRoundRepo) List(ctx context.Context, limit int) ([]*models.AggregationRound, error) {
	if limit > 0 && len(r.rounds) > limit {
		return r.rounds[len(r.rounds)-limit:], nil
	}
	return r.rounds, nil
}

type fakeNotary struct {
	epochs   []int
	hashes   []string
	receipts [][]models.ClientReceipt
}

func (n *fakeNotary) NotarizeRound(ctx context.Context, epoch int, modelHash string, receipts []models.ClientReceipt) error {
	n.epochs = append(n.epochs, epoch)
	n.hashes = append(n.hashes, modelHash)
	n.receipts = append(n.receipts, receipts)
	return nil
}

func newRoundService(t *testing.T, cfg config.FederationConfig) (*FederatedRoundService, *SecureAggregationService, *fakeRoundRepo, *fakeNotary) {
	t.Helper()

	strategy, err := StrategyForMethod(models.AggregationMethod(cfg.AggregationMethod))
	require.NoError(t, err)

	versionService, err := NewModelVersionService(t.TempDir())
	require.NoError(t, err)

	var secureAgg *SecureAggregationService
	if cfg.SecureAggregation {
		secureAgg = NewSecureAggregationService()
	}

	var privacy *DifferentialPrivacyService
	if cfg.DifferentialPrivacy {
		privacy, err = NewDifferentialPrivacyService(cfg.Epsilon, cfg.Delta)
		require.NoError(t, err)
	}

	svc := NewFederatedRoundService(cfg, NewAggregationService(strategy), secureAgg, privacy, versionService)
	repo := &fakeRoundRepo{}
	notary := &fakeNotary{}
	svc.SetRoundRepository(repo)
	svc.SetNotarySink(notary)
	return svc, secureAgg, repo, notary
}

func baseConfig() config.FederationConfig {
	return config.FederationConfig{
		AggregationMethod: "federated_average",
		OutlierThreshold:  0.3,
		ClipNorm:          1.0,
		Epsilon:           1.0,
		Delta:             1e-5,
	}
}

func TestRunRoundEndToEnd(t *testing.T) {
	svc, _, repo, notary := newRoundService(t, baseConfig())
	ctx := context.Background()

	updates := []*models.ClientUpdate{
		update(0, 100, 1.0, 2.0),
		update(1, 100, 3.0, 4.0),
		update(2, 100, 5.0, 6.0),
	}

	version, err := svc.RunRound(ctx, 1, updates, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, version.Epoch)
	assert.Equal(t, 3.0, version.Metrics["num_clients"])

	require.Len(t, repo.rounds, 1)
	assert.Equal(t, version.VersionID, repo.rounds[0].VersionID)
	assert.Equal(t, 3, repo.rounds[0].NumClients)

	require.Len(t, notary.epochs, 1)
	assert.Equal(t, 1, notary.epochs[0])
	assert.Equal(t, version.ModelHash, notary.hashes[0])
	assert.Len(t, notary.receipts[0], 3)

	// Second round against the updated global model records change metrics.
	version2, err := svc.RunRound(ctx, 2, updates, nil)
	require.NoError(t, err)
	assert.Contains(t, version2.Metrics, "change_magnitude")
	assert.Contains(t, version2.Metrics, "avg_client_diversity")
}

func TestRunRoundNoUpdates(t *testing.T) {
	svc, _, _, _ := newRoundService(t, baseConfig())

	_, err := svc.RunRound(context.Background(), 1, nil, nil)
	assert.Error(t, err)
}

func TestRunRoundSecureRejectsPartialParticipation(t *testing.T) {
	cfg := baseConfig()
	cfg.SecureAggregation = true
	svc, _, _, _ := newRoundService(t, cfg)

	updates := []*models.ClientUpdate{
		update(0, 10, 1.0),
		update(1, 10, 2.0),
	}

	_, err := svc.RunRound(context.Background(), 1, updates, []int{0, 1, 2})
	assert.ErrorIs(t, err, ErrPartialParticipation)
}

func TestRunRoundSecureFullParticipation(t *testing.T) {
	cfg := baseConfig()
	cfg.SecureAggregation = true
	svc, _, _, _ := newRoundService(t, cfg)

	updates := []*models.ClientUpdate{
		update(0, 10, 1.0),
		update(1, 10, 3.0),
	}

	version, err := svc.RunRound(context.Background(), 1, updates, []int{1, 0})
	require.NoError(t, err)
	assert.NotEmpty(t, version.VersionID)
}

func TestRunRoundSecureRecoversWeightedAggregate(t *testing.T) {
	cfg := baseConfig()
	cfg.SecureAggregation = true

	strategy, err := StrategyForMethod(models.AggregationMethod(cfg.AggregationMethod))
	require.NoError(t, err)
	versionService, err := NewModelVersionService(t.TempDir())
	require.NoError(t, err)
	secureAgg := NewSecureAggregationService()
	svc := NewFederatedRoundService(cfg, NewAggregationService(strategy), secureAgg, nil, versionService)

	// Clients hold 10 and 30 samples, so they pre-scale their raw updates
	// (0.0 and 10.0) by weights 0.25 and 0.75 before masking. The weighted
	// average 7.5 must survive masking even though the counts differ.
	clients := []int{0, 1}
	scaled0 := testGradients(0.25 * 0.0)
	scaled1 := testGradients(0.75 * 10.0)

	masked0, err := secureAgg.MaskModel(0, scaled0, clients)
	require.NoError(t, err)
	masked1, err := secureAgg.MaskModel(1, scaled1, clients)
	require.NoError(t, err)

	updates := []*models.ClientUpdate{
		{ClientID: 0, Model: masked0, SampleCount: 10},
		{ClientID: 1, Model: masked1, SampleCount: 30},
	}

	version, err := svc.RunRound(context.Background(), 1, updates, clients)
	require.NoError(t, err)

	recovered, err := versionService.LoadVersion(context.Background(), version.VersionID)
	require.NoError(t, err)
	require.Contains(t, recovered, "layer")
	assert.InDelta(t, 7.5, recovered["layer"].Data[0], 1e-9)
}

func TestRunRoundRejectsBadCommitment(t *testing.T) {
	cfg := baseConfig()
	cfg.SecureAggregation = true
	svc, _, _, notary := newRoundService(t, cfg)

	good := update(0, 10, 1.0)
	good.CommitmentHash = good.Model.Hash()
	good2 := update(1, 10, 3.0)
	good2.CommitmentHash = good2.Model.Hash()
	bad := update(2, 10, 100.0)
	bad.CommitmentHash = "forged"

	// The forged client drops out before the participation check, so the
	// expected set is only the verified clients.
	version, err := svc.RunRound(context.Background(), 1, []*models.ClientUpdate{good, good2, bad}, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, version.Metrics["num_clients"])

	require.Len(t, notary.receipts, 1)
	byClient := make(map[int]bool, 3)
	for _, receipt := range notary.receipts[0] {
		byClient[receipt.ClientID] = receipt.Verified
	}
	assert.True(t, byClient[0])
	assert.True(t, byClient[1])
	assert.False(t, byClient[2])
}

func TestRunRoundAllCommitmentsForgedRejectsRound(t *testing.T) {
	cfg := baseConfig()
	cfg.SecureAggregation = true

	strategy, err := StrategyForMethod(models.AggregationMethod(cfg.AggregationMethod))
	require.NoError(t, err)
	versionService, err := NewModelVersionService(t.TempDir())
	require.NoError(t, err)
	svc := NewFederatedRoundService(cfg, NewAggregationService(strategy), NewSecureAggregationService(), nil, versionService)

	bad := update(0, 10, 1.0)
	bad.CommitmentHash = "forged"
	bad2 := update(1, 10, 2.0)
	bad2.CommitmentHash = "forged"

	_, err = svc.RunRound(context.Background(), 1, []*models.ClientUpdate{bad, bad2}, nil)
	require.Error(t, err)

	assert.Empty(t, versionService.ListVersions(), "a round with no verified clients must leave the registry untouched")
}

func TestRunRoundWithDifferentialPrivacy(t *testing.T) {
	cfg := baseConfig()
	cfg.DifferentialPrivacy = true
	svc, _, _, _ := newRoundService(t, cfg)

	updates := []*models.ClientUpdate{
		update(0, 10, 1.0, 2.0),
		update(1, 10, 3.0, 4.0),
	}

	version, err := svc.RunRound(context.Background(), 1, updates, nil)
	require.NoError(t, err)

	plain := testGradients(2.0, 3.0)
	assert.NotEqual(t, plain.Hash(), version.ModelHash, "noise must perturb the aggregate")
}

func TestRoundHistoryFallsBackToMemory(t *testing.T) {
	cfg := baseConfig()
	strategy, err := StrategyForMethod(models.AggregationMethod(cfg.AggregationMethod))
	require.NoError(t, err)
	versionService, err := NewModelVersionService(t.TempDir())
	require.NoError(t, err)

	svc := NewFederatedRoundService(cfg, NewAggregationService(strategy), nil, nil, versionService)

	_, err = svc.RunRound(context.Background(), 1, []*models.ClientUpdate{
		update(0, 10, 1.0),
		update(1, 10, 2.0),
	}, nil)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].VersionID)
}
