package ports

import (
	"context"

	"github.com/sentinelmesh/fedagg/internal/core/models"
)

// AggregationRoundRepository persists the aggregation history.
type AggregationRoundRepository interface {
	Create(ctx context.Context, round *models.AggregationRound) error
	List(ctx context.Context, limit int) ([]*models.AggregationRound, error)
}

// CheckpointStore mirrors model checkpoints to remote blob storage.
type CheckpointStore interface {
	UploadCheckpoint(ctx context.Context, data []byte, versionID string) (string, error)
	DeleteCheckpoint(ctx context.Context, locator string) error
}

// NotarySink receives a receipt after every successful round save. Ledger
// anchoring happens downstream of this boundary.
type NotarySink interface {
	NotarizeRound(ctx context.Context, epoch int, modelHash string, receipts []models.ClientReceipt) error
}

// VersionStore is the durable, append-only model version registry.
type VersionStore interface {
	SaveVersion(ctx context.Context, model models.ModelState, epoch int, metrics map[string]float64, metadata map[string]interface{}) (*models.ModelVersion, error)
	LoadVersion(ctx context.Context, versionID string) (models.ModelState, error)
	GetLatestVersion() *models.ModelVersion
	GetVersionInfo(versionID string) (*models.ModelVersion, error)
	ListVersions() []*models.ModelVersion
	GetBestVersion(metric string) *models.ModelVersion
	CompareVersions(version1, version2 string) (*models.VersionComparison, error)
	RollbackToVersion(ctx context.Context, versionID string) (*models.ModelVersion, error)
	CleanupOldVersions(ctx context.Context, keepLastN int) error
}
