package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/internal/core/ports"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

const (
	registryFileName   = "version_registry.json"
	versionTimeLayout  = "20060102_150405"
	mirrorLocatorField = "mirror_locator"
)

// ModelVersionService stores model snapshots as JSON blobs under a storage
// directory and tracks them in an on-disk registry. Every mutation rewrites
// the registry atomically so a crash never leaves a half-written index.
type ModelVersionService struct {
	storageDir     string
	mirror         ports.CheckpointStore
	versions       map[string]*models.ModelVersion
	versionHistory []string
	mu             sync.Mutex
}

func NewModelVersionService(storageDir string) (*ModelVersionService, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &ModelVersionService{
		storageDir: storageDir,
		versions:   make(map[string]*models.ModelVersion),
	}
	if err := s.loadRegistry(); err != nil {
		return nil, fmt.Errorf("failed to load version registry: %w", err)
	}
	return s, nil
}

// SetMirror wires an optional remote checkpoint mirror. Mirror failures are
// logged and never fail a save.
func (s *ModelVersionService) SetMirror(mirror ports.CheckpointStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = mirror
}

func (s *ModelVersionService) SaveVersion(ctx context.Context, model models.ModelState, epoch int, metrics map[string]float64, metadata map[string]interface{}) (*models.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveVersionLocked(ctx, model, epoch, metrics, metadata)
}

func (s *ModelVersionService) saveVersionLocked(ctx context.Context, model models.ModelState, epoch int, metrics map[string]float64, metadata map[string]interface{}) (*models.ModelVersion, error) {
	log := gologger.WithComponent("version_service")

	base := fmt.Sprintf("v%d_%s", epoch, time.Now().Format(versionTimeLayout))
	versionID := base
	// Seconds-resolution ids can collide when saves land within the same
	// second; disambiguate with a numeric suffix.
	for suffix := 1; ; suffix++ {
		if _, exists := s.versions[versionID]; !exists {
			break
		}
		versionID = fmt.Sprintf("%s_%d", base, suffix)
	}

	data, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize model: %w", err)
	}

	modelPath := filepath.Join(s.storageDir, versionID+".json")
	if err := writeFileAtomic(modelPath, data); err != nil {
		return nil, fmt.Errorf("failed to write model blob: %w", err)
	}

	metricsCopy := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		metricsCopy[k] = v
	}
	metadataCopy := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		metadataCopy[k] = v
	}

	version := &models.ModelVersion{
		VersionID: versionID,
		Epoch:     epoch,
		ModelHash: model.Hash(),
		ModelPath: modelPath,
		Metrics:   metricsCopy,
		Metadata:  metadataCopy,
		CreatedAt: time.Now().UTC(),
	}

	if s.mirror != nil {
		locator, err := s.mirror.UploadCheckpoint(ctx, data, versionID)
		if err != nil {
			log.Warn().Err(err).Str("version_id", versionID).Msg("Checkpoint mirror upload failed")
		} else {
			version.Metadata[mirrorLocatorField] = locator
		}
	}

	s.versions[versionID] = version
	s.versionHistory = append(s.versionHistory, versionID)

	if err := s.saveRegistryLocked(); err != nil {
		delete(s.versions, versionID)
		s.versionHistory = s.versionHistory[:len(s.versionHistory)-1]
		if removeErr := os.Remove(modelPath); removeErr != nil {
			log.Warn().Err(removeErr).Str("path", modelPath).Msg("Failed to remove orphaned model blob")
		}
		return nil, fmt.Errorf("failed to persist registry: %w", err)
	}

	log.Info().
		Str("version_id", versionID).
		Int("epoch", epoch).
		Str("model_hash", version.ModelHash).
		Msg("Saved model version")

	return version, nil
}

// LoadVersion reads a stored model and verifies its content hash against the
// registry entry before returning it.
func (s *ModelVersionService) LoadVersion(ctx context.Context, versionID string) (models.ModelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadVersionLocked(versionID)
}

func (s *ModelVersionService) loadVersionLocked(versionID string) (models.ModelState, error) {
	version, ok := s.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}

	data, err := os.ReadFile(version.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model blob: %w", err)
	}

	var model models.ModelState
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to deserialize model: %w", err)
	}

	if hash := model.Hash(); hash != version.ModelHash {
		return nil, fmt.Errorf("model integrity check failed for %s: stored %s, computed %s", versionID, version.ModelHash, hash)
	}
	return model, nil
}

func (s *ModelVersionService) GetLatestVersion() *models.ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versionHistory) == 0 {
		return nil
	}
	return s.versions[s.versionHistory[len(s.versionHistory)-1]]
}

func (s *ModelVersionService) GetVersionInfo(versionID string) (*models.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	return version, nil
}

// ListVersions returns all versions in save order.
func (s *ModelVersionService) ListVersions() []*models.ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := make([]*models.ModelVersion, 0, len(s.versionHistory))
	for _, id := range s.versionHistory {
		versions = append(versions, s.versions[id])
	}
	return versions
}

// GetBestVersion returns the version with the best value for a metric.
// Loss is minimized; every other metric is maximized. Versions missing the
// metric are skipped; nil if nothing carries it.
func (s *ModelVersionService) GetBestVersion(metric string) *models.ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()

	minimize := metric == "loss"
	var best *models.ModelVersion
	var bestValue float64

	for _, id := range s.versionHistory {
		version := s.versions[id]
		value, ok := version.Metrics[metric]
		if !ok {
			continue
		}
		if best == nil || (minimize && value < bestValue) || (!minimize && value > bestValue) {
			best = version
			bestValue = value
		}
	}
	return best
}

func (s *ModelVersionService) CompareVersions(version1, version2 string) (*models.VersionComparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v1, ok := s.versions[version1]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version1)
	}
	v2, ok := s.versions[version2]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version2)
	}

	metricsDiff := make(map[string]float64)
	for name, value1 := range v1.Metrics {
		if value2, ok := v2.Metrics[name]; ok {
			metricsDiff[name] = value2 - value1
		}
	}

	return &models.VersionComparison{
		Version1:    version1,
		Version2:    version2,
		MetricsDiff: metricsDiff,
		EpochDiff:   v2.Epoch - v1.Epoch,
		SameHash:    v1.ModelHash == v2.ModelHash,
	}, nil
}

// RollbackToVersion re-saves an older model as a new version rather than
// deleting anything newer, so the full history stays intact.
func (s *ModelVersionService) RollbackToVersion(ctx context.Context, versionID string) (*models.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}

	model, err := s.loadVersionLocked(versionID)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]interface{}, len(target.Metadata)+2)
	for k, v := range target.Metadata {
		metadata[k] = v
	}
	metadata["rollback_from"] = versionID
	metadata["rollback_at"] = time.Now().UTC().Format(time.RFC3339)

	version, err := s.saveVersionLocked(ctx, model, target.Epoch, target.Metrics, metadata)
	if err != nil {
		return nil, fmt.Errorf("rollback save failed: %w", err)
	}

	log := gologger.WithComponent("version_service")
	log.Info().
		Str("rolled_back_to", versionID).
		Str("new_version_id", version.VersionID).
		Msg("Rolled back model version")

	return version, nil
}

// CleanupOldVersions removes all but the keepLastN most recent versions,
// deleting their blobs and mirror copies.
func (s *ModelVersionService) CleanupOldVersions(ctx context.Context, keepLastN int) error {
	if keepLastN < 0 {
		return fmt.Errorf("keepLastN must be non-negative, got %d", keepLastN)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.versionHistory) <= keepLastN {
		return nil
	}

	log := gologger.WithComponent("version_service")
	removeCount := len(s.versionHistory) - keepLastN
	removed := s.versionHistory[:removeCount]
	kept := s.versionHistory[removeCount:]

	for _, id := range removed {
		version := s.versions[id]
		if err := os.Remove(version.ModelPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("version_id", id).Msg("Failed to remove model blob")
		}
		if s.mirror != nil {
			if locator, ok := version.Metadata[mirrorLocatorField].(string); ok {
				if err := s.mirror.DeleteCheckpoint(ctx, locator); err != nil {
					log.Warn().Err(err).Str("version_id", id).Msg("Failed to delete mirrored checkpoint")
				}
			}
		}
		delete(s.versions, id)
	}

	s.versionHistory = make([]string, len(kept))
	copy(s.versionHistory, kept)

	if err := s.saveRegistryLocked(); err != nil {
		return fmt.Errorf("failed to persist registry after cleanup: %w", err)
	}

	log.Info().
		Int("removed", removeCount).
		Int("kept", len(kept)).
		Msg("Cleaned up old model versions")

	return nil
}

// ExportVersionReport writes a JSON summary of the registry to path.
func (s *ModelVersionService) ExportVersionReport(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := struct {
		TotalVersions  int                    `json:"total_versions"`
		Versions       []*models.ModelVersion `json:"versions"`
		BestByAccuracy *models.ModelVersion   `json:"best_by_accuracy,omitempty"`
		BestByLoss     *models.ModelVersion   `json:"best_by_loss,omitempty"`
		Latest         *models.ModelVersion   `json:"latest,omitempty"`
	}{
		TotalVersions: len(s.versionHistory),
	}
	for _, id := range s.versionHistory {
		report.Versions = append(report.Versions, s.versions[id])
	}
	if len(s.versionHistory) > 0 {
		report.Latest = s.versions[s.versionHistory[len(s.versionHistory)-1]]
	}

	// Best lookups without re-locking.
	for _, metric := range []string{"accuracy", "loss"} {
		minimize := metric == "loss"
		var best *models.ModelVersion
		var bestValue float64
		for _, id := range s.versionHistory {
			version := s.versions[id]
			value, ok := version.Metrics[metric]
			if !ok {
				continue
			}
			if best == nil || (minimize && value < bestValue) || (!minimize && value > bestValue) {
				best = version
				bestValue = value
			}
		}
		if metric == "accuracy" {
			report.BestByAccuracy = best
		} else {
			report.BestByLoss = best
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize version report: %w", err)
	}
	return writeFileAtomic(path, data)
}

func (s *ModelVersionService) saveRegistryLocked() error {
	history := s.versionHistory
	if history == nil {
		history = []string{}
	}
	registry := models.VersionRegistry{
		Versions:       s.versions,
		VersionHistory: history,
	}

	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize registry: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.storageDir, registryFileName), data)
}

func (s *ModelVersionService) loadRegistry() error {
	data, err := os.ReadFile(filepath.Join(s.storageDir, registryFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var registry models.VersionRegistry
	if err := json.Unmarshal(data, &registry); err != nil {
		return fmt.Errorf("failed to parse registry: %w", err)
	}

	if registry.Versions != nil {
		s.versions = registry.Versions
	}
	s.versionHistory = registry.VersionHistory

	log := gologger.WithComponent("version_service")
	log.Info().
		Int("versions", len(s.versionHistory)).
		Msg("Loaded version registry")

	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
