package services

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var versionIDPattern = regexp.MustCompile(`^v\d+_\d{8}_\d{6}(_\d+)?$`)

func newTestVersionService(t *testing.T) *ModelVersionService {
	t.Helper()
	svc, err := NewModelVersionService(t.TempDir())
	require.NoError(t, err)
	return svc
}

func TestSaveAndLoadVersionRoundTrip(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	model := testGradients(1.5, -2.25, 0.0, 42.0)
	version, err := svc.SaveVersion(ctx, model, 3, map[string]float64{"accuracy": 0.9}, nil)
	require.NoError(t, err)

	assert.Regexp(t, versionIDPattern, version.VersionID)
	assert.Equal(t, 3, version.Epoch)
	assert.Equal(t, model.Hash(), version.ModelHash)

	loaded, err := svc.LoadVersion(ctx, version.VersionID)
	require.NoError(t, err)
	assert.Equal(t, model.Hash(), loaded.Hash())
	assert.Equal(t, model["layer"].Data, loaded["layer"].Data)
}

func TestLoadVersionNotFound(t *testing.T) {
	svc := newTestVersionService(t)

	_, err := svc.LoadVersion(context.Background(), "v99_20200101_000000")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestLoadVersionDetectsTampering(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	version, err := svc.SaveVersion(ctx, testGradients(1, 2), 1, nil, nil)
	require.NoError(t, err)

	tamperedJSON := `{"layer":{"shape":[2],"data":[1,3]}}`
	require.NoError(t, os.WriteFile(version.ModelPath, []byte(tamperedJSON), 0o644))

	_, err = svc.LoadVersion(ctx, version.VersionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity")
}

func TestVersionIDCollisionGetsSuffix(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	// Same epoch saved back to back usually lands in the same second.
	v1, err := svc.SaveVersion(ctx, testGradients(1), 5, nil, nil)
	require.NoError(t, err)
	v2, err := svc.SaveVersion(ctx, testGradients(2), 5, nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, v1.VersionID, v2.VersionID)
	assert.Regexp(t, versionIDPattern, v2.VersionID)
}

func TestGetLatestAndListVersions(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	assert.Nil(t, svc.GetLatestVersion())
	assert.Empty(t, svc.ListVersions())

	var lastID string
	for epoch := 1; epoch <= 3; epoch++ {
		v, err := svc.SaveVersion(ctx, testGradients(float64(epoch)), epoch, nil, nil)
		require.NoError(t, err)
		lastID = v.VersionID
	}

	latest := svc.GetLatestVersion()
	require.NotNil(t, latest)
	assert.Equal(t, lastID, latest.VersionID)

	listed := svc.ListVersions()
	require.Len(t, listed, 3)
	assert.Equal(t, 1, listed[0].Epoch)
	assert.Equal(t, 3, listed[2].Epoch)
}

func TestGetBestVersion(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	_, err := svc.SaveVersion(ctx, testGradients(1), 1, map[string]float64{"accuracy": 0.7, "loss": 0.5}, nil)
	require.NoError(t, err)
	best, err := svc.SaveVersion(ctx, testGradients(2), 2, map[string]float64{"accuracy": 0.9, "loss": 0.2}, nil)
	require.NoError(t, err)
	_, err = svc.SaveVersion(ctx, testGradients(3), 3, map[string]float64{"accuracy": 0.8, "loss": 0.3}, nil)
	require.NoError(t, err)

	byAccuracy := svc.GetBestVersion("accuracy")
	require.NotNil(t, byAccuracy)
	assert.Equal(t, best.VersionID, byAccuracy.VersionID)

	byLoss := svc.GetBestVersion("loss")
	require.NotNil(t, byLoss)
	assert.Equal(t, best.VersionID, byLoss.VersionID, "loss is minimized")

	assert.Nil(t, svc.GetBestVersion("f1"))
}

func TestCompareVersions(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	v1, err := svc.SaveVersion(ctx, testGradients(1), 1, map[string]float64{"accuracy": 0.7}, nil)
	require.NoError(t, err)
	v2, err := svc.SaveVersion(ctx, testGradients(2), 4, map[string]float64{"accuracy": 0.9, "loss": 0.1}, nil)
	require.NoError(t, err)

	cmp, err := svc.CompareVersions(v1.VersionID, v2.VersionID)
	require.NoError(t, err)
	assert.Equal(t, 3, cmp.EpochDiff)
	assert.InDelta(t, 0.2, cmp.MetricsDiff["accuracy"], 1e-12)
	_, hasLoss := cmp.MetricsDiff["loss"]
	assert.False(t, hasLoss, "only shared metrics are compared")
	assert.False(t, cmp.SameHash)

	_, err = svc.CompareVersions(v1.VersionID, "v9_20200101_000000")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRollbackIsAdditive(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	old, err := svc.SaveVersion(ctx, testGradients(1, 2), 1, map[string]float64{"accuracy": 0.9}, nil)
	require.NoError(t, err)
	_, err = svc.SaveVersion(ctx, testGradients(9, 9), 2, map[string]float64{"accuracy": 0.4}, nil)
	require.NoError(t, err)

	rolled, err := svc.RollbackToVersion(ctx, old.VersionID)
	require.NoError(t, err)

	assert.Len(t, svc.ListVersions(), 3, "rollback must not delete history")
	assert.Equal(t, old.ModelHash, rolled.ModelHash)
	assert.Equal(t, old.Epoch, rolled.Epoch)
	assert.Equal(t, old.VersionID, rolled.Metadata["rollback_from"])

	latest := svc.GetLatestVersion()
	assert.Equal(t, rolled.VersionID, latest.VersionID)

	_, err = svc.RollbackToVersion(ctx, "v9_20200101_000000")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestCleanupOldVersions(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	paths := make([]string, 0, 15)
	for epoch := 1; epoch <= 15; epoch++ {
		v, err := svc.SaveVersion(ctx, testGradients(float64(epoch)), epoch, nil, nil)
		require.NoError(t, err)
		paths = append(paths, v.ModelPath)
	}

	require.NoError(t, svc.CleanupOldVersions(ctx, 10))

	remaining := svc.ListVersions()
	require.Len(t, remaining, 10)
	assert.Equal(t, 6, remaining[0].Epoch, "oldest surviving version")
	assert.Equal(t, 15, remaining[9].Epoch)

	for _, path := range paths[:5] {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "removed blob must be deleted: %s", path)
	}
	for _, path := range paths[5:] {
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}

	// Already at or below the retention count: no-op.
	require.NoError(t, svc.CleanupOldVersions(ctx, 10))
	assert.Len(t, svc.ListVersions(), 10)

	assert.Error(t, svc.CleanupOldVersions(ctx, -1))
}

func TestRegistrySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewModelVersionService(dir)
	require.NoError(t, err)
	saved, err := first.SaveVersion(ctx, testGradients(3, 1, 4), 7, map[string]float64{"loss": 0.15}, nil)
	require.NoError(t, err)

	second, err := NewModelVersionService(dir)
	require.NoError(t, err)

	latest := second.GetLatestVersion()
	require.NotNil(t, latest)
	assert.Equal(t, saved.VersionID, latest.VersionID)

	loaded, err := second.LoadVersion(ctx, saved.VersionID)
	require.NoError(t, err)
	assert.Equal(t, saved.ModelHash, loaded.Hash())

	_, err = os.Stat(filepath.Join(dir, registryFileName))
	assert.NoError(t, err)
}

func TestExportVersionReport(t *testing.T) {
	svc := newTestVersionService(t)
	ctx := context.Background()

	_, err := svc.SaveVersion(ctx, testGradients(1), 1, map[string]float64{"accuracy": 0.8, "loss": 0.4}, nil)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, svc.ExportVersionReport(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_versions": 1`)
}
