package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sentinelmesh/fedagg/internal/core/config"
	"github.com/sentinelmesh/fedagg/internal/core/services"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

func newVersionService() (*services.ModelVersionService, error) {
	cfg, err := config.GetConfigManager().GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return services.NewModelVersionService(cfg.Federation.CheckpointDir)
}

// RunListVersions prints the version registry as a table.
func RunListVersions() {
	log := gologger.Get()

	versionService, err := newVersionService()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open version store")
	}

	versions := versionService.ListVersions()
	if len(versions) == 0 {
		fmt.Println("No model versions saved yet")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tEPOCH\tHASH\tCREATED")
	for _, v := range versions {
		fmt.Fprintf(w, "%s\t%d\t%.12s\t%s\n", v.VersionID, v.Epoch, v.ModelHash, v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

// RunRollback re-saves the given version as the newest one.
func RunRollback(versionID string) {
	log := gologger.Get()

	versionService, err := newVersionService()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open version store")
	}

	version, err := versionService.RollbackToVersion(context.Background(), versionID)
	if err != nil {
		log.Fatal().Err(err).Str("version_id", versionID).Msg("Rollback failed")
	}

	fmt.Printf("Rolled back to %s as new version %s\n", versionID, version.VersionID)
}

// RunCleanup prunes the registry down to keepLastN versions.
func RunCleanup(keepLastN int) {
	log := gologger.Get()

	versionService, err := newVersionService()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open version store")
	}

	before := len(versionService.ListVersions())
	if err := versionService.CleanupOldVersions(context.Background(), keepLastN); err != nil {
		log.Fatal().Err(err).Msg("Cleanup failed")
	}
	after := len(versionService.ListVersions())

	fmt.Printf("Removed %d versions, %d kept\n", before-after, after)
}

// RunExportReport writes a JSON summary of the version registry.
func RunExportReport(path string) {
	log := gologger.Get()

	versionService, err := newVersionService()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open version store")
	}

	if err := versionService.ExportVersionReport(path); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to export version report")
	}

	fmt.Printf("Version report written to %s\n", path)
}
