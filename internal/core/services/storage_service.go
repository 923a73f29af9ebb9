package services

import (
	"fmt"

	"github.com/sentinelmesh/fedagg/internal/core/config"
	"github.com/sentinelmesh/fedagg/internal/core/ports"
)

// NewCheckpointStore selects the remote checkpoint backend from config.
// An empty backend means local-only storage; nil, nil is returned.
func NewCheckpointStore(cfg *config.Config) (ports.CheckpointStore, error) {
	switch cfg.Federation.CheckpointBackend {
	case "":
		return nil, nil
	case "s3":
		return NewS3Service(cfg)
	case "ipfs":
		return NewIPFSService(cfg)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %q", cfg.Federation.CheckpointBackend)
	}
}
