package services

import (
	"bytes"
	"context"
	"fmt"
	"path"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/sentinelmesh/fedagg/internal/core/config"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

// IPFSService mirrors model checkpoints to an IPFS node, pinning each blob.
type IPFSService struct {
	ipfsClient *shell.Shell
	gatewayURL string
}

func NewIPFSService(cfg *config.Config) (*IPFSService, error) {
	if cfg.IPFS.Endpoint == "" {
		return nil, fmt.Errorf("ipfs endpoint must be specified")
	}

	if cfg.IPFS.GatewayURL == "" {
		return nil, fmt.Errorf("ipfs gateway URL must be specified")
	}

	return &IPFSService{
		ipfsClient: shell.NewShell(cfg.IPFS.Endpoint),
		gatewayURL: cfg.IPFS.GatewayURL,
	}, nil
}

func (f *IPFSService) UploadCheckpoint(ctx context.Context, data []byte, versionID string) (string, error) {
	log := gologger.WithComponent("ipfs")

	cid, err := f.ipfsClient.Add(bytes.NewReader(data), shell.Pin(true))
	if err != nil {
		log.Error().Err(err).
			Str("version_id", versionID).
			Msg("Failed to upload checkpoint to IPFS")
		return "", fmt.Errorf("failed to upload checkpoint to IPFS: %w", err)
	}

	locator := fmt.Sprintf("%s/ipfs/%s", f.gatewayURL, cid)

	log.Info().
		Str("version_id", versionID).
		Str("cid", cid).
		Int("size", len(data)).
		Msg("Uploaded checkpoint to IPFS")

	return locator, nil
}

func (f *IPFSService) DeleteCheckpoint(ctx context.Context, locator string) error {
	log := gologger.WithComponent("ipfs")

	cid := path.Base(locator)

	if err := f.ipfsClient.Unpin(cid); err != nil {
		log.Error().Err(err).
			Str("cid", cid).
			Msg("Failed to unpin checkpoint from IPFS")
		return fmt.Errorf("failed to unpin checkpoint: %w", err)
	}

	log.Info().
		Str("cid", cid).
		Msg("Unpinned checkpoint from IPFS")

	return nil
}
