package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

// WebhookNotaryService posts a signed-round receipt to an external webhook
// after every saved round. Ledger anchoring, if any, lives behind that
// endpoint.
type WebhookNotaryService struct {
	webhookURL string
	httpClient *http.Client
}

func NewWebhookNotaryService(webhookURL string) *WebhookNotaryService {
	return &WebhookNotaryService{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type roundNotarization struct {
	Epoch       int                    `json:"epoch"`
	ModelHash   string                 `json:"model_hash"`
	Receipts    []models.ClientReceipt `json:"receipts"`
	NotarizedAt time.Time              `json:"notarized_at"`
}

func (s *WebhookNotaryService) NotarizeRound(ctx context.Context, epoch int, modelHash string, receipts []models.ClientReceipt) error {
	log := gologger.WithComponent("notary")

	payload, err := json.Marshal(roundNotarization{
		Epoch:       epoch,
		ModelHash:   modelHash,
		Receipts:    receipts,
		NotarizedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize notarization: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notary webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notary webhook returned %d: %s", resp.StatusCode, string(body))
	}

	log.Info().
		Int("epoch", epoch).
		Str("model_hash", modelHash).
		Int("receipts", len(receipts)).
		Msg("Round notarized")

	return nil
}
