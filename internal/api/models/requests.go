package models

import (
	"fmt"

	coremodels "github.com/sentinelmesh/fedagg/internal/core/models"
)

type TensorRequest struct {
	Shape []int     `json:"shape" binding:"required"`
	Data  []float64 `json:"data" binding:"required"`
}

type ClientUpdateRequest struct {
	ClientID       int                      `json:"client_id"`
	Model          map[string]TensorRequest `json:"model" binding:"required"`
	SampleCount    int                      `json:"sample_count"`
	CommitmentHash string                   `json:"commitment_hash,omitempty"`
}

type RunRoundRequest struct {
	Epoch           int                   `json:"epoch"`
	Updates         []ClientUpdateRequest `json:"updates" binding:"required,dive"`
	ExpectedClients []int                 `json:"expected_clients,omitempty"`
}

// ToClientUpdate validates tensor shapes and converts to the core model.
func (r *ClientUpdateRequest) ToClientUpdate() (*coremodels.ClientUpdate, error) {
	if r.SampleCount < 0 {
		return nil, fmt.Errorf("sample_count must be non-negative, got %d", r.SampleCount)
	}
	model := make(coremodels.ModelState, len(r.Model))
	for key, tensor := range r.Model {
		t, err := coremodels.NewTensor(tensor.Shape, tensor.Data)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", key, err)
		}
		model[key] = t
	}
	return &coremodels.ClientUpdate{
		ClientID:       r.ClientID,
		Model:          model,
		SampleCount:    r.SampleCount,
		CommitmentHash: r.CommitmentHash,
	}, nil
}

type RollbackRequest struct {
	VersionID string `json:"version_id" binding:"required"`
}

type CleanupRequest struct {
	KeepLastN int `json:"keep_last_n"`
}

type VersionResponse struct {
	VersionID string                 `json:"version_id"`
	Epoch     int                    `json:"epoch"`
	ModelHash string                 `json:"model_hash"`
	Metrics   map[string]float64     `json:"metrics"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt string                 `json:"created_at"`
}

func NewVersionResponse(v *coremodels.ModelVersion) VersionResponse {
	return VersionResponse{
		VersionID: v.VersionID,
		Epoch:     v.Epoch,
		ModelHash: v.ModelHash,
		Metrics:   v.Metrics,
		Metadata:  v.Metadata,
		CreatedAt: v.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type RoundResponse struct {
	ID             string                         `json:"id"`
	Method         string                         `json:"method"`
	NumClients     int                            `json:"num_clients"`
	TotalSamples   int                            `json:"total_samples"`
	ParticipantIDs []int                          `json:"participant_ids"`
	Metrics        *coremodels.AggregationMetrics `json:"metrics,omitempty"`
	VersionID      string                         `json:"version_id,omitempty"`
	CreatedAt      string                         `json:"created_at"`
}

func NewRoundResponse(r *coremodels.AggregationRound) RoundResponse {
	return RoundResponse{
		ID:             r.ID.String(),
		Method:         r.Method,
		NumClients:     r.NumClients,
		TotalSamples:   r.TotalSamples,
		ParticipantIDs: r.ParticipantIDs,
		Metrics:        r.Metrics,
		VersionID:      r.VersionID,
		CreatedAt:      r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
