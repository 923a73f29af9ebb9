package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AggregationMethod string

const (
	MethodFederatedAverage AggregationMethod = "federated_average"
	MethodWeightedAverage  AggregationMethod = "weighted_average"
	MethodCoordinateMedian AggregationMethod = "coordinate_median"

	// MethodSecureSum labels history records of secure rounds, where masked
	// contributions are summed with unit weight. It is not configurable.
	MethodSecureSum AggregationMethod = "secure_sum"
)

// ClientUpdate is one participant's contribution to an aggregation round.
// SampleCount is the numerator of the client's averaging weight.
// CommitmentHash, when present, is the hash the client published before
// revealing the update.
type ClientUpdate struct {
	ClientID       int        `json:"client_id"`
	Model          ModelState `json:"model"`
	SampleCount    int        `json:"sample_count"`
	CommitmentHash string     `json:"commitment_hash,omitempty"`
}

type ParticipantList []int

// Value implements the driver.Valuer interface for GORM
func (p ParticipantList) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface for GORM
func (p *ParticipantList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ParticipantList", value)
	}
	return json.Unmarshal(bytes, p)
}

type AggregationMetrics struct {
	ChangeMagnitude    float64 `json:"change_magnitude"`
	AvgClientDiversity float64 `json:"avg_client_diversity"`
	NumClients         int     `json:"num_clients"`
}

// Value implements the driver.Valuer interface for GORM
func (m AggregationMetrics) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for GORM
func (m *AggregationMetrics) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into AggregationMetrics", value)
	}
	return json.Unmarshal(bytes, m)
}

// AggregationRound records one aggregation invocation for observability.
type AggregationRound struct {
	ID             uuid.UUID           `json:"id" gorm:"type:uuid;primaryKey"`
	Method         string              `json:"method" gorm:"type:varchar(50);not null"`
	NumClients     int                 `json:"num_clients" gorm:"not null"`
	TotalSamples   int                 `json:"total_samples" gorm:"not null"`
	ParticipantIDs ParticipantList     `json:"participant_ids" gorm:"type:jsonb"`
	Metrics        *AggregationMetrics `json:"metrics,omitempty" gorm:"type:jsonb"`
	VersionID      string              `json:"version_id,omitempty" gorm:"type:varchar(255)"`
	CreatedAt      time.Time           `json:"created_at" gorm:"type:timestamp"`
}

func NewAggregationRound(method AggregationMethod, participantIDs []int, totalSamples int) *AggregationRound {
	return &AggregationRound{
		ID:             uuid.New(),
		Method:         string(method),
		NumClients:     len(participantIDs),
		TotalSamples:   totalSamples,
		ParticipantIDs: ParticipantList(participantIDs),
		CreatedAt:      time.Now(),
	}
}

// ModelVersion is an immutable snapshot of an aggregated model. VersionID
// follows v{epoch}_{YYYYMMDD_HHMMSS}; ModelHash is the content hash of the
// stored model.
type ModelVersion struct {
	VersionID string                 `json:"version"`
	Epoch     int                    `json:"epoch"`
	ModelHash string                 `json:"model_hash"`
	ModelPath string                 `json:"model_path"`
	Metrics   map[string]float64     `json:"metrics"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
}

// VersionRegistry is the on-disk index of all versions. VersionHistory is
// append-only and defines recency.
type VersionRegistry struct {
	Versions       map[string]*ModelVersion `json:"versions"`
	VersionHistory []string                 `json:"version_history"`
}

type VersionComparison struct {
	Version1    string             `json:"version1"`
	Version2    string             `json:"version2"`
	EpochDiff   int                `json:"epoch_diff"`
	MetricsDiff map[string]float64 `json:"metrics_diff"`
	SameHash    bool               `json:"same_hash"`
}

// ClientReceipt is forwarded to the notarization sink after a successful
// round save.
type ClientReceipt struct {
	ClientID       int    `json:"client_id"`
	SampleCount    int    `json:"sample_count"`
	CommitmentHash string `json:"commitment_hash,omitempty"`
	Verified       bool   `json:"verified"`
}
