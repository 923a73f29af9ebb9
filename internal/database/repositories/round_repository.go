package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/internal/core/ports"
)

type AggregationRoundRepository struct {
	db *gorm.DB
}

func NewAggregationRoundRepository(db *gorm.DB) ports.AggregationRoundRepository {
	return &AggregationRoundRepository{
		db: db,
	}
}

func (r *AggregationRoundRepository) Create(ctx context.Context, round *models.AggregationRound) error {
	return r.db.WithContext(ctx).Create(round).Error
}

// List returns the most recent rounds in chronological order.
func (r *AggregationRoundRepository) List(ctx context.Context, limit int) ([]*models.AggregationRound, error) {
	var rounds []*models.AggregationRound
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rounds).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(rounds)-1; i < j; i, j = i+1, j-1 {
		rounds[i], rounds[j] = rounds[j], rounds[i]
	}
	return rounds, nil
}
