package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"tally/internal/domain"
)

type WitnessAttemptRepository struct {
	db *gorm.DB
}

func NewWitnessAttemptRepository(db *gorm.DB) *WitnessAttemptRepository {
	return &WitnessAttemptRepository{db: db}
}

func (r *WitnessAttemptRepository) Append(ctx context.Context, attempt domain.WitnessAttempt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	id := attempt.ID
	if id == "" {
		id = newUUID()
	}
	attemptedAt := attempt.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}
	model := WitnessAttemptModel{
		ID:                id,
		Endpoint:          attempt.Endpoint,
		Status:            attempt.Status,
		Error:             attempt.Error,
		View:              attempt.View,
		SequenceAtSigning: attempt.SequenceAtSigning,
		RootHex:           attempt.RootHex,
		AttemptedAt:       attemptedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *WitnessAttemptRepository) ListRecent(ctx context.Context, limit int) ([]domain.WitnessAttempt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if limit <= 0 {
		limit = 50
	}
	var models []WitnessAttemptModel
	err := r.db.WithContext(ctx).
		Order("attempted_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.WitnessAttempt, 0, len(models))
	for _, model := range models {
		out = append(out, domain.WitnessAttempt{
			ID:                model.ID,
			Endpoint:          model.Endpoint,
			Status:            model.Status,
			Error:             model.Error,
			View:              model.View,
			SequenceAtSigning: model.SequenceAtSigning,
			RootHex:           model.RootHex,
			AttemptedAt:       model.AttemptedAt.UTC(),
		})
	}
	return out, nil
}
