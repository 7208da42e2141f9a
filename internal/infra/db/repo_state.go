package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerState mirrors the single-row ledger_state table: the non-append
// state a restarted node needs before replaying entries.
type LedgerState struct {
	View      uint64
	PruneMark uint64
}

type StateRepository struct {
	db *gorm.DB
}

func NewStateRepository(db *gorm.DB) *StateRepository {
	return &StateRepository{db: db}
}

func (r *StateRepository) Save(ctx context.Context, state LedgerState) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := LedgerStateModel{
		ID:        1,
		View:      state.View,
		PruneMark: state.PruneMark,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"view", "prune_mark"}),
		}).
		Create(&model).Error
}

func (r *StateRepository) Load(ctx context.Context) (LedgerState, error) {
	if r.db == nil {
		return LedgerState{}, errDBUnavailable
	}
	var model LedgerStateModel
	err := r.db.WithContext(ctx).First(&model, 1).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LedgerState{View: 1}, nil
		}
		return LedgerState{}, err
	}
	state := LedgerState{View: model.View, PruneMark: model.PruneMark}
	if state.View == 0 {
		state.View = 1
	}
	return state, nil
}
