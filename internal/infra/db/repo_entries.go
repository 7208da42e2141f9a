package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tally/internal/domain"
)

type EntryRepository struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) Append(ctx context.Context, entry domain.Entry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := LedgerEntryModel{
		Sequence:  entry.Sequence,
		View:      entry.View,
		Key:       entry.Key,
		Value:     copyBytes(entry.Value),
		LeafHash:  copyBytes(entry.Leaf[:]),
		CreatedAt: createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *EntryRepository) DeleteFrom(ctx context.Context, sequence uint64) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("sequence >= ?", sequence).
		Delete(&LedgerEntryModel{}).Error
}

// Prune blanks keys and payloads of sequences at or below keep. Leaf hashes
// stay: boot replays every leaf ever committed to rebuild the pruned spine.
func (r *EntryRepository) Prune(ctx context.Context, keep uint64) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&LedgerEntryModel{}).
		Where("sequence <= ? AND pruned = ?", keep, false).
		Updates(map[string]interface{}{
			"key":    "",
			"value":  nil,
			"pruned": true,
		}).Error
}

func (r *EntryRepository) ListAll(ctx context.Context) ([]domain.Entry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []LedgerEntryModel
	if err := r.db.WithContext(ctx).
		Order("sequence ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Entry, 0, len(models))
	for _, model := range models {
		entry, err := entryFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func entryFromModel(model LedgerEntryModel) (domain.Entry, error) {
	leaf, err := domain.DigestFromBytes(model.LeafHash)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("entry %d: %w", model.Sequence, err)
	}
	entry := domain.Entry{
		Sequence:  model.Sequence,
		View:      model.View,
		Leaf:      leaf,
		CreatedAt: model.CreatedAt.UTC(),
	}
	if !model.Pruned {
		entry.Key = model.Key
		entry.Value = copyBytes(model.Value)
	}
	return entry, nil
}
