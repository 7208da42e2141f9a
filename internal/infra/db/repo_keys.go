package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tally/internal/domain"
	"tally/internal/usecase"
)

// SigningKeyRepository tracks the lifecycle of attestation keys. Rotation
// retires the old key and creates the new one in a single transaction via
// WithTx.
type SigningKeyRepository struct {
	db *gorm.DB
}

func NewSigningKeyRepository(db *gorm.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

func (r *SigningKeyRepository) GetActive(ctx context.Context) (*domain.SigningKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.KeyStatusActive)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return signingKeyFromModel(model), nil
}

func (r *SigningKeyRepository) Create(ctx context.Context, key domain.SigningKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	status := key.Status
	if status == "" {
		status = domain.KeyStatusActive
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := SigningKeyModel{
		ID:        newUUID(),
		KID:       key.KID,
		Alg:       key.Alg,
		PublicKey: copyBytes(key.PublicKey),
		Status:    string(status),
		CreatedAt: createdAt,
		RetiredAt: key.RetiredAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *SigningKeyRepository) UpdateStatus(ctx context.Context, kid string, status domain.KeyStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	updates := map[string]interface{}{"status": string(status)}
	if status != domain.KeyStatusActive {
		updates["retired_at"] = time.Now().UTC()
	}
	result := r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("kid = ?", kid).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SigningKeyRepository) List(ctx context.Context) ([]domain.SigningKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SigningKeyModel
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.SigningKey, 0, len(models))
	for _, model := range models {
		out = append(out, *signingKeyFromModel(model))
	}
	return out, nil
}

func (r *SigningKeyRepository) WithTx(ctx context.Context, fn func(store usecase.KeyRotationStore) error) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SigningKeyRepository{db: tx})
	})
}

func signingKeyFromModel(model SigningKeyModel) *domain.SigningKey {
	return &domain.SigningKey{
		KID:       model.KID,
		Alg:       model.Alg,
		PublicKey: copyBytes(model.PublicKey),
		Status:    domain.KeyStatus(model.Status),
		CreatedAt: model.CreatedAt,
		RetiredAt: model.RetiredAt,
	}
}
