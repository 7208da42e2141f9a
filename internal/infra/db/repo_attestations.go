package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tally/internal/domain"
)

type AttestationRepository struct {
	db *gorm.DB
}

func NewAttestationRepository(db *gorm.DB) *AttestationRepository {
	return &AttestationRepository{db: db}
}

func (r *AttestationRepository) Append(ctx context.Context, att domain.RootAttestation) error {
	if r.db == nil {
		return errDBUnavailable
	}
	issuedAt := att.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	model := AttestationModel{
		View:              att.View,
		SequenceAtSigning: att.SequenceAtSigning,
		RootHash:          copyBytes(att.Root[:]),
		KeyID:             att.KeyID,
		Signature:         copyBytes(att.Signature),
		IssuedAt:          issuedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AttestationRepository) ListAll(ctx context.Context) ([]domain.RootAttestation, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AttestationModel
	if err := r.db.WithContext(ctx).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RootAttestation, 0, len(models))
	for _, model := range models {
		att, err := attestationFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}

func attestationFromModel(model AttestationModel) (domain.RootAttestation, error) {
	root, err := domain.DigestFromBytes(model.RootHash)
	if err != nil {
		return domain.RootAttestation{}, fmt.Errorf("attestation %d: %w", model.ID, err)
	}
	return domain.RootAttestation{
		View:              model.View,
		SequenceAtSigning: model.SequenceAtSigning,
		Root:              root,
		KeyID:             model.KeyID,
		Signature:         copyBytes(model.Signature),
		IssuedAt:          model.IssuedAt.UTC(),
	}, nil
}
