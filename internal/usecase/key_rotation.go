package usecase

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"tally/internal/domain"
)

// AuthorityBinder is the signing authority's rebind hook: after a rotation
// new attestations must be produced under the new key.
type AuthorityBinder interface {
	Rebind(ref domain.KeyRef)
}

// KeyRotationService mints a fresh attestation key, retires the previous
// active one, and repoints the signing authority. Receipts issued under the
// retired key keep verifying: the key stays in the ring until revoked.
type KeyRotationService struct {
	Store     KeyRotationStore
	Material  domain.KeyMaterialStore
	Authority AuthorityBinder
	Clock     Clock
	Interval  time.Duration
}

func NewKeyRotationService(store KeyRotationStore, material domain.KeyMaterialStore, authority AuthorityBinder, clock Clock) *KeyRotationService {
	return &KeyRotationService{
		Store:     store,
		Material:  material,
		Authority: authority,
		Clock:     clock,
	}
}

func (s *KeyRotationService) Rotate(ctx context.Context) (domain.SigningKey, error) {
	if s.Store == nil {
		return domain.SigningKey{}, errors.New("key rotation store is required")
	}
	if s.Material == nil {
		return domain.SigningKey{}, errors.New("key material store is required")
	}

	oldKey, err := s.Store.GetActive(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.SigningKey{}, err
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return domain.SigningKey{}, err
	}
	now := s.now().UTC()
	kid := keyIDFromPublicKey(pubKey)
	ref := domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: kid}
	newKey := domain.SigningKey{
		KID:       kid,
		Alg:       "ed25519",
		PublicKey: pubKey,
		Status:    domain.KeyStatusActive,
		CreatedAt: now,
	}
	material := domain.KeyMaterial{
		Ref:        ref,
		PrivateKey: privKey,
		PublicKey:  pubKey,
		Alg:        "ed25519",
		Status:     domain.KeyStatusActive,
		CreatedAt:  now,
	}
	if err := s.Material.Put(ctx, material); err != nil {
		return domain.SigningKey{}, err
	}

	if err := s.Store.WithTx(ctx, func(txStore KeyRotationStore) error {
		if err := txStore.Create(ctx, newKey); err != nil {
			return err
		}
		if oldKey != nil {
			if err := txStore.UpdateStatus(ctx, oldKey.KID, domain.KeyStatusRetired); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = s.Material.Delete(ctx, ref)
		return domain.SigningKey{}, err
	}

	if s.Authority != nil {
		s.Authority.Rebind(ref)
	}
	return newKey, nil
}

// RotateIfDue rotates when no key is active yet or the active key is older
// than the configured interval. It reports whether a rotation happened.
func (s *KeyRotationService) RotateIfDue(ctx context.Context) (bool, *domain.SigningKey, error) {
	if s.Store == nil {
		return false, nil, errors.New("key rotation store is required")
	}
	active, err := s.Store.GetActive(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, nil, err
	}
	if active == nil || active.CreatedAt.IsZero() {
		rotated, err := s.Rotate(ctx)
		if err != nil {
			return false, nil, err
		}
		return true, &rotated, nil
	}
	if s.Interval <= 0 {
		return false, active, nil
	}
	if s.now().Sub(active.CreatedAt) >= s.Interval {
		rotated, err := s.Rotate(ctx)
		if err != nil {
			return false, nil, err
		}
		return true, &rotated, nil
	}
	return false, active, nil
}

func (s *KeyRotationService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func keyIDFromPublicKey(pubKey ed25519.PublicKey) string {
	sum := sha256.Sum256(pubKey)
	return hex.EncodeToString(sum[:])
}
