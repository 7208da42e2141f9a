package usecase

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"tally/internal/domain"
	"tally/pkg/receipt"
)

// KeyRingSource resolves the set of public keys receipts may be checked
// against. Retired keys stay in the ring so old receipts keep verifying;
// revoked keys are excluded.
type KeyRingSource interface {
	Ring(ctx context.Context) (receipt.KeyRing, error)
}

// VerifyReceipt is the server-side wrapper over the offline verifier. The
// verification itself never touches the live ledger; the only service state
// involved is the key ring.
type VerifyReceipt struct {
	Keys KeyRingSource
}

func (uc *VerifyReceipt) Execute(ctx context.Context, r domain.Receipt) (receipt.Result, error) {
	ring, err := uc.ring(ctx)
	if err != nil {
		return receipt.Result{}, err
	}
	return receipt.Verify(r, ring), nil
}

// ExecuteSerialized verifies a receipt exactly as it arrived on the wire.
// Handlers that accept raw receipt documents use this path so that decoding
// strictness is part of the verdict.
func (uc *VerifyReceipt) ExecuteSerialized(ctx context.Context, raw []byte) (receipt.Result, error) {
	ring, err := uc.ring(ctx)
	if err != nil {
		return receipt.Result{}, err
	}
	return receipt.VerifySerialized(raw, ring), nil
}

func (uc *VerifyReceipt) ring(ctx context.Context) (receipt.KeyRing, error) {
	if uc.Keys == nil {
		return nil, fmt.Errorf("key ring source is required")
	}
	return uc.Keys.Ring(ctx)
}

// StaticRing serves a fixed key ring, the no-database deployment mode where
// the ledger key is configured by environment.
type StaticRing receipt.KeyRing

func (r StaticRing) Ring(context.Context) (receipt.KeyRing, error) {
	return receipt.KeyRing(r), nil
}

// StoreRing builds the ring from the signing key store, falling back to the
// manager-held key for the given ref when the store is empty.
type StoreRing struct {
	Store    KeyRotationStore
	Manager  domain.KeyManager
	Fallback domain.KeyRef
}

func (r StoreRing) Ring(ctx context.Context) (receipt.KeyRing, error) {
	ring := make(receipt.KeyRing)
	if r.Store != nil {
		keys, err := r.Store.List(ctx)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		for _, key := range keys {
			if key.Status == domain.KeyStatusRevoked {
				continue
			}
			if len(key.PublicKey) != ed25519.PublicKeySize {
				continue
			}
			ring[key.KID] = append(ed25519.PublicKey(nil), key.PublicKey...)
		}
	}
	if len(ring) == 0 && r.Manager != nil && r.Fallback.KID != "" {
		pub, err := r.Manager.Public(ctx, r.Fallback)
		if err != nil {
			return nil, err
		}
		ring[r.Fallback.KID] = ed25519.PublicKey(pub)
	}
	return ring, nil
}
