// Package signer produces signed root attestations and schedules signing
// cycles against the commit log.
package signer

import (
	"context"
	"errors"
	"sync"
	"time"

	"tally/internal/domain"
	cryptoinfra "tally/internal/infra/crypto"
)

// Snapshot is one consistent (size, root) observation of the accumulator.
type Snapshot struct {
	Size uint64
	Root domain.Digest
}

// Authority signs snapshots with the ledger key. It holds a KeyRef
// capability; private key bytes never pass through it.
type Authority struct {
	Keys  domain.KeyManager
	Clock func() time.Time

	mu  sync.RWMutex
	ref domain.KeyRef
}

func NewAuthority(keys domain.KeyManager, ref domain.KeyRef, clock func() time.Time) *Authority {
	return &Authority{Keys: keys, Clock: clock, ref: ref}
}

// Attest signs snap under view. prev is the latest attestation already
// recorded for the same view, zero when there is none. A snapshot behind
// prev means the tree shrank without a view change; that is a consensus
// regression and the caller must treat it as fatal.
func (a *Authority) Attest(ctx context.Context, snap Snapshot, view uint64, prev domain.RootAttestation) (domain.RootAttestation, error) {
	if a == nil || a.Keys == nil {
		return domain.RootAttestation{}, errors.New("key manager is required")
	}
	ref := a.Ref()
	if ref.KID == "" {
		return domain.RootAttestation{}, errors.New("signing key ref is required")
	}
	if !prev.Zero() && prev.View == view {
		if prev.SequenceAtSigning > snap.Size {
			return domain.RootAttestation{}, domain.ErrStaleAttestation
		}
		if prev.SequenceAtSigning == snap.Size {
			if prev.Root != snap.Root {
				return domain.RootAttestation{}, domain.ErrStaleAttestation
			}
			return prev, nil
		}
	}
	payload, err := cryptoinfra.AttestationPayload(view, snap.Size, snap.Root)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	sig, err := a.Keys.Sign(ctx, ref, payload)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	return domain.RootAttestation{
		View:              view,
		SequenceAtSigning: snap.Size,
		Root:              snap.Root,
		KeyID:             ref.KID,
		Signature:         sig,
		IssuedAt:          a.now().UTC(),
	}, nil
}

func (a *Authority) Ref() domain.KeyRef {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ref
}

// Rebind points the authority at a different key, after rotation. Cycles
// already in flight finish under the old key.
func (a *Authority) Rebind(ref domain.KeyRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ref = ref
}

func (a *Authority) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}
