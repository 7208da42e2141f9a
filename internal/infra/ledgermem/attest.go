package ledgermem

import (
	"context"
	"errors"

	"tally/internal/domain"
	"tally/internal/infra/merkle"
	"tally/internal/infra/signer"
)

// Attest runs one signing cycle over the current snapshot. With no new
// commits since the last cycle it returns the existing attestation; on an
// empty ledger it returns a zero attestation and no error.
func (l *Ledger) Attest(ctx context.Context) (domain.RootAttestation, error) {
	if err := ctx.Err(); err != nil {
		return domain.RootAttestation{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.RootAttestation{}, domain.ErrLedgerClosed
	}
	att, err := l.attestLocked(ctx)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	return cloneAttestation(att), nil
}

func (l *Ledger) attestLocked(ctx context.Context) (domain.RootAttestation, error) {
	if l.authority == nil {
		return domain.RootAttestation{}, errors.New("ledgermem: signing authority is required")
	}
	if l.retracted {
		return l.lastAttestationFor(l.view), nil
	}
	size, root, err := l.acc.Snapshot()
	if err != nil {
		if errors.Is(err, merkle.ErrEmptyTree) {
			return domain.RootAttestation{}, nil
		}
		return domain.RootAttestation{}, translate(err)
	}
	prev := l.lastAttestationFor(l.view)
	att, err := l.authority.Attest(ctx, signer.Snapshot{Size: size, Root: root}, l.view, prev)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	if !prev.Zero() && att.SequenceAtSigning == prev.SequenceAtSigning {
		return prev, nil
	}
	if err := l.journal.AppendAttestation(ctx, att); err != nil {
		return domain.RootAttestation{}, err
	}
	l.attsByView[att.View] = append(l.attsByView[att.View], att)
	l.attBySize[att.SequenceAtSigning] = att
	l.latestAtt = att
	return att, nil
}

func (l *Ledger) LatestAttestation(ctx context.Context) (domain.RootAttestation, error) {
	if err := ctx.Err(); err != nil {
		return domain.RootAttestation{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.latestAtt.Zero() {
		return domain.RootAttestation{}, domain.ErrNotYetAttested
	}
	return cloneAttestation(l.latestAtt), nil
}

// AttestationCovering returns the newest attestation of view that covers
// sequence. Newest is deliberate: its snapshot is the one whose proof nodes
// survive pruning the longest. An attestation whose frontier exceeds the
// current tree size signs a state this tree cannot reproduce and never
// anchors a receipt.
func (l *Ledger) AttestationCovering(ctx context.Context, sequence, view uint64) (domain.RootAttestation, error) {
	if err := ctx.Err(); err != nil {
		return domain.RootAttestation{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	size := l.acc.Size()
	list := l.attsByView[view]
	for i := len(list) - 1; i >= 0; i-- {
		att := list[i]
		if att.SequenceAtSigning > size {
			continue
		}
		if att.Covers(sequence, view) {
			return cloneAttestation(att), nil
		}
	}
	return domain.RootAttestation{}, domain.ErrNotYetAttested
}

// AttestationAt returns the attestation signed at exactly the given size.
func (l *Ledger) AttestationAt(ctx context.Context, size uint64) (domain.RootAttestation, error) {
	if err := ctx.Err(); err != nil {
		return domain.RootAttestation{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	att, ok := l.attBySize[size]
	if !ok {
		return domain.RootAttestation{}, domain.ErrNotFound
	}
	return cloneAttestation(att), nil
}

func (l *Ledger) lastAttestationFor(view uint64) domain.RootAttestation {
	list := l.attsByView[view]
	if len(list) == 0 {
		return domain.RootAttestation{}
	}
	return list[len(list)-1]
}

func cloneAttestation(att domain.RootAttestation) domain.RootAttestation {
	att.Signature = cloneBytes(att.Signature)
	return att
}
