package signer

import (
	"context"
	"errors"
	"log"
	"time"

	"tally/internal/domain"
)

// AttestingLedger is the slice of the commit log the scheduler drives.
type AttestingLedger interface {
	Attest(ctx context.Context) (domain.RootAttestation, error)
	Head(ctx context.Context) (domain.LedgerHead, error)
	LatestAttestation(ctx context.Context) (domain.RootAttestation, error)
}

// Scheduler runs signing cycles: one every Interval, plus one whenever Batch
// new commits have accumulated since the last attestation. Run is meant for
// a single goroutine; tests drive RunOnce with a fixed Clock instead of
// racing a timer.
type Scheduler struct {
	Ledger   AttestingLedger
	Witness  domain.WitnessPublisher
	Interval time.Duration
	Batch    uint64
	Clock    func() time.Time

	lastCycle     time.Time
	lastPublished domain.RootAttestation
}

// RunOnce performs one signing cycle and publishes the attestation to the
// witnesses when it is new. ErrStaleAttestation escapes to the caller; the
// daemon must not keep signing past a regression.
func (s *Scheduler) RunOnce(ctx context.Context) (domain.RootAttestation, error) {
	if s == nil || s.Ledger == nil {
		return domain.RootAttestation{}, errors.New("ledger is required")
	}
	att, err := s.Ledger.Attest(ctx)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	s.lastCycle = s.now()
	if att.Zero() {
		return att, nil
	}
	if s.Witness != nil && !sameAttestation(att, s.lastPublished) {
		s.Witness.Publish(ctx, att)
		s.lastPublished = att
	}
	return att, nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	poll := s.Interval
	if poll <= 0 || (s.Batch > 0 && poll > time.Second) {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.due(ctx) {
				continue
			}
			att, err := s.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !att.Zero() {
				log.Printf("signer: attested view=%d sequence=%d root=%s key=%s",
					att.View, att.SequenceAtSigning, att.Root.Hex(), att.KeyID)
			}
		}
	}
}

func (s *Scheduler) due(ctx context.Context) bool {
	if s.Interval > 0 && (s.lastCycle.IsZero() || s.now().Sub(s.lastCycle) >= s.Interval) {
		return true
	}
	if s.Batch == 0 {
		return false
	}
	head, err := s.Ledger.Head(ctx)
	if err != nil {
		return false
	}
	att, err := s.Ledger.LatestAttestation(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotYetAttested) {
		return false
	}
	covered := att.SequenceAtSigning
	if att.View != head.View {
		covered = 0
	}
	return head.Size >= covered && head.Size-covered >= s.Batch
}

func sameAttestation(a, b domain.RootAttestation) bool {
	return a.View == b.View && a.SequenceAtSigning == b.SequenceAtSigning && a.Root == b.Root && a.KeyID == b.KeyID
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
