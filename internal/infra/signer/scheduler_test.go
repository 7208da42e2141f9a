package signer

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"tally/internal/domain"
)

type fakeLedger struct {
	head        domain.LedgerHead
	latest      domain.RootAttestation
	attestCalls int
}

func (f *fakeLedger) Attest(context.Context) (domain.RootAttestation, error) {
	f.attestCalls++
	if f.head.Size == 0 {
		return domain.RootAttestation{}, nil
	}
	f.latest = domain.RootAttestation{
		View:              f.head.View,
		SequenceAtSigning: f.head.Size,
		Root:              f.head.Root,
		KeyID:             "ledger-1",
		Signature:         []byte("sig"),
	}
	return f.latest, nil
}

func (f *fakeLedger) Head(context.Context) (domain.LedgerHead, error) {
	return f.head, nil
}

func (f *fakeLedger) LatestAttestation(context.Context) (domain.RootAttestation, error) {
	if f.latest.Zero() {
		return domain.RootAttestation{}, domain.ErrNotYetAttested
	}
	return f.latest, nil
}

type recordingWitness struct {
	published []domain.RootAttestation
}

func (w *recordingWitness) Publish(_ context.Context, att domain.RootAttestation) []domain.WitnessAttempt {
	w.published = append(w.published, att)
	return nil
}

func headAt(size, view uint64) domain.LedgerHead {
	root := sha256.Sum256([]byte{byte(size)})
	return domain.LedgerHead{Size: size, View: view, Root: domain.Digest(root)}
}

func TestScheduler_RunOncePublishesNewAttestationsOnly(t *testing.T) {
	ledger := &fakeLedger{head: headAt(3, 1)}
	witness := &recordingWitness{}
	s := &Scheduler{Ledger: ledger, Witness: witness}

	att, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if att.SequenceAtSigning != 3 {
		t.Fatalf("unexpected attestation %+v", att)
	}
	if len(witness.published) != 1 {
		t.Fatalf("expected one publication, got %d", len(witness.published))
	}

	// No new commits: attestation unchanged, no duplicate publication.
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once again: %v", err)
	}
	if len(witness.published) != 1 {
		t.Fatalf("unchanged attestation must not republish, got %d", len(witness.published))
	}

	ledger.head = headAt(8, 1)
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once after growth: %v", err)
	}
	if len(witness.published) != 2 || witness.published[1].SequenceAtSigning != 8 {
		t.Fatalf("expected publication of the new attestation, got %+v", witness.published)
	}
}

func TestScheduler_RunOnceEmptyLedgerIsNoop(t *testing.T) {
	ledger := &fakeLedger{}
	witness := &recordingWitness{}
	s := &Scheduler{Ledger: ledger, Witness: witness}

	att, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !att.Zero() {
		t.Fatalf("empty ledger must yield a zero attestation, got %+v", att)
	}
	if len(witness.published) != 0 {
		t.Fatal("zero attestation must not be published")
	}
}

func TestScheduler_DueByInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{head: headAt(1, 1)}
	s := &Scheduler{
		Ledger:   ledger,
		Interval: time.Minute,
		Clock:    func() time.Time { return now },
	}

	if !s.due(context.Background()) {
		t.Fatal("scheduler with no prior cycle must be due")
	}
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if s.due(context.Background()) {
		t.Fatal("freshly run scheduler must not be due")
	}
	now = now.Add(time.Minute)
	if !s.due(context.Background()) {
		t.Fatal("scheduler must be due after the interval elapses")
	}
}

func TestScheduler_DueByBatch(t *testing.T) {
	ledger := &fakeLedger{head: headAt(4, 1)}
	s := &Scheduler{
		Ledger: ledger,
		Batch:  5,
		Clock:  func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}

	// Four uncovered commits, batch of five: not due yet.
	if s.due(context.Background()) {
		t.Fatal("four pending commits must not trigger a batch of five")
	}
	ledger.head = headAt(5, 1)
	if !s.due(context.Background()) {
		t.Fatal("five pending commits must trigger a batch of five")
	}
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if s.due(context.Background()) {
		t.Fatal("covered commits must not retrigger the batch")
	}

	ledger.head = headAt(9, 1)
	if s.due(context.Background()) {
		t.Fatal("four new commits must not trigger a batch of five")
	}
	ledger.head = headAt(10, 1)
	if !s.due(context.Background()) {
		t.Fatal("five new commits must trigger a batch of five")
	}
}
