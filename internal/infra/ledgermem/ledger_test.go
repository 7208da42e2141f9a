package ledgermem

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"

	"tally/internal/domain"
	"tally/internal/infra/merkle"
	"tally/internal/infra/signer"
)

type fakeKeys struct {
	sign func(payload []byte) []byte
	pub  ed25519.PublicKey
}

func (f *fakeKeys) Sign(_ context.Context, _ domain.KeyRef, payload []byte) ([]byte, error) {
	return f.sign(payload), nil
}

func (f *fakeKeys) Public(context.Context, domain.KeyRef) ([]byte, error) {
	return append([]byte(nil), f.pub...), nil
}

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys := &fakeKeys{sign: func(payload []byte) []byte { return ed25519.Sign(priv, payload) }, pub: pub}
	authority := signer.NewAuthority(keys, domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: "test-key"}, nil)
	l := New(authority)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func mustAppend(t *testing.T, l *Ledger, key string, value []byte) domain.Entry {
	t.Helper()
	entry, err := l.Append(context.Background(), key, value)
	if err != nil {
		t.Fatalf("append %q: %v", key, err)
	}
	return entry
}

func mustAttest(t *testing.T, l *Ledger) domain.RootAttestation {
	t.Helper()
	att, err := l.Attest(context.Background())
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	return att
}

func TestLedgerAppendAssignsDenseSequences(t *testing.T) {
	l := newLedger(t)
	for i := 1; i <= 5; i++ {
		entry := mustAppend(t, l, string(rune('a'+i)), []byte{byte(i)})
		if entry.Sequence != uint64(i) {
			t.Fatalf("sequence %d, want %d", entry.Sequence, i)
		}
		if entry.View != 1 {
			t.Fatalf("first view must be 1, got %d", entry.View)
		}
	}

	got, err := l.GetBySequence(context.Background(), 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Key != "d" {
		t.Fatalf("unexpected entry %+v", got)
	}
	byKey, err := l.GetByKey(context.Background(), "d")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if byKey.Sequence != 3 {
		t.Fatalf("unexpected sequence %d", byKey.Sequence)
	}
	if _, err := l.GetBySequence(context.Background(), 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLedgerHeadMatchesAccumulator(t *testing.T) {
	l := newLedger(t)
	head, err := l.Head(context.Background())
	if err != nil {
		t.Fatalf("empty head: %v", err)
	}
	if head.Size != 0 || head.View != 1 {
		t.Fatalf("unexpected empty head %+v", head)
	}

	leaves := make([]domain.Digest, 0, 4)
	for i := 0; i < 4; i++ {
		entry := mustAppend(t, l, string(rune('a'+i)), []byte{byte(i)})
		leaves = append(leaves, entry.Leaf)
	}
	head, err = l.Head(context.Background())
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	want := merkle.NodeHash(
		merkle.NodeHash(leaves[0], leaves[1]),
		merkle.NodeHash(leaves[2], leaves[3]),
	)
	if head.Size != 4 || head.Root != want {
		t.Fatalf("head root disagrees with reference: %+v", head)
	}
}

func TestLedgerAttestationLifecycle(t *testing.T) {
	l := newLedger(t)

	if _, err := l.LatestAttestation(context.Background()); !errors.Is(err, domain.ErrNotYetAttested) {
		t.Fatalf("want ErrNotYetAttested, got %v", err)
	}
	// Empty ledger: a cycle is a no-op, not an error.
	att := mustAttest(t, l)
	if !att.Zero() {
		t.Fatalf("empty ledger must yield a zero attestation, got %+v", att)
	}

	mustAppend(t, l, "a", []byte("1"))
	first := mustAttest(t, l)
	if first.SequenceAtSigning != 1 || first.View != 1 {
		t.Fatalf("unexpected attestation %+v", first)
	}

	// No new commits: same attestation, not a new signature.
	again := mustAttest(t, l)
	if again.SequenceAtSigning != first.SequenceAtSigning || string(again.Signature) != string(first.Signature) {
		t.Fatal("idle cycle must return the existing attestation")
	}

	mustAppend(t, l, "b", []byte("2"))
	second := mustAttest(t, l)
	if second.SequenceAtSigning != 2 {
		t.Fatalf("attestation must advance with the frontier, got %+v", second)
	}

	covering, err := l.AttestationCovering(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("covering: %v", err)
	}
	if covering.SequenceAtSigning != 2 {
		t.Fatal("covering must return the newest attestation for the view")
	}
	if _, err := l.AttestationAt(context.Background(), 1); err != nil {
		t.Fatalf("attestation at size 1 must be retained: %v", err)
	}
}

func TestLedgerAdvanceViewSealsOutgoingView(t *testing.T) {
	l := newLedger(t)
	mustAppend(t, l, "a", []byte("1"))
	mustAppend(t, l, "b", []byte("2"))

	if err := l.AdvanceView(context.Background(), 2); err != nil {
		t.Fatalf("advance view: %v", err)
	}
	// The outgoing view was force-attested, so both entries are issuable.
	att, err := l.AttestationCovering(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("outgoing view must be sealed: %v", err)
	}
	if att.View != 1 || att.SequenceAtSigning != 2 {
		t.Fatalf("unexpected sealing attestation %+v", att)
	}

	entry := mustAppend(t, l, "c", []byte("3"))
	if entry.View != 2 {
		t.Fatalf("new entries must carry the new view, got %d", entry.View)
	}
	if err := l.AdvanceView(context.Background(), 2); !errors.Is(err, domain.ErrViewRegression) {
		t.Fatalf("want ErrViewRegression, got %v", err)
	}
}

func TestLedgerRetractPausesSigningUntilViewChange(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 4; i++ {
		mustAppend(t, l, string(rune('a'+i)), []byte{byte(i)})
	}
	sealed := mustAttest(t, l)
	if sealed.SequenceAtSigning != 4 {
		t.Fatalf("unexpected attestation %+v", sealed)
	}

	if err := l.Retract(context.Background(), 2); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if _, err := l.GetBySequence(context.Background(), 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rolled-back entry: want ErrNotFound, got %v", err)
	}

	// The retracted attestation signed a root this tree cannot reproduce;
	// it is void, and the shrunken tree is never signed under the old view.
	att := mustAttest(t, l)
	if !att.Zero() {
		t.Fatalf("paused signing must not produce an attestation, got %+v", att)
	}
	if _, err := l.LatestAttestation(context.Background()); !errors.Is(err, domain.ErrNotYetAttested) {
		t.Fatalf("voided attestation must not be served, got %v", err)
	}
	if _, err := l.Append(context.Background(), "x", []byte("x")); !errors.Is(err, domain.ErrViewChangeRequired) {
		t.Fatalf("append on rolled-back tree: want ErrViewChangeRequired, got %v", err)
	}

	if err := l.AdvanceView(context.Background(), 2); err != nil {
		t.Fatalf("advance view: %v", err)
	}
	entry := mustAppend(t, l, "x", []byte("x"))
	if entry.Sequence != 3 || entry.View != 2 {
		t.Fatalf("re-appended entry %+v", entry)
	}
	fresh := mustAttest(t, l)
	if fresh.View != 2 || fresh.SequenceAtSigning != 3 {
		t.Fatalf("new view must attest the rebuilt tree, got %+v", fresh)
	}
}

func TestLedgerRetractVoidsOvertakenAttestations(t *testing.T) {
	l := newLedger(t)
	mustAppend(t, l, "a", []byte("1"))
	mustAppend(t, l, "b", []byte("2"))
	early := mustAttest(t, l)
	mustAppend(t, l, "c", []byte("3"))
	mustAppend(t, l, "d", []byte("4"))
	late := mustAttest(t, l)
	if late.SequenceAtSigning != 4 {
		t.Fatalf("unexpected attestation %+v", late)
	}

	if err := l.Retract(context.Background(), 3); err != nil {
		t.Fatalf("retract: %v", err)
	}

	// The frontier-4 attestation signed leaves that no longer exist; it must
	// never anchor a receipt, even for a surviving sequence it covers.
	if _, err := l.AttestationCovering(context.Background(), 3, 1); !errors.Is(err, domain.ErrNotYetAttested) {
		t.Fatalf("want ErrNotYetAttested for uncovered survivor, got %v", err)
	}
	if _, err := l.AttestationAt(context.Background(), 4); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("voided attestation must be gone, got %v", err)
	}

	// The earlier attestation signed a surviving prefix; receipts against it
	// stay issuable and still fold to its root.
	covering, err := l.AttestationCovering(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("covering: %v", err)
	}
	if covering.SequenceAtSigning != early.SequenceAtSigning || covering.Root != early.Root {
		t.Fatalf("survivor must be covered by the earlier attestation, got %+v", covering)
	}
	path, err := l.PathAt(context.Background(), 0, covering.SequenceAtSigning)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	root, err := merkle.FoldPath(mustGet(t, l, 1).Leaf, 0, covering.SequenceAtSigning, path)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	if root != covering.Root {
		t.Fatal("surviving path must reproduce the surviving attested root")
	}
	latest, err := l.LatestAttestation(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.SequenceAtSigning != early.SequenceAtSigning {
		t.Fatalf("latest must fall back to the surviving attestation, got %+v", latest)
	}

	if err := l.AdvanceView(context.Background(), 2); err != nil {
		t.Fatalf("advance view: %v", err)
	}
	entry := mustAppend(t, l, "e", []byte("5"))
	fresh := mustAttest(t, l)
	att, err := l.AttestationCovering(context.Background(), entry.Sequence, entry.View)
	if err != nil {
		t.Fatalf("covering after view change: %v", err)
	}
	if att.View != 2 || att.Root != fresh.Root {
		t.Fatalf("new-view entry must be covered by the new attestation, got %+v", att)
	}
}

func TestLedgerPrune(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 6; i++ {
		mustAppend(t, l, string(rune('a'+i)), []byte{byte(i)})
	}
	att := mustAttest(t, l)

	if err := l.Prune(context.Background(), 3); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := l.GetBySequence(context.Background(), 2); !errors.Is(err, domain.ErrSuperseded) {
		t.Fatalf("pruned entry: want ErrSuperseded, got %v", err)
	}
	if _, err := l.PathAt(context.Background(), 1, att.SequenceAtSigning); !errors.Is(err, domain.ErrSuperseded) {
		t.Fatalf("pruned path: want ErrSuperseded, got %v", err)
	}
	path, err := l.PathAt(context.Background(), 4, att.SequenceAtSigning)
	if err != nil {
		t.Fatalf("retained path: %v", err)
	}
	root, err := merkle.FoldPath(mustGet(t, l, 5).Leaf, 4, att.SequenceAtSigning, path)
	if err != nil {
		t.Fatalf("fold retained path: %v", err)
	}
	if root != att.Root {
		t.Fatal("retained path must still reproduce the attested root")
	}

	if err := l.Retract(context.Background(), 2); !errors.Is(err, domain.ErrRetractBeforePrune) {
		t.Fatalf("want ErrRetractBeforePrune, got %v", err)
	}
}

func mustGet(t *testing.T, l *Ledger, sequence uint64) domain.Entry {
	t.Helper()
	entry, err := l.GetBySequence(context.Background(), sequence)
	if err != nil {
		t.Fatalf("get %d: %v", sequence, err)
	}
	return entry
}

// Readers racing the single writer must always observe one consistent tree
// state; run with -race.
func TestLedgerConcurrentReadsDuringAppends(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 8; i++ {
		mustAppend(t, l, string(rune('a'+i)), []byte{byte(i)})
	}
	att := mustAttest(t, l)

	const appends = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < appends; i++ {
			if _, err := l.Append(context.Background(), "w", []byte{byte(i)}); err != nil {
				t.Errorf("append: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < appends; i++ {
			path, err := l.PathAt(context.Background(), 3, att.SequenceAtSigning)
			if err != nil {
				t.Errorf("path: %v", err)
				return
			}
			root, err := merkle.FoldPath(mustGet(t, l, 4).Leaf, 3, att.SequenceAtSigning, path)
			if err != nil {
				t.Errorf("fold: %v", err)
				return
			}
			if root != att.Root {
				t.Error("reader observed a mixed tree state")
				return
			}
			if _, err := l.Head(context.Background()); err != nil {
				t.Errorf("head: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

type recordingJournal struct {
	noopJournal
	mu           sync.Mutex
	entries      []domain.Entry
	attestations []domain.RootAttestation
	state        State
}

func (j *recordingJournal) AppendEntry(_ context.Context, entry domain.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *recordingJournal) AppendAttestation(_ context.Context, att domain.RootAttestation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attestations = append(j.attestations, att)
	return nil
}

func (j *recordingJournal) SaveState(_ context.Context, state State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	return nil
}

func (j *recordingJournal) Load(context.Context) (Replay, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	state := j.state
	if state.View == 0 {
		state.View = 1
	}
	return Replay{
		Entries:      append([]domain.Entry(nil), j.entries...),
		Attestations: append([]domain.RootAttestation(nil), j.attestations...),
		State:        state,
	}, nil
}

func TestLedgerReplaysJournalAtBoot(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys := &fakeKeys{sign: func(payload []byte) []byte { return ed25519.Sign(priv, payload) }, pub: pub}
	authority := signer.NewAuthority(keys, domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: "test-key"}, nil)
	journal := &recordingJournal{}

	l, err := NewWithJournal(context.Background(), authority, journal, nil)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	mustAppend(t, l, "a", []byte("1"))
	mustAppend(t, l, "b", []byte("2"))
	att := mustAttest(t, l)
	head, err := l.Head(context.Background())
	if err != nil {
		t.Fatalf("head: %v", err)
	}

	rebooted, err := NewWithJournal(context.Background(), authority, journal, nil)
	if err != nil {
		t.Fatalf("reboot: %v", err)
	}
	rebootedHead, err := rebooted.Head(context.Background())
	if err != nil {
		t.Fatalf("rebooted head: %v", err)
	}
	if rebootedHead != head {
		t.Fatalf("replay must rebuild the same head: %+v vs %+v", rebootedHead, head)
	}
	latest, err := rebooted.LatestAttestation(context.Background())
	if err != nil {
		t.Fatalf("latest attestation: %v", err)
	}
	if latest.SequenceAtSigning != att.SequenceAtSigning || latest.Root != att.Root {
		t.Fatal("replay must restore the attestation history")
	}
	entry, err := rebooted.GetByKey(context.Background(), "b")
	if err != nil {
		t.Fatalf("get by key after replay: %v", err)
	}
	if entry.Sequence != 2 {
		t.Fatalf("unexpected entry %+v", entry)
	}
}
