// Package ledgermem is the commit log engine. It owns the accumulator, the
// entry indexes, and the attestation history; persistence is delegated to a
// Journal so the same engine backs the memory, bbolt, and postgres modes.
package ledgermem

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tally/internal/domain"
	cryptoinfra "tally/internal/infra/crypto"
	"tally/internal/infra/merkle"
	"tally/internal/infra/signer"
)

// Authority signs accumulator snapshots. Implemented by signer.Authority.
type Authority interface {
	Attest(ctx context.Context, snap signer.Snapshot, view uint64, prev domain.RootAttestation) (domain.RootAttestation, error)
}

type Ledger struct {
	mu      sync.RWMutex
	journal Journal
	acc     *merkle.Accumulator

	entries map[uint64]domain.Entry
	byKey   map[string]uint64
	view    uint64
	mark    uint64

	authority  Authority
	attsByView map[uint64][]domain.RootAttestation
	attBySize  map[uint64]domain.RootAttestation
	latestAtt  domain.RootAttestation

	// retracted marks a rollback that has not been followed by a view
	// change yet. While set, signing is paused so the shrunken tree is
	// never attested under the old view.
	retracted bool
	clock     func() time.Time
	closed    bool
}

func New(authority Authority) *Ledger {
	l, _ := NewWithJournal(context.Background(), authority, nil, nil)
	return l
}

func NewWithClock(authority Authority, clock func() time.Time) *Ledger {
	l, _ := NewWithJournal(context.Background(), authority, nil, clock)
	return l
}

// NewWithJournal boots an engine on top of a journal, replaying every stored
// leaf through a fresh accumulator and re-applying the persisted watermark.
func NewWithJournal(ctx context.Context, authority Authority, journal Journal, clock func() time.Time) (*Ledger, error) {
	if journal == nil {
		journal = noopJournal{}
	}
	if clock == nil {
		clock = time.Now
	}
	replay, err := journal.Load(ctx)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		journal:    journal,
		acc:        merkle.NewAccumulator(),
		entries:    make(map[uint64]domain.Entry),
		byKey:      make(map[string]uint64),
		view:       replay.State.View,
		authority:  authority,
		attsByView: make(map[uint64][]domain.RootAttestation),
		attBySize:  make(map[uint64]domain.RootAttestation),
		clock:      clock,
	}
	if l.view == 0 {
		l.view = 1
	}

	for i, entry := range replay.Entries {
		if entry.Sequence != uint64(i)+1 {
			return nil, errors.New("ledgermem: journal entries out of order")
		}
		l.acc.Append(entry.Leaf)
		if entry.Sequence > replay.State.PruneMark {
			l.entries[entry.Sequence] = entry
			if entry.Key != "" {
				l.byKey[entry.Key] = entry.Sequence
			}
		}
	}
	if replay.State.PruneMark > 0 {
		if err := l.acc.Prune(replay.State.PruneMark); err != nil {
			return nil, err
		}
	}
	l.mark = replay.State.PruneMark

	for _, att := range replay.Attestations {
		// A journaled attestation with a smaller frontier than its
		// predecessors marks a retraction; the overtaken ones are void.
		l.purgeAttestationsAbove(att.SequenceAtSigning)
		l.attsByView[att.View] = append(l.attsByView[att.View], att)
		l.attBySize[att.SequenceAtSigning] = att
		l.latestAtt = att
	}
	if prev := l.lastAttestationFor(l.view); prev.SequenceAtSigning > l.acc.Size() {
		// The journal lost entries the attestation already covers, or a
		// rollback crashed before its view change. Pause signing and commits
		// until an operator advances the view; reads keep working.
		log.Printf("ledgermem: attested frontier %d ahead of replayed size %d, paused until view change",
			prev.SequenceAtSigning, l.acc.Size())
		l.retracted = true
	}
	return l, nil
}

func (l *Ledger) Append(ctx context.Context, key string, value []byte) (domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, err
	}
	if key == "" {
		return domain.Entry{}, domain.ErrInvalidEntry
	}
	leaf, err := cryptoinfra.EntryLeafDigest(key, value)
	if err != nil {
		return domain.Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.Entry{}, domain.ErrLedgerClosed
	}
	// A rolled-back tree accepts no commits until the operator advances the
	// view: entries appended under the old view could only be covered by the
	// retracted attestation, whose root no longer exists.
	if l.retracted {
		return domain.Entry{}, domain.ErrViewChangeRequired
	}

	entry := domain.Entry{
		Sequence:  l.acc.Size() + 1,
		View:      l.view,
		Key:       key,
		Value:     cloneBytes(value),
		Leaf:      leaf,
		CreatedAt: l.clock().UTC(),
	}
	if err := l.journal.AppendEntry(ctx, entry); err != nil {
		return domain.Entry{}, err
	}
	l.acc.Append(leaf)
	l.entries[entry.Sequence] = entry
	l.byKey[key] = entry.Sequence
	return cloneEntry(entry), nil
}

func (l *Ledger) GetBySequence(ctx context.Context, sequence uint64) (domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entryLocked(sequence)
}

func (l *Ledger) GetByKey(ctx context.Context, key string) (domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	sequence, ok := l.byKey[key]
	if !ok {
		return domain.Entry{}, domain.ErrNotFound
	}
	return l.entryLocked(sequence)
}

func (l *Ledger) entryLocked(sequence uint64) (domain.Entry, error) {
	if sequence == 0 || sequence > l.acc.Size() {
		return domain.Entry{}, domain.ErrNotFound
	}
	if sequence <= l.mark {
		return domain.Entry{}, domain.ErrSuperseded
	}
	entry, ok := l.entries[sequence]
	if !ok {
		return domain.Entry{}, domain.ErrNotFound
	}
	return cloneEntry(entry), nil
}

func (l *Ledger) Head(ctx context.Context) (domain.LedgerHead, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerHead{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	size, root, err := l.acc.Snapshot()
	if err != nil {
		if errors.Is(err, merkle.ErrEmptyTree) {
			return domain.LedgerHead{View: l.view}, nil
		}
		return domain.LedgerHead{}, translate(err)
	}
	return domain.LedgerHead{Size: size, View: l.view, Root: root}, nil
}

func (l *Ledger) PathAt(ctx context.Context, index, size uint64) ([]domain.PathStep, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.acc.PathAt(index, size)
	if err != nil {
		return nil, translate(err)
	}
	return path, nil
}

func (l *Ledger) Consistency(ctx context.Context, fromSize, toSize uint64) (domain.ConsistencyProof, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsistencyProof{}, err
	}
	path, err := l.acc.ConsistencyAt(fromSize, toSize)
	if err != nil {
		return domain.ConsistencyProof{}, translate(err)
	}
	fromRoot, err := l.acc.RootAt(fromSize)
	if err != nil {
		return domain.ConsistencyProof{}, translate(err)
	}
	toRoot, err := l.acc.RootAt(toSize)
	if err != nil {
		return domain.ConsistencyProof{}, translate(err)
	}
	return domain.ConsistencyProof{
		FromSize: fromSize,
		ToSize:   toSize,
		FromRoot: fromRoot,
		ToRoot:   toRoot,
		Path:     path,
	}, nil
}

func (l *Ledger) AdvanceView(ctx context.Context, view uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.ErrLedgerClosed
	}
	if view <= l.view {
		return domain.ErrViewRegression
	}
	// Seal the outgoing view: nothing committed under it may be left
	// unattested. A pending rollback skips this, its old attestation
	// already covers more than the current tree.
	if !l.retracted {
		if _, err := l.attestLocked(ctx); err != nil {
			return err
		}
	}
	if err := l.journal.SaveState(ctx, State{View: view, PruneMark: l.mark}); err != nil {
		return err
	}
	l.view = view
	l.retracted = false
	return nil
}

func (l *Ledger) Retract(ctx context.Context, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.ErrLedgerClosed
	}
	current := l.acc.Size()
	if size > current {
		return domain.ErrNotFound
	}
	if size < l.mark {
		return domain.ErrRetractBeforePrune
	}
	if size == current {
		return nil
	}
	if err := l.journal.DeleteEntriesFrom(ctx, size+1); err != nil {
		return err
	}
	if err := l.acc.Retract(size); err != nil {
		return translate(err)
	}
	for sequence := size + 1; sequence <= current; sequence++ {
		delete(l.entries, sequence)
	}
	l.rebuildByKeyLocked()
	// Attestations over the rolled-back state sign roots this tree can no
	// longer reproduce. They must never anchor a receipt again; witnesses
	// already saw them, so signing stays paused until the view changes.
	if l.purgeAttestationsAbove(size) {
		l.retracted = true
	}
	return nil
}

// purgeAttestationsAbove drops every attestation whose signed frontier
// exceeds size and reports whether any existed. The journal keeps its
// chronological history; replay applies the same rule in order.
func (l *Ledger) purgeAttestationsAbove(size uint64) bool {
	purged := false
	for view, list := range l.attsByView {
		kept := list[:0]
		for _, att := range list {
			if att.SequenceAtSigning <= size {
				kept = append(kept, att)
				continue
			}
			delete(l.attBySize, att.SequenceAtSigning)
			purged = true
		}
		if len(kept) == 0 {
			delete(l.attsByView, view)
			continue
		}
		l.attsByView[view] = kept
	}
	if !purged {
		return false
	}
	l.latestAtt = domain.RootAttestation{}
	var maxView uint64
	for view, list := range l.attsByView {
		if view >= maxView {
			maxView = view
			l.latestAtt = list[len(list)-1]
		}
	}
	return true
}

func (l *Ledger) Prune(ctx context.Context, keep uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.ErrLedgerClosed
	}
	if keep <= l.mark {
		return nil
	}
	if keep > l.acc.Size() {
		return domain.ErrNotFound
	}
	if err := l.journal.PruneEntries(ctx, keep); err != nil {
		return err
	}
	if err := l.journal.SaveState(ctx, State{View: l.view, PruneMark: keep}); err != nil {
		return err
	}
	if err := l.acc.Prune(keep); err != nil {
		return translate(err)
	}
	for sequence := l.mark + 1; sequence <= keep; sequence++ {
		delete(l.entries, sequence)
	}
	l.mark = keep
	return nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.journal.Close()
}

func (l *Ledger) rebuildByKeyLocked() {
	l.byKey = make(map[string]uint64, len(l.entries))
	for sequence, entry := range l.entries {
		if entry.Key == "" {
			continue
		}
		if prev, ok := l.byKey[entry.Key]; !ok || sequence > prev {
			l.byKey[entry.Key] = sequence
		}
	}
}

// translate maps accumulator errors onto the domain sentinels callers match.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, merkle.ErrSuperseded):
		return domain.ErrSuperseded
	case errors.Is(err, merkle.ErrRetractBelowPrune):
		return domain.ErrRetractBeforePrune
	case errors.Is(err, merkle.ErrInvalidIndex), errors.Is(err, merkle.ErrFutureSize), errors.Is(err, merkle.ErrEmptyTree):
		return domain.ErrNotFound
	case errors.Is(err, merkle.ErrInvalidSize):
		return domain.ErrInvalidRange
	default:
		return err
	}
}

func cloneBytes(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func cloneEntry(entry domain.Entry) domain.Entry {
	entry.Value = cloneBytes(entry.Value)
	return entry
}
