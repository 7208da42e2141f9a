package ledgermem

import (
	"context"

	"tally/internal/domain"
)

// Journal is the durability hook under the engine. The in-memory backend
// runs with the no-op journal; ledgerbolt and ledgerdb plug persistent ones
// in. Entries are journaled before they touch the accumulator, so a replayed
// journal always rebuilds the exact tree.
//
// PruneEntries clears the payloads of sequences at or below keep but must
// keep their leaf digests: replay needs every leaf ever committed to rebuild
// the pruned spine.
type Journal interface {
	AppendEntry(ctx context.Context, entry domain.Entry) error
	DeleteEntriesFrom(ctx context.Context, sequence uint64) error
	PruneEntries(ctx context.Context, keep uint64) error
	AppendAttestation(ctx context.Context, att domain.RootAttestation) error
	SaveState(ctx context.Context, state State) error
	Load(ctx context.Context) (Replay, error)
	Close() error
}

// State is the non-append state the journal carries across restarts.
type State struct {
	View      uint64
	PruneMark uint64
}

// Replay is everything a journal hands back at boot. Entries are ordered by
// sequence, attestations in issuance order. Pruned entries come back as
// skeletons: leaf digest and view set, key and value empty.
type Replay struct {
	Entries      []domain.Entry
	Attestations []domain.RootAttestation
	State        State
}

type noopJournal struct{}

func (noopJournal) AppendEntry(context.Context, domain.Entry) error { return nil }

func (noopJournal) DeleteEntriesFrom(context.Context, uint64) error { return nil }

func (noopJournal) PruneEntries(context.Context, uint64) error { return nil }

func (noopJournal) AppendAttestation(context.Context, domain.RootAttestation) error { return nil }

func (noopJournal) SaveState(context.Context, State) error { return nil }

func (noopJournal) Load(context.Context) (Replay, error) { return Replay{State: State{View: 1}}, nil }

func (noopJournal) Close() error { return nil }
