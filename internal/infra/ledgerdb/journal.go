// Package ledgerdb persists the commit log in postgres through the gorm
// repositories, for deployments where the ledger file must live off-box. Like
// ledgerbolt it is only a journal: the engine stays in memory and boot
// replays the tables back through a fresh accumulator.
package ledgerdb

import (
	"context"

	"tally/internal/domain"
	"tally/internal/infra/db"
	"tally/internal/infra/ledgermem"
)

type Journal struct {
	store        *db.Store
	entries      *db.EntryRepository
	attestations *db.AttestationRepository
	state        *db.StateRepository
}

func NewJournal(store *db.Store) *Journal {
	return &Journal{
		store:        store,
		entries:      db.NewEntryRepository(store.DB),
		attestations: db.NewAttestationRepository(store.DB),
		state:        db.NewStateRepository(store.DB),
	}
}

func (j *Journal) AppendEntry(ctx context.Context, entry domain.Entry) error {
	return j.entries.Append(ctx, entry)
}

func (j *Journal) DeleteEntriesFrom(ctx context.Context, sequence uint64) error {
	return j.entries.DeleteFrom(ctx, sequence)
}

func (j *Journal) PruneEntries(ctx context.Context, keep uint64) error {
	return j.entries.Prune(ctx, keep)
}

func (j *Journal) AppendAttestation(ctx context.Context, att domain.RootAttestation) error {
	return j.attestations.Append(ctx, att)
}

func (j *Journal) SaveState(ctx context.Context, state ledgermem.State) error {
	return j.state.Save(ctx, db.LedgerState{View: state.View, PruneMark: state.PruneMark})
}

func (j *Journal) Load(ctx context.Context) (ledgermem.Replay, error) {
	state, err := j.state.Load(ctx)
	if err != nil {
		return ledgermem.Replay{}, err
	}
	entries, err := j.entries.ListAll(ctx)
	if err != nil {
		return ledgermem.Replay{}, err
	}
	attestations, err := j.attestations.ListAll(ctx)
	if err != nil {
		return ledgermem.Replay{}, err
	}
	return ledgermem.Replay{
		Entries:      entries,
		Attestations: attestations,
		State:        ledgermem.State{View: state.View, PruneMark: state.PruneMark},
	}, nil
}

func (j *Journal) Close() error {
	if j.store == nil || j.store.DB == nil {
		return nil
	}
	sqlDB, err := j.store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
