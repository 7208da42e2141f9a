package usecase

import (
	"context"
	"time"

	"tally/internal/domain"
)

type Clock func() time.Time

// Ledger is the commit log facade. All three backends (memory, bbolt,
// postgres) present it through the shared engine; usecases and handlers
// never see which one is underneath.
type Ledger interface {
	Append(ctx context.Context, key string, value []byte) (domain.Entry, error)
	GetBySequence(ctx context.Context, sequence uint64) (domain.Entry, error)
	GetByKey(ctx context.Context, key string) (domain.Entry, error)
	Head(ctx context.Context) (domain.LedgerHead, error)
	PathAt(ctx context.Context, index, size uint64) ([]domain.PathStep, error)
	Consistency(ctx context.Context, fromSize, toSize uint64) (domain.ConsistencyProof, error)
	Attest(ctx context.Context) (domain.RootAttestation, error)
	LatestAttestation(ctx context.Context) (domain.RootAttestation, error)
	AttestationCovering(ctx context.Context, sequence, view uint64) (domain.RootAttestation, error)
	AttestationAt(ctx context.Context, size uint64) (domain.RootAttestation, error)
	AdvanceView(ctx context.Context, view uint64) error
	Retract(ctx context.Context, size uint64) error
	Prune(ctx context.Context, keep uint64) error
	Close() error
}

type PolicyEngine interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyResult, error)
}

type KeyRotationStore interface {
	GetActive(ctx context.Context) (*domain.SigningKey, error)
	Create(ctx context.Context, key domain.SigningKey) error
	UpdateStatus(ctx context.Context, kid string, status domain.KeyStatus) error
	List(ctx context.Context) ([]domain.SigningKey, error)
	WithTx(ctx context.Context, fn func(store KeyRotationStore) error) error
}

