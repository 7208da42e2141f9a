package domain

import (
	"context"
	"time"
)

// WitnessPublisher pushes fresh attestations to external witnesses.
// Implementations must not fail signing cycles on network errors.
type WitnessPublisher interface {
	Publish(ctx context.Context, att RootAttestation) []WitnessAttempt
}

type WitnessAttempt struct {
	ID       string
	Endpoint string
	Status   string
	Error    string

	View              uint64
	SequenceAtSigning uint64
	RootHex           string

	AttemptedAt time.Time
}

const (
	WitnessStatusPublished = "published"
	WitnessStatusFailed    = "failed"
	WitnessStatusSkipped   = "skipped"
)

type WitnessAttemptRepository interface {
	Append(ctx context.Context, attempt WitnessAttempt) error
	ListRecent(ctx context.Context, limit int) ([]WitnessAttempt, error)
}
