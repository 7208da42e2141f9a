package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNotYetAttested     = errors.New("entry not yet covered by an attestation")
	ErrSuperseded         = errors.New("entry superseded by retraction or pruning")
	ErrStaleAttestation   = errors.New("attestation regresses the attested frontier")
	ErrViewRegression     = errors.New("view must advance monotonically")
	ErrViewChangeRequired = errors.New("rolled back ledger requires a view change")
	ErrRetractBeforePrune = errors.New("cannot retract below the pruning watermark")
	ErrInvalidRange       = errors.New("invalid sequence range")
	ErrKeyUnknown         = errors.New("key unknown")
	ErrKeyRevoked         = errors.New("key revoked")
	ErrKeyNotActive       = errors.New("key not active")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidEntry       = errors.New("invalid entry")
	ErrLedgerClosed       = errors.New("ledger closed")
)
