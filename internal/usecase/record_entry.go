package usecase

import (
	"context"
	"fmt"

	"tally/internal/domain"
)

// RecordEntry commits one key/value write to the ledger. The admission
// policy, when configured, sees the entry before it is appended; a denied
// write never reaches the accumulator.
type RecordEntry struct {
	Ledger Ledger
	Policy PolicyEngine
}

type RecordEntryRequest struct {
	Key   string
	Value []byte
}

type RecordEntryResponse struct {
	Sequence uint64
	View     uint64
	Leaf     domain.Digest
}

func (uc *RecordEntry) Execute(ctx context.Context, req RecordEntryRequest) (*RecordEntryResponse, error) {
	if uc.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if req.Key == "" {
		return nil, domain.ErrInvalidEntry
	}

	if uc.Policy != nil {
		head, err := uc.Ledger.Head(ctx)
		if err != nil {
			return nil, err
		}
		result, err := uc.Policy.Evaluate(ctx, domain.PolicyInput{
			Entry: domain.PolicyEntry{Key: req.Key, ValueSize: len(req.Value)},
			Head:  domain.PolicyHead{Size: head.Size, View: head.View},
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate admission policy: %w", err)
		}
		if !result.Allow {
			return nil, policyDenied(result)
		}
	}

	entry, err := uc.Ledger.Append(ctx, req.Key, req.Value)
	if err != nil {
		return nil, err
	}
	return &RecordEntryResponse{
		Sequence: entry.Sequence,
		View:     entry.View,
		Leaf:     entry.Leaf,
	}, nil
}

// PolicyDeniedError carries the policy's own deny codes to the RPC boundary.
type PolicyDeniedError struct {
	Denials []domain.PolicyDeny
}

func (e *PolicyDeniedError) Error() string {
	if len(e.Denials) == 0 {
		return "entry denied by admission policy"
	}
	return "entry denied by admission policy: " + e.Denials[0].Code
}

func policyDenied(result domain.PolicyResult) error {
	return &PolicyDeniedError{Denials: result.Deny}
}
