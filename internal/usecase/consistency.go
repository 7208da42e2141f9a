package usecase

import (
	"context"
	"errors"
	"fmt"

	"tally/internal/domain"
)

// ConsistencyQuery serves append-only proofs between two attested sizes,
// pairing the accumulator proof with the attestations that anchor both ends.
// Auditors chain these across key rotations.
type ConsistencyQuery struct {
	Ledger Ledger
}

type ConsistencyResponse struct {
	Proof  domain.ConsistencyProof
	OldAtt *domain.RootAttestation
	NewAtt *domain.RootAttestation
}

func (uc *ConsistencyQuery) Execute(ctx context.Context, fromSize, toSize uint64) (*ConsistencyResponse, error) {
	if uc.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	proof, err := uc.Ledger.Consistency(ctx, fromSize, toSize)
	if err != nil {
		return nil, err
	}
	resp := &ConsistencyResponse{Proof: proof}

	// Attestations at exactly these sizes may not exist: the signing cadence
	// is independent of commit cadence. The proof stands on its own either
	// way; attestations are attached when the sizes were attested.
	if att, err := uc.Ledger.AttestationAt(ctx, fromSize); err == nil {
		resp.OldAtt = &att
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if att, err := uc.Ledger.AttestationAt(ctx, toSize); err == nil {
		resp.NewAtt = &att
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return resp, nil
}
