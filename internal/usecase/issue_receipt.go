package usecase

import (
	"context"
	"fmt"

	"tally/internal/domain"
)

// IssueReceipt assembles the proof bundle for one committed sequence: the
// entry's leaf digest, its authentication path inside the attested tree, and
// the attestation itself. It composes lookups the ledger already serves and
// does no cryptographic work of its own.
type IssueReceipt struct {
	Ledger Ledger
}

func (uc *IssueReceipt) Execute(ctx context.Context, sequence uint64) (domain.Receipt, error) {
	if uc.Ledger == nil {
		return domain.Receipt{}, fmt.Errorf("ledger is required")
	}
	if sequence == 0 {
		return domain.Receipt{}, domain.ErrNotFound
	}

	entry, err := uc.Ledger.GetBySequence(ctx, sequence)
	if err != nil {
		return domain.Receipt{}, err
	}
	att, err := uc.Ledger.AttestationCovering(ctx, sequence, entry.View)
	if err != nil {
		return domain.Receipt{}, err
	}
	// Path against the attested size, not the live one: the receipt must
	// fold to exactly the root that was signed.
	path, err := uc.Ledger.PathAt(ctx, sequence-1, att.SequenceAtSigning)
	if err != nil {
		return domain.Receipt{}, err
	}
	return domain.Receipt{
		Sequence:    sequence,
		View:        entry.View,
		Leaf:        entry.Leaf,
		Path:        path,
		Attestation: att,
	}, nil
}
