package usecase

import (
	"context"
	"errors"
	"testing"

	"tally/internal/domain"
)

type stubPolicy struct {
	result domain.PolicyResult
	err    error
	inputs []domain.PolicyInput
}

func (p *stubPolicy) Evaluate(_ context.Context, input domain.PolicyInput) (domain.PolicyResult, error) {
	p.inputs = append(p.inputs, input)
	return p.result, p.err
}

func TestRecordEntry_CommitsAndReturnsPosition(t *testing.T) {
	stack := newTestStack(t)
	uc := &RecordEntry{Ledger: stack.ledger}

	first, err := uc.Execute(context.Background(), RecordEntryRequest{Key: "alpha", Value: []byte("one")})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Sequence != 1 || first.View != 1 {
		t.Fatalf("unexpected position %+v", first)
	}
	second, err := uc.Execute(context.Background(), RecordEntryRequest{Key: "beta", Value: []byte("two")})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if second.Sequence != 2 {
		t.Fatalf("sequences must be dense, got %d", second.Sequence)
	}
	if first.Leaf == second.Leaf {
		t.Fatal("distinct entries must have distinct leaf digests")
	}
}

func TestRecordEntry_RejectsEmptyKey(t *testing.T) {
	stack := newTestStack(t)
	uc := &RecordEntry{Ledger: stack.ledger}

	_, err := uc.Execute(context.Background(), RecordEntryRequest{Key: ""})
	if !errors.Is(err, domain.ErrInvalidEntry) {
		t.Fatalf("want ErrInvalidEntry, got %v", err)
	}
}

func TestRecordEntry_PolicyDenyBlocksCommit(t *testing.T) {
	stack := newTestStack(t)
	policy := &stubPolicy{result: domain.PolicyResult{
		Allow: false,
		Deny:  []domain.PolicyDeny{{Code: "VALUE_TOO_LARGE"}},
	}}
	uc := &RecordEntry{Ledger: stack.ledger, Policy: policy}

	_, err := uc.Execute(context.Background(), RecordEntryRequest{Key: "alpha", Value: []byte("x")})
	var denied *PolicyDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("want PolicyDeniedError, got %v", err)
	}
	if len(denied.Denials) != 1 || denied.Denials[0].Code != "VALUE_TOO_LARGE" {
		t.Fatalf("unexpected denials %+v", denied.Denials)
	}

	head, err := stack.ledger.Head(context.Background())
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Size != 0 {
		t.Fatalf("denied entry must not be committed, ledger size %d", head.Size)
	}
}

func TestRecordEntry_PolicySeesEntryAndHead(t *testing.T) {
	stack := newTestStack(t)
	stack.commit(t, "existing", []byte("v"))
	policy := &stubPolicy{result: domain.PolicyResult{Allow: true}}
	uc := &RecordEntry{Ledger: stack.ledger, Policy: policy}

	if _, err := uc.Execute(context.Background(), RecordEntryRequest{Key: "alpha", Value: []byte("abc")}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(policy.inputs) != 1 {
		t.Fatalf("policy must be evaluated once, got %d", len(policy.inputs))
	}
	input := policy.inputs[0]
	if input.Entry.Key != "alpha" || input.Entry.ValueSize != 3 {
		t.Fatalf("unexpected policy entry %+v", input.Entry)
	}
	if input.Head.Size != 1 || input.Head.View != 1 {
		t.Fatalf("unexpected policy head %+v", input.Head)
	}
}
