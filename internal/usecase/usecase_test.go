package usecase

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"tally/internal/domain"
	"tally/internal/infra/keys/soft"
	"tally/internal/infra/ledgermem"
	"tally/internal/infra/signer"
	"tally/pkg/receipt"
)

const testKID = "ledger-key-test"

type testStack struct {
	ledger    *ledgermem.Ledger
	authority *signer.Authority
	manager   *soft.Manager
	ring      receipt.KeyRing
	ref       domain.KeyRef
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ref := domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: testKID}
	manager := soft.NewManager(map[domain.KeyRef]ed25519.PrivateKey{ref: priv})
	authority := signer.NewAuthority(manager, ref, nil)
	ledger := ledgermem.New(authority)
	t.Cleanup(func() { _ = ledger.Close() })
	return &testStack{
		ledger:    ledger,
		authority: authority,
		manager:   manager,
		ring:      receipt.SingleKeyRing(testKID, pub),
		ref:       ref,
	}
}

func (s *testStack) commit(t *testing.T, key string, value []byte) domain.Entry {
	t.Helper()
	entry, err := s.ledger.Append(context.Background(), key, value)
	if err != nil {
		t.Fatalf("append %q: %v", key, err)
	}
	return entry
}

func (s *testStack) attest(t *testing.T) domain.RootAttestation {
	t.Helper()
	att, err := s.ledger.Attest(context.Background())
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	return att
}

type memKeyStore struct {
	keys []domain.SigningKey
}

func (m *memKeyStore) GetActive(context.Context) (*domain.SigningKey, error) {
	for i := len(m.keys) - 1; i >= 0; i-- {
		if m.keys[i].Status == domain.KeyStatusActive {
			key := m.keys[i]
			return &key, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memKeyStore) Create(_ context.Context, key domain.SigningKey) error {
	m.keys = append(m.keys, key)
	return nil
}

func (m *memKeyStore) UpdateStatus(_ context.Context, kid string, status domain.KeyStatus) error {
	for i := range m.keys {
		if m.keys[i].KID == kid {
			m.keys[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memKeyStore) List(context.Context) ([]domain.SigningKey, error) {
	return append([]domain.SigningKey(nil), m.keys...), nil
}

func (m *memKeyStore) WithTx(_ context.Context, fn func(store KeyRotationStore) error) error {
	return fn(m)
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
