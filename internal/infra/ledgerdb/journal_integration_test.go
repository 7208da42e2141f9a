//go:build integration
// +build integration

package ledgerdb

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"strings"
	"testing"

	"tally/internal/config"
	"tally/internal/domain"
	"tally/internal/infra/db"
	"tally/internal/infra/keys/soft"
	"tally/internal/infra/ledgermem"
	"tally/internal/infra/signer"
)

func setupStore(t *testing.T) *db.Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	store, err := db.NewStore(config.Config{PostgresDSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"ledger_entries", "attestations", "ledger_state"} {
		if err := store.DB.Exec("TRUNCATE TABLE " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return store
}

func testAuthority(t *testing.T) *signer.Authority {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ref := domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: "pg-test"}
	manager := soft.NewManager(map[domain.KeyRef]ed25519.PrivateKey{ref: priv})
	return signer.NewAuthority(manager, ref, nil)
}

func TestJournalSurvivesRestart(t *testing.T) {
	store := setupStore(t)
	authority := testAuthority(t)
	ctx := context.Background()

	ledger, err := ledgermem.NewWithJournal(ctx, authority, NewJournal(store), nil)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if _, err := ledger.Append(ctx, key, []byte(key)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	att, err := ledger.Attest(ctx)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	head, err := ledger.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}

	rebooted, err := ledgermem.NewWithJournal(ctx, authority, NewJournal(store), nil)
	if err != nil {
		t.Fatalf("reboot: %v", err)
	}
	rebootedHead, err := rebooted.Head(ctx)
	if err != nil {
		t.Fatalf("rebooted head: %v", err)
	}
	if rebootedHead != head {
		t.Fatalf("head after restart %+v, want %+v", rebootedHead, head)
	}
	latest, err := rebooted.LatestAttestation(ctx)
	if err != nil {
		t.Fatalf("latest attestation: %v", err)
	}
	if latest.Root != att.Root || latest.SequenceAtSigning != att.SequenceAtSigning {
		t.Fatal("attestation history must survive restart")
	}
}
