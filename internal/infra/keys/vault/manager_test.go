package vault

import (
	"strings"
	"testing"

	"tally/internal/config"
	"tally/internal/domain"
)

func TestNewManagerFromConfigRequiresEnv(t *testing.T) {
	cfg := config.Config{VaultAddr: "http://vault", VaultToken: "token"}
	_, err := NewManagerFromConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "TALLY_ENV") {
		t.Fatalf("expected TALLY_ENV error, got %v", err)
	}
}

func TestNewStoreFromConfigRequiresEnv(t *testing.T) {
	cfg := config.Config{VaultAddr: "http://vault", VaultToken: "token"}
	_, err := NewStoreFromConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "TALLY_ENV") {
		t.Fatalf("expected TALLY_ENV error, got %v", err)
	}
}

func TestVaultPathScoping(t *testing.T) {
	ref := domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: "kid-1"}
	path, err := vaultPath("dev", ref)
	if err != nil {
		t.Fatalf("vault path: %v", err)
	}
	expected := "secret/data/tally/dev/keys/attestation/kid-1"
	if path != expected {
		t.Fatalf("unexpected vault path: %s", path)
	}
}

func TestVaultPathRejectsInvalidPurpose(t *testing.T) {
	ref := domain.KeyRef{Purpose: domain.KeyPurpose("invalid"), KID: "kid-1"}
	if _, err := vaultPath("dev", ref); err == nil {
		t.Fatal("expected error for invalid purpose")
	}
	if _, err := vaultPath("", domain.KeyRef{Purpose: domain.KeyPurposeAttestation, KID: "kid-1"}); err == nil {
		t.Fatal("expected error for missing env")
	}
}
