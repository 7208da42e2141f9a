// Package vault resolves the ledger attestation key from Vault KV at signing
// time. The daemon never holds the private key; Vault does.
package vault

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"

	"tally/internal/config"
	"tally/internal/domain"
	"tally/internal/infra/vaultclient"
)

type Manager struct {
	client *vaultclient.Client
	env    string
}

type storedKey struct {
	Alg              string `json:"alg"`
	KID              string `json:"kid"`
	PrivateKeyBase64 string `json:"private_key_base64"`
	PublicKeyBase64  string `json:"public_key_base64"`
	Status           string `json:"status"`
}

func NewManager(client *vaultclient.Client, env string) (*Manager, error) {
	if env == "" {
		return nil, errors.New("TALLY_ENV is required")
	}
	return &Manager{client: client, env: env}, nil
}

func NewManagerFromConfig(cfg config.Config) (*Manager, error) {
	if cfg.TallyEnv == "" {
		return nil, errors.New("TALLY_ENV is required")
	}
	if cfg.VaultAddr == "" || cfg.VaultToken == "" {
		return nil, errors.New("VAULT_ADDR and VAULT_TOKEN are required")
	}
	return NewManager(vaultclient.New(cfg.VaultAddr, cfg.VaultToken), cfg.TallyEnv)
}

func (m *Manager) Sign(ctx context.Context, ref domain.KeyRef, payload []byte) ([]byte, error) {
	key, err := m.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	privKey, err := parsePrivateKeyBase64(key.PrivateKeyBase64)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(privKey, payload), nil
}

func (m *Manager) Public(ctx context.Context, ref domain.KeyRef) ([]byte, error) {
	key, err := m.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	if key.PublicKeyBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(key.PublicKeyBase64)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, errors.New("invalid ed25519 public key length")
		}
		return raw, nil
	}
	privKey, err := parsePrivateKeyBase64(key.PrivateKeyBase64)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), privKey.Public().(ed25519.PublicKey)...), nil
}

func (m *Manager) fetch(ctx context.Context, ref domain.KeyRef) (storedKey, error) {
	if m == nil || m.client == nil {
		return storedKey{}, errors.New("vault manager not configured")
	}
	path, err := vaultPath(m.env, ref)
	if err != nil {
		return storedKey{}, err
	}
	var key storedKey
	if err := m.client.ReadKV(ctx, path, &key); err != nil {
		return storedKey{}, err
	}
	if key.Alg != "" && !strings.EqualFold(key.Alg, "ed25519") {
		return storedKey{}, errors.New("unsupported key algorithm")
	}
	if key.KID != "" && key.KID != ref.KID {
		return storedKey{}, errors.New("kid mismatch")
	}
	if key.Status == string(domain.KeyStatusRevoked) {
		return storedKey{}, domain.ErrKeyRevoked
	}
	return key, nil
}

func parsePrivateKeyBase64(value string) (ed25519.PrivateKey, error) {
	if value == "" {
		return nil, errors.New("private_key_base64 is required")
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}
