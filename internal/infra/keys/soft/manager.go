package soft

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log"
	"sync"

	"tally/internal/config"
	"tally/internal/domain"
)

// Manager keeps ed25519 private keys in process memory and exposes them as
// capability handles: callers hold a domain.KeyRef, never key bytes.
type Manager struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey

	ledgerPrivateKeyBase64  string
	ledgerPrivateKeySeedHex string
	generated               ed25519.PrivateKey
}

func NewManager(keys map[domain.KeyRef]ed25519.PrivateKey) *Manager {
	keyMap := make(map[string]ed25519.PrivateKey, len(keys))
	for ref, key := range keys {
		keyMap[keyRefKey(ref)] = append(ed25519.PrivateKey(nil), key...)
	}
	return &Manager{keys: keyMap}
}

// NewManagerFromConfig builds a manager around the env-held ledger key. With
// no key material configured it mints an ephemeral key so a bare environment
// still signs; the key dies with the process, so receipts issued under it
// stop verifying after a restart.
func NewManagerFromConfig(cfg config.Config) *Manager {
	m := &Manager{
		keys:                    make(map[string]ed25519.PrivateKey),
		ledgerPrivateKeyBase64:  cfg.LedgerPrivateKeyBase64,
		ledgerPrivateKeySeedHex: cfg.LedgerPrivateKeySeedHex,
	}
	if m.ledgerPrivateKeyBase64 == "" && m.ledgerPrivateKeySeedHex == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			log.Fatalf("soft keys: generate ephemeral ledger key: %v", err)
		}
		m.generated = priv
		log.Printf("soft keys: no ledger key configured, generated ephemeral key public=%s",
			base64.StdEncoding.EncodeToString(pub))
	}
	return m
}

func (m *Manager) Sign(_ context.Context, ref domain.KeyRef, payload []byte) ([]byte, error) {
	if err := validateKeyRef(ref); err != nil {
		return nil, err
	}
	key := m.lookupKey(ref)
	if key == nil {
		return nil, domain.ErrKeyUnknown
	}
	return ed25519.Sign(key, payload), nil
}

func (m *Manager) Public(_ context.Context, ref domain.KeyRef) ([]byte, error) {
	if err := validateKeyRef(ref); err != nil {
		return nil, err
	}
	key := m.lookupKey(ref)
	if key == nil {
		return nil, domain.ErrKeyUnknown
	}
	pub := key.Public().(ed25519.PublicKey)
	return append([]byte(nil), pub...), nil
}

func (m *Manager) install(ref domain.KeyRef, key ed25519.PrivateKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]ed25519.PrivateKey)
	}
	m.keys[keyRefKey(ref)] = append(ed25519.PrivateKey(nil), key...)
}

func (m *Manager) remove(ref domain.KeyRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, keyRefKey(ref))
}

func (m *Manager) lookupKey(ref domain.KeyRef) ed25519.PrivateKey {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	key, ok := m.keys[keyRefKey(ref)]
	m.mu.RUnlock()
	if ok {
		return key
	}
	return m.loadConfiguredKey(ref)
}

func keyRefKey(ref domain.KeyRef) string {
	return string(ref.Purpose) + "|" + ref.KID
}

// loadConfiguredKey answers refs that were never installed from the env-held
// ledger key. Purpose alone selects it so the configured key survives key id
// renames across restarts.
func (m *Manager) loadConfiguredKey(ref domain.KeyRef) ed25519.PrivateKey {
	if ref.Purpose != domain.KeyPurposeAttestation {
		return nil
	}
	if key := readPrivateKeyBase64(m.ledgerPrivateKeyBase64); key != nil {
		return key
	}
	if key := readPrivateKeyHex(m.ledgerPrivateKeySeedHex); key != nil {
		return key
	}
	return m.generated
}

func readPrivateKeyBase64(value string) ed25519.PrivateKey {
	if value == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	key, err := parsePrivateKey(raw)
	if err != nil {
		return nil
	}
	return key
}

func readPrivateKeyHex(value string) ed25519.PrivateKey {
	if value == "" {
		return nil
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil
	}
	key, err := parsePrivateKey(raw)
	if err != nil {
		return nil
	}
	return key
}

func parsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}

func validateKeyRef(ref domain.KeyRef) error {
	if ref.KID == "" || ref.Purpose == "" {
		return errors.New("key ref is required")
	}
	switch ref.Purpose {
	case domain.KeyPurposeAttestation:
		return nil
	default:
		return errors.New("unsupported key purpose")
	}
}
