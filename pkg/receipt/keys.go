package receipt

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

func ParseEd25519PublicKeyHex(value string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, err
	}
	return parseEd25519PublicKey(raw)
}

func ParseEd25519PublicKeyBase64(value string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	return parseEd25519PublicKey(raw)
}

func parseEd25519PublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("invalid ed25519 public key length")
	}
	return append(ed25519.PublicKey(nil), raw...), nil
}

// SingleKeyRing is the common offline case: one known key ID and its key.
func SingleKeyRing(keyID string, pub ed25519.PublicKey) KeyRing {
	return KeyRing{keyID: pub}
}

// LoadKeyRing reads a key ring from a JSON file mapping key IDs to base64
// public keys, the format served by the ledger's key listing endpoint.
func LoadKeyRing(path string) (KeyRing, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse key ring: %w", err)
	}
	ring := make(KeyRing, len(entries))
	for kid, encoded := range entries {
		pub, err := ParseEd25519PublicKeyBase64(encoded)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kid, err)
		}
		ring[kid] = pub
	}
	return ring, nil
}
