package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"tally/internal/domain"
)

var ErrSignatureInvalid = errors.New("signature invalid")

func VerifySignatureBytes(payload, sig, pubKey []byte) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid ed25519 public key length: %d", len(pubKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid ed25519 signature length: %d", len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), payload, sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyAttestation checks an attestation signature against a public key.
// Key resolution by KeyID is the caller's concern.
func VerifyAttestation(att domain.RootAttestation, pubKey []byte) error {
	payload, err := AttestationPayload(att.View, att.SequenceAtSigning, att.Root)
	if err != nil {
		return err
	}
	return VerifySignatureBytes(payload, att.Signature, pubKey)
}
