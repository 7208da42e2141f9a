package receipt

import (
	"crypto/ed25519"

	"tally/internal/domain"
	cryptoinfra "tally/internal/infra/crypto"
	"tally/internal/infra/merkle"
)

type Reason string

const (
	ReasonRootMismatch       Reason = "root_mismatch"
	ReasonBadSignature       Reason = "bad_signature"
	ReasonSequenceOutOfRange Reason = "sequence_out_of_range"
	ReasonMalformed          Reason = "malformed"
)

// Result is the outcome of verifying one receipt. Verification failures are
// values, not errors: an invalid receipt is an answer, not a fault.
type Result struct {
	Valid  bool
	Reason Reason
}

func valid() Result {
	return Result{Valid: true}
}

func invalid(reason Reason) Result {
	return Result{Valid: false, Reason: reason}
}

// KeyRing maps a key ID to the ed25519 public key it names. A ring with
// retired keys still present verifies receipts issued before a rotation.
type KeyRing map[string]ed25519.PublicKey

// Verify checks a receipt against a key ring, offline. The checks run in a
// fixed order and the first failure wins:
//
//  1. fold the authentication path over the leaf digest, cross-checking each
//     declared side against the side the leaf position implies;
//  2. compare the folded root with the attested root;
//  3. verify the attestation signature with the ring key for its KeyID;
//  4. check the sequence lies within the attested range and the views match.
//
// Adversarial input can never panic: every arithmetic step is guarded by the
// fold's own bounds checks.
func Verify(r Receipt, ring KeyRing) Result {
	candidate, err := merkle.FoldPath(r.Leaf, r.Sequence-1, r.Attestation.SequenceAtSigning, r.Path)
	if err != nil {
		return invalid(ReasonRootMismatch)
	}
	if candidate != r.Attestation.Root {
		return invalid(ReasonRootMismatch)
	}

	pub, ok := ring[r.Attestation.KeyID]
	if !ok {
		return invalid(ReasonBadSignature)
	}
	if err := cryptoinfra.VerifyAttestation(r.Attestation, pub); err != nil {
		return invalid(ReasonBadSignature)
	}

	if r.Sequence == 0 || r.Sequence > r.Attestation.SequenceAtSigning {
		return invalid(ReasonSequenceOutOfRange)
	}
	if r.View != r.Attestation.View {
		return invalid(ReasonSequenceOutOfRange)
	}
	return valid()
}

// VerifySerialized decodes and verifies a wire-form receipt. Undecodable
// input is an invalid receipt with ReasonMalformed, never an error: callers
// feeding us attacker-controlled bytes get a verdict either way.
func VerifySerialized(raw []byte, ring KeyRing) Result {
	r, err := Unmarshal(raw)
	if err != nil {
		return invalid(ReasonMalformed)
	}
	return Verify(r, ring)
}

// VerifyConsistency checks that the ledger state signed by oldAtt is a
// prefix of the state signed by newAtt, using an accumulator consistency
// proof. Both attestations must carry valid signatures from the ring; the
// two may be signed by different keys, which is what lets an auditor chain
// across a key rotation.
func VerifyConsistency(oldAtt, newAtt domain.RootAttestation, proof []domain.Digest, ring KeyRing) Result {
	for _, att := range []domain.RootAttestation{oldAtt, newAtt} {
		pub, ok := ring[att.KeyID]
		if !ok {
			return invalid(ReasonBadSignature)
		}
		if err := cryptoinfra.VerifyAttestation(att, pub); err != nil {
			return invalid(ReasonBadSignature)
		}
	}
	if oldAtt.SequenceAtSigning > newAtt.SequenceAtSigning {
		return invalid(ReasonSequenceOutOfRange)
	}
	ok, err := merkle.VerifyConsistency(oldAtt.Root, newAtt.Root,
		oldAtt.SequenceAtSigning, newAtt.SequenceAtSigning, proof)
	if err != nil || !ok {
		return invalid(ReasonRootMismatch)
	}
	return valid()
}
