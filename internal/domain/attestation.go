package domain

import "time"

// RootAttestation is a signed statement that the accumulator root over the
// first SequenceAtSigning entries, as observed in View, was Root. KeyID names
// the signing key so verifiers can resolve the public key offline; it is not
// itself signed, because substituting it changes which key the signature is
// checked against and the signature check then fails. IssuedAt is service
// bookkeeping and is never serialized into receipts.
type RootAttestation struct {
	View              uint64
	SequenceAtSigning uint64
	Root              Digest
	KeyID             string
	Signature         []byte
	IssuedAt          time.Time
}

func (a RootAttestation) Zero() bool {
	return a.SequenceAtSigning == 0 && a.Signature == nil
}

// Covers reports whether the attestation vouches for the entry with the
// given sequence and view. An attestation only speaks for entries of its own
// view: after a view change the new authority re-attests before receipts for
// its entries become issuable.
func (a RootAttestation) Covers(seq, view uint64) bool {
	return !a.Zero() && a.View == view && a.SequenceAtSigning >= seq
}

// Receipt binds one committed entry to a signed root. Path authenticates
// Leaf at leaf index Sequence-1 inside the tree of Attestation.
// SequenceAtSigning leaves.
type Receipt struct {
	Sequence    uint64
	View        uint64
	Leaf        Digest
	Path        []PathStep
	Attestation RootAttestation
}
