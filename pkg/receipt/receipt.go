// Package receipt is the offline side of the ledger: the wire format for
// commit receipts and the verification that needs nothing but a receipt and
// the ledger's public keys. It never talks to a live ledger.
package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"tally/internal/domain"
	cryptoinfra "tally/internal/infra/crypto"
)

// Receipt binds one committed entry to a signed root attestation. See the
// domain package for field semantics.
type Receipt = domain.Receipt

const (
	sideLeft  = "left"
	sideRight = "right"
)

type pathStepJSON struct {
	Side string `json:"side"`
	Hash string `json:"hash"`
}

type attestationJSON struct {
	View              uint64 `json:"view"`
	SequenceAtSigning uint64 `json:"sequence_at_signing"`
	RootHash          string `json:"root_hash"`
	KeyID             string `json:"key_id"`
	Signature         string `json:"signature"`
}

type receiptJSON struct {
	Sequence    uint64          `json:"sequence"`
	View        uint64          `json:"view"`
	LeafHash    string          `json:"leaf_hash"`
	Path        []pathStepJSON  `json:"path"`
	Attestation attestationJSON `json:"attestation"`
}

// Marshal renders a receipt in its wire form: compact JSON, lowercase hex
// digests, standard base64 signature. The encoding is canonical in the sense
// that decoding accepts exactly one spelling of every field, so any byte
// change to the output is detectable.
func Marshal(r Receipt) ([]byte, error) {
	doc := receiptJSON{
		Sequence: r.Sequence,
		View:     r.View,
		LeafHash: r.Leaf.Hex(),
		Path:     make([]pathStepJSON, 0, len(r.Path)),
		Attestation: attestationJSON{
			View:              r.Attestation.View,
			SequenceAtSigning: r.Attestation.SequenceAtSigning,
			RootHash:          r.Attestation.Root.Hex(),
			KeyID:             r.Attestation.KeyID,
			Signature:         base64.StdEncoding.EncodeToString(r.Attestation.Signature),
		},
	}
	for _, step := range r.Path {
		side := sideRight
		if step.Side == domain.SideLeft {
			side = sideLeft
		}
		doc.Path = append(doc.Path, pathStepJSON{Side: side, Hash: step.Sibling.Hex()})
	}
	return json.Marshal(doc)
}

// Unmarshal decodes a wire-form receipt strictly. Unknown fields, uppercase
// hex, non-canonical base64, unrecognized sides, and trailing data are all
// rejected: a serialized receipt either decodes to exactly the value that
// produced it or it does not decode.
func Unmarshal(raw []byte) (Receipt, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var doc receiptJSON
	if err := dec.Decode(&doc); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	if err := ensureEOF(dec); err != nil {
		return Receipt{}, err
	}

	leaf, err := domain.ParseDigest(doc.LeafHash)
	if err != nil {
		return Receipt{}, fmt.Errorf("leaf_hash: %w", err)
	}
	root, err := domain.ParseDigest(doc.Attestation.RootHash)
	if err != nil {
		return Receipt{}, fmt.Errorf("attestation.root_hash: %w", err)
	}
	sig, err := base64.StdEncoding.Strict().DecodeString(doc.Attestation.Signature)
	if err != nil {
		return Receipt{}, fmt.Errorf("attestation.signature: %w", err)
	}
	if doc.Attestation.KeyID == "" {
		return Receipt{}, errors.New("attestation.key_id missing")
	}

	path := make([]domain.PathStep, 0, len(doc.Path))
	for i, step := range doc.Path {
		sibling, err := domain.ParseDigest(step.Hash)
		if err != nil {
			return Receipt{}, fmt.Errorf("path[%d].hash: %w", i, err)
		}
		var side domain.Side
		switch step.Side {
		case sideLeft:
			side = domain.SideLeft
		case sideRight:
			side = domain.SideRight
		default:
			return Receipt{}, fmt.Errorf("path[%d].side: unknown side %q", i, step.Side)
		}
		path = append(path, domain.PathStep{Sibling: sibling, Side: side})
	}

	return Receipt{
		Sequence: doc.Sequence,
		View:     doc.View,
		Leaf:     leaf,
		Path:     path,
		Attestation: domain.RootAttestation{
			View:              doc.Attestation.View,
			SequenceAtSigning: doc.Attestation.SequenceAtSigning,
			Root:              root,
			KeyID:             doc.Attestation.KeyID,
			Signature:         sig,
		},
	}, nil
}

func ensureEOF(dec *json.Decoder) error {
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode receipt: %w", err)
	}
	return errors.New("decode receipt: trailing data")
}

// EntryDigest recomputes the leaf digest for an entry the caller recorded,
// so a receipt can be matched against the caller's own copy of the data.
func EntryDigest(key string, value []byte) (domain.Digest, error) {
	return cryptoinfra.EntryLeafDigest(key, value)
}
