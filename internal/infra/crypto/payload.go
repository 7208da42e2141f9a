package crypto

import (
	"encoding/base64"

	"tally/internal/domain"
	"tally/internal/infra/merkle"
)

// The two payloads below are the only byte strings the ledger ever hashes or
// signs. Both are canonical JSON, so independently written verifiers can
// rebuild them from a receipt without reproducing Go struct layouts.

type entryPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type attestationPayload struct {
	View              uint64 `json:"view"`
	SequenceAtSigning uint64 `json:"sequence_at_signing"`
	RootHash          string `json:"root_hash"`
}

func EntryPayload(key string, value []byte) ([]byte, error) {
	return Canonicalize(entryPayload{
		Key:   key,
		Value: base64.StdEncoding.EncodeToString(value),
	})
}

// EntryLeafDigest computes the leaf digest committed to the accumulator for
// one entry: the domain-separated hash of the canonical entry payload.
func EntryLeafDigest(key string, value []byte) (domain.Digest, error) {
	payload, err := EntryPayload(key, value)
	if err != nil {
		return domain.Digest{}, err
	}
	return merkle.LeafHash(payload), nil
}

func AttestationPayload(view, sequenceAtSigning uint64, root domain.Digest) ([]byte, error) {
	return Canonicalize(attestationPayload{
		View:              view,
		SequenceAtSigning: sequenceAtSigning,
		RootHash:          root.Hex(),
	})
}
