package domain

import (
	"encoding/hex"
	"fmt"
	"time"
)

// DigestSize is the size in bytes of every digest in the ledger: leaf
// digests, interior nodes, and attested roots.
const DigestSize = 32

type Digest [DigestSize]byte

func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a digest from strict lowercase hex. Uppercase
// characters are rejected so that every serialized digest has exactly one
// accepted encoding.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != DigestSize*2 {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", DigestSize*2, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return d, fmt.Errorf("digest contains non-lowercase-hex character %q", c)
		}
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, err
	}
	return d, nil
}

// DigestFromBytes copies b into a Digest. It rejects any length other than
// DigestSize.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

type Side uint8

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// PathStep is one level of an authentication path. Sibling is the digest to
// combine with, Side says which operand it is: SideLeft means the sibling is
// the left operand of the parent hash.
type PathStep struct {
	Sibling Digest
	Side    Side
}

// Entry is one committed record. Sequence is 1-based and dense: the entry at
// sequence n occupies leaf index n-1 of the accumulator.
type Entry struct {
	Sequence  uint64
	View      uint64
	Key       string
	Value     []byte
	Leaf      Digest
	CreatedAt time.Time
}

type LedgerHead struct {
	Size uint64
	View uint64
	Root Digest
}

type ConsistencyProof struct {
	FromSize uint64
	FromRoot Digest
	ToSize   uint64
	ToRoot   Digest
	Path     []Digest
}
