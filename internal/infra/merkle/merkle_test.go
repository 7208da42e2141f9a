package merkle

import (
	"math/rand"
	"testing"

	"tally/internal/domain"
)

// refRoot recomputes the RFC 6962 tree hash recursively from the full leaf
// slice. The accumulator must agree with it at every size.
func refRoot(t *testing.T, leaves []domain.Digest) domain.Digest {
	t.Helper()
	if len(leaves) == 0 {
		t.Fatal("refRoot of empty slice")
	}
	if len(leaves) == 1 {
		return leaves[0]
	}
	k := largestPowerOfTwoBelow(uint64(len(leaves)))
	return NodeHash(refRoot(t, leaves[:k]), refRoot(t, leaves[k:]))
}

func randomLeaves(rng *rand.Rand, n int) []domain.Digest {
	leaves := make([]domain.Digest, n)
	for i := range leaves {
		rng.Read(leaves[i][:])
	}
	return leaves
}

func TestLeafHashDomainSeparation(t *testing.T) {
	// sha256 of the single byte 0x00, the empty-payload leaf of RFC 6962.
	want := "6e340b9cffb37a989ca544e6bb780a2c78901d3fb33738768511a30617afa01d"
	if got := LeafHash(nil).Hex(); got != want {
		t.Fatalf("empty leaf hash = %s, want %s", got, want)
	}
	if LeafHash([]byte("a")) == LeafHash([]byte("b")) {
		t.Fatal("distinct payloads must hash differently")
	}
}

func TestNodeHashNotCommutative(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var a, b domain.Digest
	rng.Read(a[:])
	rng.Read(b[:])
	if NodeHash(a, b) == NodeHash(b, a) {
		t.Fatal("node hash must depend on operand order")
	}
}

func TestFoldPathAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for size := 1; size <= 32; size++ {
		leaves := randomLeaves(rng, size)
		acc := NewAccumulator()
		for _, leaf := range leaves {
			acc.Append(leaf)
		}
		want := refRoot(t, leaves)

		for i := 0; i < size; i++ {
			path, err := acc.PathAt(uint64(i), uint64(size))
			if err != nil {
				t.Fatalf("size=%d index=%d: PathAt: %v", size, i, err)
			}
			got, err := FoldPath(leaves[i], uint64(i), uint64(size), path)
			if err != nil {
				t.Fatalf("size=%d index=%d: FoldPath: %v", size, i, err)
			}
			if got != want {
				t.Fatalf("size=%d index=%d: folded root mismatch", size, i)
			}
		}
	}
}

func TestFoldPathRejectsFlippedSide(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for size := 2; size <= 16; size++ {
		leaves := randomLeaves(rng, size)
		acc := NewAccumulator()
		for _, leaf := range leaves {
			acc.Append(leaf)
		}
		for i := 0; i < size; i++ {
			path, err := acc.PathAt(uint64(i), uint64(size))
			if err != nil {
				t.Fatalf("PathAt: %v", err)
			}
			for step := range path {
				tampered := append([]domain.PathStep(nil), path...)
				if tampered[step].Side == domain.SideLeft {
					tampered[step].Side = domain.SideRight
				} else {
					tampered[step].Side = domain.SideLeft
				}
				if _, err := FoldPath(leaves[i], uint64(i), uint64(size), tampered); err == nil {
					t.Fatalf("size=%d index=%d step=%d: flipped side must not fold", size, i, step)
				}
			}
		}
	}
}

func TestFoldPathRejectsWrongIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	leaves := randomLeaves(rng, 11)
	acc := NewAccumulator()
	for _, leaf := range leaves {
		acc.Append(leaf)
	}
	root := refRoot(t, leaves)

	path, err := acc.PathAt(4, 11)
	if err != nil {
		t.Fatalf("PathAt: %v", err)
	}
	for other := uint64(0); other < 11; other++ {
		if other == 4 {
			continue
		}
		got, err := FoldPath(leaves[4], other, 11, path)
		if err == nil && got == root {
			t.Fatalf("path for index 4 must not verify at index %d", other)
		}
	}
	if _, err := FoldPath(leaves[4], 11, 11, path); err == nil {
		t.Fatal("index beyond size must fail")
	}
	if _, err := FoldPath(leaves[4], 4, 0, path); err == nil {
		t.Fatal("empty tree must fail")
	}
}

func TestFoldPathRejectsTruncatedAndPadded(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	leaves := randomLeaves(rng, 9)
	acc := NewAccumulator()
	for _, leaf := range leaves {
		acc.Append(leaf)
	}
	root := refRoot(t, leaves)

	path, err := acc.PathAt(3, 9)
	if err != nil {
		t.Fatalf("PathAt: %v", err)
	}
	short := path[:len(path)-1]
	if got, err := FoldPath(leaves[3], 3, 9, short); err == nil && got == root {
		t.Fatal("truncated path must not verify")
	}
	long := append(append([]domain.PathStep(nil), path...), path[0])
	if got, err := FoldPath(leaves[3], 3, 9, long); err == nil && got == root {
		t.Fatal("padded path must not verify")
	}
}

func TestVerifyConsistencyAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for size := 1; size <= 20; size++ {
		leaves := randomLeaves(rng, size)
		acc := NewAccumulator()
		for _, leaf := range leaves {
			acc.Append(leaf)
		}
		for from := 1; from <= size; from++ {
			proof, err := acc.ConsistencyAt(uint64(from), uint64(size))
			if err != nil {
				t.Fatalf("from=%d to=%d: ConsistencyAt: %v", from, size, err)
			}
			oldRoot := refRoot(t, leaves[:from])
			newRoot := refRoot(t, leaves)
			ok, err := VerifyConsistency(oldRoot, newRoot, uint64(from), uint64(size), proof)
			if err != nil {
				t.Fatalf("from=%d to=%d: VerifyConsistency: %v", from, size, err)
			}
			if !ok {
				t.Fatalf("from=%d to=%d: consistency proof rejected", from, size)
			}

			ok, err = VerifyConsistency(newRoot, oldRoot, uint64(from), uint64(size), proof)
			if from != size && err == nil && ok {
				t.Fatalf("from=%d to=%d: swapped roots accepted", from, size)
			}

			if len(proof) > 0 {
				tampered := append([]domain.Digest(nil), proof...)
				tampered[0][0] ^= 0x01
				ok, err = VerifyConsistency(oldRoot, newRoot, uint64(from), uint64(size), tampered)
				if err == nil && ok {
					t.Fatalf("from=%d to=%d: tampered proof accepted", from, size)
				}
			}
		}
	}
}
