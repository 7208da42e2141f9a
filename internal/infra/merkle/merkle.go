package merkle

import (
	"crypto/sha256"
	"errors"

	"tally/internal/domain"
)

const HashSize = domain.DigestSize

var (
	ErrEmptyTree         = errors.New("empty merkle tree")
	ErrInvalidIndex      = errors.New("invalid leaf index")
	ErrInvalidSize       = errors.New("invalid tree size")
	ErrFutureSize        = errors.New("size beyond accumulator")
	ErrSuperseded        = errors.New("node dropped by pruning or retraction")
	ErrRetractBelowPrune = errors.New("cannot retract below pruning watermark")
	ErrSideMismatch      = errors.New("path side disagrees with leaf position")
	ErrPathLength        = errors.New("path length disagrees with tree size")
)

// LeafHash and NodeHash carry the RFC 6962 domain-separation prefixes, so a
// leaf digest can never be reinterpreted as an interior node or vice versa.

func LeafHash(payload []byte) domain.Digest {
	h := sha256.New()
	h.Write([]byte{0x00})
	h.Write(payload)
	var d domain.Digest
	h.Sum(d[:0])
	return d
}

func NodeHash(left, right domain.Digest) domain.Digest {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var d domain.Digest
	h.Sum(d[:0])
	return d
}

// FoldPath recomputes the root implied by an authentication path for the
// leaf at index in a tree of size leaves. Every step declares the side its
// sibling hashes on, and that side must agree with the side implied by the
// leaf position; a declared side that disagrees fails the fold even when the
// sibling digest itself is genuine.
func FoldPath(leaf domain.Digest, index, size uint64, path []domain.PathStep) (domain.Digest, error) {
	if size == 0 {
		return domain.Digest{}, ErrEmptyTree
	}
	if index >= size {
		return domain.Digest{}, ErrInvalidIndex
	}

	fn := index
	sn := size - 1
	r := leaf
	for _, step := range path {
		if sn == 0 {
			return domain.Digest{}, ErrPathLength
		}
		if fn&1 == 1 || fn == sn {
			if step.Side != domain.SideLeft {
				return domain.Digest{}, ErrSideMismatch
			}
			r = NodeHash(step.Sibling, r)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			if step.Side != domain.SideRight {
				return domain.Digest{}, ErrSideMismatch
			}
			r = NodeHash(r, step.Sibling)
		}
		fn >>= 1
		sn >>= 1
	}
	if sn != 0 {
		return domain.Digest{}, ErrPathLength
	}
	return r, nil
}

func VerifyPath(leaf domain.Digest, index, size uint64, path []domain.PathStep, root domain.Digest) (bool, error) {
	r, err := FoldPath(leaf, index, size, path)
	if err != nil {
		return false, err
	}
	return r == root, nil
}

func VerifyConsistency(oldRoot, newRoot domain.Digest, fromSize, toSize uint64, path []domain.Digest) (bool, error) {
	if fromSize == 0 || toSize == 0 || fromSize > toSize {
		return false, ErrInvalidSize
	}
	if fromSize == toSize {
		if len(path) != 0 {
			return false, nil
		}
		return oldRoot == newRoot, nil
	}
	if len(path) == 0 {
		return false, ErrInvalidSize
	}

	oldCandidate, newCandidate, used, err := consistencyFold(fromSize, toSize, path, true, oldRoot)
	if err != nil {
		return false, err
	}
	if used != len(path) {
		return false, ErrInvalidSize
	}
	return oldCandidate == oldRoot && newCandidate == newRoot, nil
}

func consistencyFold(fromSize, toSize uint64, path []domain.Digest, isFirst bool, oldRoot domain.Digest) (domain.Digest, domain.Digest, int, error) {
	if fromSize == toSize {
		if isFirst {
			return oldRoot, oldRoot, 0, nil
		}
		if len(path) == 0 {
			return domain.Digest{}, domain.Digest{}, 0, ErrInvalidSize
		}
		return path[0], path[0], 1, nil
	}
	if toSize <= 1 {
		return domain.Digest{}, domain.Digest{}, 0, ErrInvalidSize
	}

	k := largestPowerOfTwoBelow(toSize)
	if fromSize <= k {
		leftOld, leftNew, used, err := consistencyFold(fromSize, k, path, isFirst, oldRoot)
		if err != nil {
			return domain.Digest{}, domain.Digest{}, 0, err
		}
		if used >= len(path) {
			return domain.Digest{}, domain.Digest{}, 0, ErrInvalidSize
		}
		rightRoot := path[used]
		used++
		return leftOld, NodeHash(leftNew, rightRoot), used, nil
	}

	rightOld, rightNew, used, err := consistencyFold(fromSize-k, toSize-k, path, false, oldRoot)
	if err != nil {
		return domain.Digest{}, domain.Digest{}, 0, err
	}
	if used >= len(path) {
		return domain.Digest{}, domain.Digest{}, 0, ErrInvalidSize
	}
	leftRoot := path[used]
	used++
	return NodeHash(leftRoot, rightOld), NodeHash(leftRoot, rightNew), used, nil
}

func largestPowerOfTwoBelow(value uint64) uint64 {
	power := uint64(1)
	for power<<1 < value {
		power <<= 1
	}
	return power
}
