package merkle

import (
	"sync"

	"tally/internal/domain"
)

// Accumulator is an incremental append-only Merkle tree over leaf digests.
// Nodes live in per-level arrays indexed by position: level 0 holds the
// leaves in append order and level k+1 gains a node whenever two level-k
// nodes pair up. A node is written exactly once and never changes, so the
// tree of any historical size is a prefix of the arrays and historical roots
// and paths are served from the same storage as the current ones.
//
// Pruning trims each level array from the front but keeps the node just
// below the watermark boundary, which is the left spine that every retained
// path and every root at or beyond the watermark still needs.
type Accumulator struct {
	mu     sync.RWMutex
	levels [][]domain.Digest
	offset []uint64
	size   uint64
	mark   uint64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds one leaf digest and returns the new leaf count. Carries are
// resolved immediately: at most one parent completes per level, so the cost
// is logarithmic in the tree size.
func (a *Accumulator) Append(leaf domain.Digest) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.levels) == 0 {
		a.levels = append(a.levels, nil)
		a.offset = append(a.offset, 0)
	}
	a.levels[0] = append(a.levels[0], leaf)
	a.size++

	for k := 0; ; k++ {
		children := a.size >> uint(k)
		if children < 2 {
			break
		}
		parents := children >> 1
		if k+1 >= len(a.levels) {
			a.levels = append(a.levels, nil)
			a.offset = append(a.offset, 0)
		}
		have := a.offset[k+1] + uint64(len(a.levels[k+1]))
		if have >= parents {
			break
		}
		// The two children of the completing parent are never below the
		// pruning watermark: they sit at or past the current peaks.
		left := a.levels[k][parents*2-2-a.offset[k]]
		right := a.levels[k][parents*2-1-a.offset[k]]
		a.levels[k+1] = append(a.levels[k+1], NodeHash(left, right))
	}
	return a.size
}

func (a *Accumulator) Size() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// Watermark returns the lowest leaf index still provable after pruning.
func (a *Accumulator) Watermark() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mark
}

func (a *Accumulator) Root() (domain.Digest, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rootAt(a.size)
}

// Snapshot returns the current size and root as one consistent pair.
func (a *Accumulator) Snapshot() (uint64, domain.Digest, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	root, err := a.rootAt(a.size)
	if err != nil {
		return 0, domain.Digest{}, err
	}
	return a.size, root, nil
}

// RootAt returns the root of the tree over the first size leaves.
func (a *Accumulator) RootAt(size uint64) (domain.Digest, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if size > a.size {
		return domain.Digest{}, ErrFutureSize
	}
	if size < a.mark {
		return domain.Digest{}, ErrSuperseded
	}
	return a.rootAt(size)
}

// PathAt returns the authentication path of the leaf at index inside the
// tree over the first size leaves, leaf to root, with explicit sides.
func (a *Accumulator) PathAt(index, size uint64) ([]domain.PathStep, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if size == 0 {
		return nil, ErrEmptyTree
	}
	if size > a.size {
		return nil, ErrFutureSize
	}
	if index >= size {
		return nil, ErrInvalidIndex
	}
	if index < a.mark {
		return nil, ErrSuperseded
	}
	path := make([]domain.PathStep, 0, 8)
	if err := a.pathInRange(index, 0, size, &path); err != nil {
		return nil, err
	}
	return path, nil
}

// ConsistencyAt returns an RFC 6962 consistency proof between the trees over
// the first fromSize and the first toSize leaves.
func (a *Accumulator) ConsistencyAt(fromSize, toSize uint64) ([]domain.Digest, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if fromSize == 0 || toSize == 0 || fromSize > toSize {
		return nil, ErrInvalidSize
	}
	if toSize > a.size {
		return nil, ErrFutureSize
	}
	if fromSize < a.mark {
		return nil, ErrSuperseded
	}
	if fromSize == toSize {
		return []domain.Digest{}, nil
	}
	path := make([]domain.Digest, 0, 8)
	if err := a.consistencyInRange(0, toSize, fromSize, true, &path); err != nil {
		return nil, err
	}
	return path, nil
}

// Retract truncates the accumulator to an earlier leaf count. Nodes above
// the new size are discarded; everything at or below it is untouched.
func (a *Accumulator) Retract(size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size > a.size {
		return ErrFutureSize
	}
	if size < a.mark {
		return ErrRetractBelowPrune
	}
	if size == a.size {
		return nil
	}
	for k := range a.levels {
		count := size >> uint(k)
		if count < a.offset[k] {
			count = a.offset[k]
		}
		a.levels[k] = a.levels[k][:count-a.offset[k]]
	}
	for len(a.levels) > 1 && len(a.levels[len(a.levels)-1]) == 0 && a.offset[len(a.levels)-1] == 0 {
		a.levels = a.levels[:len(a.levels)-1]
		a.offset = a.offset[:len(a.offset)-1]
	}
	a.size = size
	return nil
}

// Prune raises the watermark to keep and releases every node that no
// retained path, root, or consistency proof can reference. Each level keeps
// the single node just below the boundary: it is the left spine that roots
// at or beyond the watermark fold against. Pruning below the current
// watermark is a no-op.
func (a *Accumulator) Prune(keep uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if keep > a.size {
		return ErrFutureSize
	}
	if keep <= a.mark {
		return nil
	}
	a.mark = keep
	for k := range a.levels {
		boundary := a.mark >> uint(k)
		if boundary > 0 {
			boundary--
		}
		if boundary <= a.offset[k] {
			continue
		}
		drop := boundary - a.offset[k]
		kept := make([]domain.Digest, uint64(len(a.levels[k]))-drop)
		copy(kept, a.levels[k][drop:])
		a.levels[k] = kept
		a.offset[k] = boundary
	}
	return nil
}

func (a *Accumulator) rootAt(size uint64) (domain.Digest, error) {
	if size == 0 {
		return domain.Digest{}, ErrEmptyTree
	}
	return a.rangeRoot(0, size)
}

// rangeRoot computes the subtree root over leaves [lo, hi). Perfect aligned
// ranges are stored nodes; ragged ranges split at the largest power of two,
// which reproduces the RFC 6962 tree shape.
func (a *Accumulator) rangeRoot(lo, hi uint64) (domain.Digest, error) {
	n := hi - lo
	if n == 1 {
		return a.node(0, lo)
	}
	if n&(n-1) == 0 && lo&(n-1) == 0 {
		k := 0
		for m := n; m > 1; m >>= 1 {
			k++
		}
		return a.node(k, lo>>uint(k))
	}
	k := largestPowerOfTwoBelow(n)
	left, err := a.rangeRoot(lo, lo+k)
	if err != nil {
		return domain.Digest{}, err
	}
	right, err := a.rangeRoot(lo+k, hi)
	if err != nil {
		return domain.Digest{}, err
	}
	return NodeHash(left, right), nil
}

func (a *Accumulator) pathInRange(index, lo, hi uint64, path *[]domain.PathStep) error {
	if hi-lo == 1 {
		return nil
	}
	k := largestPowerOfTwoBelow(hi - lo)
	mid := lo + k
	if index < mid {
		if err := a.pathInRange(index, lo, mid, path); err != nil {
			return err
		}
		sibling, err := a.rangeRoot(mid, hi)
		if err != nil {
			return err
		}
		*path = append(*path, domain.PathStep{Sibling: sibling, Side: domain.SideRight})
		return nil
	}
	if err := a.pathInRange(index, mid, hi, path); err != nil {
		return err
	}
	sibling, err := a.rangeRoot(lo, mid)
	if err != nil {
		return err
	}
	*path = append(*path, domain.PathStep{Sibling: sibling, Side: domain.SideLeft})
	return nil
}

func (a *Accumulator) consistencyInRange(lo, hi, from uint64, isFirst bool, path *[]domain.Digest) error {
	n := hi - lo
	if from == n {
		if isFirst {
			return nil
		}
		root, err := a.rangeRoot(lo, hi)
		if err != nil {
			return err
		}
		*path = append(*path, root)
		return nil
	}
	if n <= 1 {
		return ErrInvalidSize
	}
	k := largestPowerOfTwoBelow(n)
	if from <= k {
		if err := a.consistencyInRange(lo, lo+k, from, isFirst, path); err != nil {
			return err
		}
		right, err := a.rangeRoot(lo+k, hi)
		if err != nil {
			return err
		}
		*path = append(*path, right)
		return nil
	}
	if err := a.consistencyInRange(lo+k, hi, from-k, false, path); err != nil {
		return err
	}
	left, err := a.rangeRoot(lo, lo+k)
	if err != nil {
		return err
	}
	*path = append(*path, left)
	return nil
}

func (a *Accumulator) node(k int, i uint64) (domain.Digest, error) {
	if k >= len(a.levels) {
		return domain.Digest{}, ErrFutureSize
	}
	if i < a.offset[k] {
		return domain.Digest{}, ErrSuperseded
	}
	j := i - a.offset[k]
	if j >= uint64(len(a.levels[k])) {
		return domain.Digest{}, ErrFutureSize
	}
	return a.levels[k][j], nil
}
