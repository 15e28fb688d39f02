// Package imt implements an incremental, fixed-arity, fixed-depth Merkle
// tree over field elements. Leaves are position-addressed: the root is a
// pure function of the ordered leaf sequence, with unfilled positions
// implicitly holding the zero value. Unfilled subtrees are covered by a
// precomputed zero-hash cache so inserts and updates rehash a single path.
package imt

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/constants"
)

var (
	// ErrCapacityExceeded is returned when inserting into a full tree.
	ErrCapacityExceeded = errors.New("tree capacity exceeded")
	// ErrInvalidIndex is returned when addressing a position that has never
	// been inserted or is out of range.
	ErrInvalidIndex = errors.New("invalid leaf index")
	// ErrMalformedPath is returned when a Merkle path is structurally
	// invalid, as opposed to merely not matching the root.
	ErrMalformedPath = errors.New("malformed merkle path")
)

// HashFunc hashes one k-tuple of field elements into its parent node. The
// hash is position-sensitive: permuting the tuple changes the result.
type HashFunc func([]*big.Int) (*big.Int, error)

// Tree is an arity-k, depth-d incremental Merkle tree with capacity k^d.
type Tree struct {
	depth     int
	arity     int
	zeroValue *big.Int
	hashFn    HashFunc

	// zeros[i] is the hash of an unfilled subtree of height i:
	// zeros[0] is the zero leaf, zeros[i] = hash([zeros[i-1]] * arity).
	zeros []*big.Int

	// levels[0] holds the inserted leaves, levels[d] holds the root.
	// Positions beyond len(levels[l]) implicitly hold zeros[l].
	levels [][]*big.Int

	// nextIndex is the monotonically increasing insertion counter.
	nextIndex int
	capacity  int
}

// New creates an empty tree with the given depth, zero leaf value, arity and
// hash function. The zero-subtree hashes and the empty root are precomputed
// so the contribution of any unfilled subtree is O(1).
func New(depth int, zeroValue *big.Int, arity int, hashFn HashFunc) (*Tree, error) {
	if depth < 1 {
		return nil, fmt.Errorf("depth must be >= 1, got %d", depth)
	}
	if arity < 2 {
		return nil, fmt.Errorf("arity must be >= 2, got %d", arity)
	}
	if hashFn == nil {
		return nil, fmt.Errorf("hash function must not be nil")
	}
	if !isFieldElement(zeroValue) {
		return nil, fmt.Errorf("zero value is not a field element")
	}

	t := &Tree{
		depth:     depth,
		arity:     arity,
		zeroValue: new(big.Int).Set(zeroValue),
		hashFn:    hashFn,
		zeros:     make([]*big.Int, depth),
		levels:    make([][]*big.Int, depth+1),
		capacity:  pow(arity, depth),
	}
	t.zeros[0] = t.zeroValue
	for i := 1; i < depth; i++ {
		h, err := hashFn(repeat(t.zeros[i-1], arity))
		if err != nil {
			return nil, fmt.Errorf("precompute zero hashes: %w", err)
		}
		t.zeros[i] = h
	}
	root, err := hashFn(repeat(t.zeros[depth-1], arity))
	if err != nil {
		return nil, fmt.Errorf("precompute empty root: %w", err)
	}
	t.levels[depth] = []*big.Int{root}
	return t, nil
}

// Depth returns the depth of the tree.
func (t *Tree) Depth() int { return t.depth }

// Arity returns the arity of the tree.
func (t *Tree) Arity() int { return t.arity }

// Capacity returns the total leaf capacity, arity^depth.
func (t *Tree) Capacity() int { return t.capacity }

// LeafCount returns the number of leaves inserted so far.
func (t *Tree) LeafCount() int { return t.nextIndex }

// Root returns the current root of the tree.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.levels[t.depth][0])
}

// Insert places the leaf at the next unused position and rehashes its
// ancestor path. It returns the assigned index, or ErrCapacityExceeded if
// the tree is full.
func (t *Tree) Insert(leaf *big.Int) (int, error) {
	if t.nextIndex >= t.capacity {
		return 0, fmt.Errorf("%w: %d leaves", ErrCapacityExceeded, t.capacity)
	}
	if !isFieldElement(leaf) {
		return 0, fmt.Errorf("leaf is not a field element")
	}
	index := t.nextIndex
	t.setNode(0, index, leaf)
	if err := t.rehashPath(index); err != nil {
		return 0, err
	}
	t.nextIndex++
	return index, nil
}

// Update overwrites the leaf at an already-used position and rehashes its
// ancestor path. It fails with ErrInvalidIndex if the position has never
// been inserted.
func (t *Tree) Update(index int, leaf *big.Int) error {
	if index < 0 || index >= t.nextIndex {
		return fmt.Errorf("%w: %d (have %d leaves)", ErrInvalidIndex, index, t.nextIndex)
	}
	if !isFieldElement(leaf) {
		return fmt.Errorf("leaf is not a field element")
	}
	t.setNode(0, index, leaf)
	return t.rehashPath(index)
}

// Leaf returns the value at an already-used position.
func (t *Tree) Leaf(index int) (*big.Int, error) {
	if index < 0 || index >= t.nextIndex {
		return nil, fmt.Errorf("%w: %d (have %d leaves)", ErrInvalidIndex, index, t.nextIndex)
	}
	return new(big.Int).Set(t.node(0, index)), nil
}

// Copy returns a fully independent tree with identical state: insertion
// counter, zero-hash cache and all filled positions. Mutating either tree
// never affects the other.
func (t *Tree) Copy() *Tree {
	cp := &Tree{
		depth:     t.depth,
		arity:     t.arity,
		zeroValue: new(big.Int).Set(t.zeroValue),
		hashFn:    t.hashFn,
		zeros:     make([]*big.Int, len(t.zeros)),
		levels:    make([][]*big.Int, len(t.levels)),
		nextIndex: t.nextIndex,
		capacity:  t.capacity,
	}
	for i, z := range t.zeros {
		cp.zeros[i] = new(big.Int).Set(z)
	}
	for l, level := range t.levels {
		cp.levels[l] = make([]*big.Int, len(level))
		for i, v := range level {
			cp.levels[l][i] = new(big.Int).Set(v)
		}
	}
	return cp
}

// rehashPath recomputes the ancestors of the given leaf position up to the
// root.
func (t *Tree) rehashPath(index int) error {
	pos := index
	for level := 0; level < t.depth; level++ {
		groupStart := (pos / t.arity) * t.arity
		group := make([]*big.Int, t.arity)
		for i := range group {
			group[i] = t.node(level, groupStart+i)
		}
		parent, err := t.hashFn(group)
		if err != nil {
			return fmt.Errorf("hash level %d: %w", level, err)
		}
		pos /= t.arity
		t.setNode(level+1, pos, parent)
	}
	return nil
}

// node returns the value at the given level and position, falling back to
// the zero-subtree hash for unfilled positions.
func (t *Tree) node(level, pos int) *big.Int {
	if pos < len(t.levels[level]) && t.levels[level][pos] != nil {
		return t.levels[level][pos]
	}
	return t.zeros[level]
}

func (t *Tree) setNode(level, pos int, v *big.Int) {
	for len(t.levels[level]) <= pos {
		t.levels[level] = append(t.levels[level], nil)
	}
	t.levels[level][pos] = new(big.Int).Set(v)
}

func isFieldElement(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(constants.Q) < 0
}

func repeat(v *big.Int, n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func pow(base, exp int) int {
	out := 1
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
