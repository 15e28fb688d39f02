package imt

import (
	"fmt"
	"math/big"
)

// MerklePath proves membership of a leaf at a position. For each level from
// leaf to root it records the sibling group (the other arity-1 values) and
// the position of the path's own node within the full k-tuple.
type MerklePath struct {
	// Siblings[level] holds the arity-1 co-located values at that level,
	// ordered from leaf level to root.
	Siblings [][]*big.Int
	// Indices[level] is the position of the path's own node within its
	// k-tuple at that level.
	Indices []int
	// Leaf is the claimed leaf value.
	Leaf *big.Int
	// Root is the claimed root the path folds up to.
	Root *big.Int
	// Arity of the tree the path was generated from.
	Arity int
}

// GenMerklePath builds the membership path for an already-used position. It
// fails with ErrInvalidIndex for positions never inserted.
func (t *Tree) GenMerklePath(index int) (*MerklePath, error) {
	if index < 0 || index >= t.nextIndex {
		return nil, fmt.Errorf("%w: %d (have %d leaves)", ErrInvalidIndex, index, t.nextIndex)
	}
	path := &MerklePath{
		Siblings: make([][]*big.Int, t.depth),
		Indices:  make([]int, t.depth),
		Leaf:     new(big.Int).Set(t.node(0, index)),
		Root:     t.Root(),
		Arity:    t.arity,
	}
	pos := index
	for level := 0; level < t.depth; level++ {
		own := pos % t.arity
		groupStart := pos - own
		siblings := make([]*big.Int, 0, t.arity-1)
		for i := 0; i < t.arity; i++ {
			if i == own {
				continue
			}
			siblings = append(siblings, new(big.Int).Set(t.node(level, groupStart+i)))
		}
		path.Siblings[level] = siblings
		path.Indices[level] = own
		pos /= t.arity
	}
	return path, nil
}

// VerifyMerklePath folds the path bottom-up with the given hash function:
// at each level the claimed value is placed at its recorded position within
// the sibling group and the k-tuple is hashed into the claimed value of the
// next level. It returns true iff the final value equals the claimed root.
// Structurally invalid paths (wrong group size, index out of range, missing
// values) fail with ErrMalformedPath rather than returning false, to
// distinguish garbage input from a wrong value.
func VerifyMerklePath(path *MerklePath, hashFn HashFunc) (bool, error) {
	if path == nil || path.Leaf == nil || path.Root == nil {
		return false, fmt.Errorf("%w: missing fields", ErrMalformedPath)
	}
	if path.Arity < 2 {
		return false, fmt.Errorf("%w: arity %d", ErrMalformedPath, path.Arity)
	}
	if len(path.Siblings) == 0 || len(path.Siblings) != len(path.Indices) {
		return false, fmt.Errorf("%w: %d sibling groups, %d indices",
			ErrMalformedPath, len(path.Siblings), len(path.Indices))
	}
	current := path.Leaf
	for level, siblings := range path.Siblings {
		if len(siblings) != path.Arity-1 {
			return false, fmt.Errorf("%w: level %d has %d siblings, want %d",
				ErrMalformedPath, level, len(siblings), path.Arity-1)
		}
		own := path.Indices[level]
		if own < 0 || own >= path.Arity {
			return false, fmt.Errorf("%w: level %d index %d out of range",
				ErrMalformedPath, level, own)
		}
		group := make([]*big.Int, 0, path.Arity)
		group = append(group, siblings[:own]...)
		group = append(group, current)
		group = append(group, siblings[own:]...)
		for i, v := range group {
			if v == nil {
				return false, fmt.Errorf("%w: level %d value %d is nil", ErrMalformedPath, level, i)
			}
		}
		next, err := hashFn(group)
		if err != nil {
			return false, fmt.Errorf("hash level %d: %w", level, err)
		}
		current = next
	}
	return current.Cmp(path.Root) == 0, nil
}

// Copy returns an independent copy of the path.
func (p *MerklePath) Copy() *MerklePath {
	cp := &MerklePath{
		Siblings: make([][]*big.Int, len(p.Siblings)),
		Indices:  make([]int, len(p.Indices)),
		Leaf:     new(big.Int).Set(p.Leaf),
		Root:     new(big.Int).Set(p.Root),
		Arity:    p.Arity,
	}
	copy(cp.Indices, p.Indices)
	for i, group := range p.Siblings {
		cp.Siblings[i] = make([]*big.Int, len(group))
		for j, v := range group {
			cp.Siblings[i][j] = new(big.Int).Set(v)
		}
	}
	return cp
}
