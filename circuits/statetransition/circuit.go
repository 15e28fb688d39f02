package statetransition

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
	gposeidon "github.com/vocdoni/gnark-crypto-primitives/poseidon"

	"github.com/dvlprsh/maci/crypto/hash/poseidon"
)

// Circuit proves one k-ary Merkle leaf transition: the old leaf hash belongs
// to RootHashBefore, and replacing it within the same sibling groups yields
// RootHashAfter. For a skipped (invalid) message old and new leaf hashes are
// equal, so both roots are too.
type Circuit struct {
	// Public inputs
	RootHashBefore frontend.Variable `gnark:",public"`
	RootHashAfter  frontend.Variable `gnark:",public"`
	// Private inputs
	OldLeafHash frontend.Variable
	NewLeafHash frontend.Variable
	// PathIndices[level] is the position of the path node within its group.
	PathIndices []frontend.Variable
	// SiblingGroups[level] is the full pre-update k-tuple at that level,
	// including the path node itself at PathIndices[level].
	SiblingGroups [][]frontend.Variable
}

// NewCircuit allocates a circuit shape for the given tree depth and arity.
func NewCircuit(depth, arity int) *Circuit {
	c := &Circuit{
		PathIndices:   make([]frontend.Variable, depth),
		SiblingGroups: make([][]frontend.Variable, depth),
	}
	for i := range c.SiblingGroups {
		c.SiblingGroups[i] = make([]frontend.Variable, arity)
	}
	return c
}

// Define declares the circuit's constraints.
func (c *Circuit) Define(api frontend.API) error {
	curOld := c.OldLeafHash
	curNew := c.NewLeafHash
	for level, group := range c.SiblingGroups {
		selSum := frontend.Variable(0)
		oldAtIndex := frontend.Variable(0)
		newGroup := make([]frontend.Variable, len(group))
		for j := range group {
			sel := api.IsZero(api.Sub(c.PathIndices[level], j))
			selSum = api.Add(selSum, sel)
			oldAtIndex = api.Add(oldAtIndex, api.Mul(sel, group[j]))
			newGroup[j] = api.Select(sel, curNew, group[j])
		}
		// the index selects exactly one slot, and that slot holds the
		// running old value
		api.AssertIsEqual(selSum, 1)
		api.AssertIsEqual(oldAtIndex, curOld)

		var err error
		if curOld, err = gposeidon.Hash(api, group...); err != nil {
			return err
		}
		if curNew, err = gposeidon.Hash(api, newGroup...); err != nil {
			return err
		}
	}
	api.AssertIsEqual(curOld, c.RootHashBefore)
	api.AssertIsEqual(curNew, c.RootHashAfter)
	return nil
}

// Assign builds the witness assignment for the circuit from an input bundle.
// It recomputes the full pre-update sibling groups by folding the old leaf
// hash up the path.
func (in *Inputs) Assign() (*Circuit, error) {
	depth := len(in.StateTreeSiblings)
	if depth == 0 || depth != len(in.StateTreePathIndices) {
		return nil, fmt.Errorf("path shape mismatch: %d sibling groups, %d indices",
			depth, len(in.StateTreePathIndices))
	}
	oldLeafHash, err := poseidon.MultiPoseidon(in.StateLeaf...)
	if err != nil {
		return nil, fmt.Errorf("hash old state leaf: %w", err)
	}
	newLeafHash, err := poseidon.MultiPoseidon(in.NewStateLeaf...)
	if err != nil {
		return nil, fmt.Errorf("hash new state leaf: %w", err)
	}

	assignment := NewCircuit(depth, in.TreeArity)
	assignment.RootHashBefore = in.StateTreeRoot
	assignment.RootHashAfter = in.NewStateTreeRoot
	assignment.OldLeafHash = oldLeafHash
	assignment.NewLeafHash = newLeafHash

	current := oldLeafHash
	for level, siblings := range in.StateTreeSiblings {
		own := in.StateTreePathIndices[level]
		if own < 0 || own >= in.TreeArity {
			return nil, fmt.Errorf("level %d index %d out of range", level, own)
		}
		if len(siblings) != in.TreeArity-1 {
			return nil, fmt.Errorf("level %d has %d siblings, want %d",
				level, len(siblings), in.TreeArity-1)
		}
		group := make([]*big.Int, 0, in.TreeArity)
		group = append(group, siblings[:own]...)
		group = append(group, current)
		group = append(group, siblings[own:]...)
		for j, v := range group {
			assignment.SiblingGroups[level][j] = v
		}
		assignment.PathIndices[level] = own
		if current, err = poseidon.MultiPoseidon(group...); err != nil {
			return nil, fmt.Errorf("hash level %d: %w", level, err)
		}
	}
	return assignment, nil
}
