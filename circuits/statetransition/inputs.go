// Package statetransition holds the proving boundary for one message
// processing step: the named-signal input bundle the external evaluator
// consumes, a gnark circuit proving the k-ary Merkle leaf transition, and a
// native mirror of the in-circuit root computation.
package statetransition

import (
	"fmt"
	"math/big"

	"github.com/dvlprsh/maci/crypto/hash/poseidon"
)

// Inputs is the full bundle of field elements the circuit needs to prove one
// message processing step. Field names (JSON tags) are the circuit signal
// identifiers; their shape is a wire contract with the circuit.
type Inputs struct {
	CoordinatorPubKey [2]*big.Int `json:"coordinator_public_key"`
	EcdhPubKey        [2]*big.Int `json:"ecdh_public_key"`

	// Message is the IV followed by the 7 ciphertext elements.
	Message            []*big.Int   `json:"message"`
	MsgTreeRoot        *big.Int     `json:"msg_tree_root"`
	MsgTreeSiblings    [][]*big.Int `json:"msg_tree_path_elements"`
	MsgTreePathIndices []int        `json:"msg_tree_path_index"`

	// Command is the 4-element packed command; SigR8/SigS the decrypted
	// signature.
	Command []*big.Int  `json:"command"`
	SigR8   [2]*big.Int `json:"sig_r8"`
	SigS    *big.Int    `json:"sig_s"`

	// StateLeaf and NewStateLeaf are (x, y, balance, nonce) before and after
	// the transition; for a skipped message they are equal.
	StateLeaf            []*big.Int   `json:"state_tree_data"`
	NewStateLeaf         []*big.Int   `json:"new_state_tree_data"`
	StateTreeIndex       int          `json:"state_tree_index"`
	StateTreeRoot        *big.Int     `json:"state_tree_root"`
	StateTreeSiblings    [][]*big.Int `json:"state_tree_path_elements"`
	StateTreePathIndices []int        `json:"state_tree_path_index"`
	NewStateTreeRoot     *big.Int     `json:"new_state_tree_root"`

	// TreeArity parameterizes the sibling group width; it is a circuit
	// compile-time constant, not a signal.
	TreeArity int `json:"-"`
}

// Map renders the bundle as the named-signal mapping the external circuit
// evaluator consumes.
func (in *Inputs) Map() map[string]any {
	return map[string]any{
		"coordinator_public_key":   in.CoordinatorPubKey[:],
		"ecdh_public_key":          in.EcdhPubKey[:],
		"message":                  in.Message,
		"msg_tree_root":            in.MsgTreeRoot,
		"msg_tree_path_elements":   in.MsgTreeSiblings,
		"msg_tree_path_index":      in.MsgTreePathIndices,
		"command":                  in.Command,
		"sig_r8":                   in.SigR8[:],
		"sig_s":                    in.SigS,
		"state_tree_data":          in.StateLeaf,
		"new_state_tree_data":      in.NewStateLeaf,
		"state_tree_index":         in.StateTreeIndex,
		"state_tree_root":          in.StateTreeRoot,
		"state_tree_path_elements": in.StateTreeSiblings,
		"state_tree_path_index":    in.StateTreePathIndices,
		"new_state_tree_root":      in.NewStateTreeRoot,
	}
}

// ComputeNewRoot mirrors the circuit's root computation natively: it hashes
// the new state leaf and folds it through the sibling groups of the
// pre-update path. Tests use it as the external evaluator's output signal.
func (in *Inputs) ComputeNewRoot() (*big.Int, error) {
	if len(in.StateTreeSiblings) != len(in.StateTreePathIndices) {
		return nil, fmt.Errorf("path shape mismatch: %d sibling groups, %d indices",
			len(in.StateTreeSiblings), len(in.StateTreePathIndices))
	}
	current, err := poseidon.MultiPoseidon(in.NewStateLeaf...)
	if err != nil {
		return nil, fmt.Errorf("hash new state leaf: %w", err)
	}
	for level, siblings := range in.StateTreeSiblings {
		if len(siblings) != in.TreeArity-1 {
			return nil, fmt.Errorf("level %d has %d siblings, want %d",
				level, len(siblings), in.TreeArity-1)
		}
		own := in.StateTreePathIndices[level]
		group := make([]*big.Int, 0, in.TreeArity)
		group = append(group, siblings[:own]...)
		group = append(group, current)
		group = append(group, siblings[own:]...)
		current, err = poseidon.MultiPoseidon(group...)
		if err != nil {
			return nil, fmt.Errorf("hash level %d: %w", level, err)
		}
	}
	return current, nil
}
