// Package state implements the off-chain verifiable state-transition engine:
// the state and message accumulators, the command/message envelope and the
// orchestrator that sequences sign-ups, message publication and message
// processing while emitting circuit-input bundles.
package state

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"

	"github.com/dvlprsh/maci/circuits/statetransition"
	"github.com/dvlprsh/maci/crypto/babyjubjub"
	"github.com/dvlprsh/maci/crypto/hash/poseidon"
	"github.com/dvlprsh/maci/imt"
	"github.com/dvlprsh/maci/log"
)

// HashFn is the k-ary hash function used by both accumulators.
var HashFn imt.HashFunc = poseidon.HashSlice

// State is the state-transition orchestrator. It exclusively owns the two
// accumulators, the retained per-message encryption keys and the coordinator
// keypair; all operations are synchronous and single-writer (callers needing
// concurrency must serialize externally, or branch on a Copy).
type State struct {
	coordinator *babyjubjub.Keypair

	stateTree *imt.Tree
	msgTree   *imt.Tree

	// leaves mirrors the state tree positions with the full leaf contents;
	// the tree itself only stores leaf hashes.
	leaves []*StateLeaf

	// messages and encPubKeys grow in lockstep with the message tree. The
	// public key each sender used for ECDH is retained so the coordinator
	// can re-derive the same shared key at processing time.
	messages   []*Message
	encPubKeys []*babyjubjub.PublicKey

	maxVoteOptionIndex *big.Int

	// nextMessageIndex is the processing cursor for in-order processing.
	nextMessageIndex int
}

// New creates an orchestrator with empty accumulators of the given shape.
// Position 0 of the state tree is pre-occupied by the blank leaf, so the
// first sign-up receives index 1. The state tree's leaf-level zero value is
// the blank leaf hash; the message tree's is 0.
func New(coordinator *babyjubjub.Keypair, stateTreeDepth, msgTreeDepth, arity int,
	maxVoteOptionIndex *big.Int,
) (*State, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator keypair must not be nil")
	}
	if maxVoteOptionIndex == nil || maxVoteOptionIndex.Sign() < 0 {
		return nil, fmt.Errorf("max vote option index must be >= 0")
	}
	blank := BlankStateLeaf()
	blankHash, err := blank.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash blank leaf: %w", err)
	}
	stateTree, err := imt.New(stateTreeDepth, blankHash, arity, HashFn)
	if err != nil {
		return nil, fmt.Errorf("create state tree: %w", err)
	}
	msgTree, err := imt.New(msgTreeDepth, big.NewInt(0), arity, HashFn)
	if err != nil {
		return nil, fmt.Errorf("create message tree: %w", err)
	}
	s := &State{
		coordinator:        coordinator.Copy(),
		stateTree:          stateTree,
		msgTree:            msgTree,
		maxVoteOptionIndex: new(big.Int).Set(maxVoteOptionIndex),
	}
	// genesis blank leaf at position 0
	if _, err := s.stateTree.Insert(blankHash); err != nil {
		return nil, fmt.Errorf("insert genesis leaf: %w", err)
	}
	s.leaves = append(s.leaves, blank)
	return s, nil
}

// CoordinatorPubKey returns the coordinator's public key.
func (s *State) CoordinatorPubKey() *babyjubjub.PublicKey {
	return s.coordinator.PubKey.Copy()
}

// SignUp registers a voter: it inserts a fresh leaf with the given public
// key and initial voice credit balance into the state accumulator and
// returns its index. It fails with imt.ErrCapacityExceeded when the state
// accumulator is full.
func (s *State) SignUp(pubKey *babyjubjub.PublicKey, initialBalance *big.Int) (int, error) {
	leaf, err := NewStateLeaf(pubKey, initialBalance, big.NewInt(0))
	if err != nil {
		return 0, err
	}
	leafHash, err := leaf.Hash()
	if err != nil {
		return 0, fmt.Errorf("hash state leaf: %w", err)
	}
	index, err := s.stateTree.Insert(leafHash)
	if err != nil {
		return 0, err
	}
	s.leaves = append(s.leaves, leaf)
	log.Debugw("voter signed up", "stateIndex", index, "balance", initialBalance.String())
	return index, nil
}

// PublishMessage appends a message to the message accumulator, retaining the
// public key the sender used for the ECDH key agreement. It returns the
// message index, or imt.ErrCapacityExceeded when the accumulator is full.
func (s *State) PublishMessage(msg *Message, encPubKey *babyjubjub.PublicKey) (int, error) {
	msgHash, err := msg.Hash()
	if err != nil {
		return 0, fmt.Errorf("hash message: %w", err)
	}
	index, err := s.msgTree.Insert(msgHash)
	if err != nil {
		return 0, err
	}
	s.messages = append(s.messages, msg.Copy())
	s.encPubKeys = append(s.encPubKeys, encPubKey.Copy())
	log.Debugw("message published", "msgIndex", index)
	return index, nil
}

// ProcessNextMessage processes the message at the current cursor and
// advances it. Processing order is strictly increasing unless an explicit
// index is replayed through ProcessMessage.
func (s *State) ProcessNextMessage() error {
	if err := s.ProcessMessage(s.nextMessageIndex); err != nil {
		return err
	}
	s.nextMessageIndex++
	return nil
}

// ProcessMessage decrypts and applies the message at the given index.
// Invalid messages (bad signature, wrong nonce, out-of-range vote option or
// state index, insufficient balance) are silently skipped so an adversarial
// message cannot halt the public queue: the state root stays unchanged and
// no error is returned. Only an out-of-range message index is an error.
func (s *State) ProcessMessage(msgIndex int) error {
	if msgIndex < 0 || msgIndex >= len(s.messages) {
		return fmt.Errorf("%w: message %d (have %d)", imt.ErrInvalidIndex, msgIndex, len(s.messages))
	}
	sharedKey := babyjubjub.SharedKey(s.coordinator.PrivKey, s.encPubKeys[msgIndex])
	cmd, sig, err := DecryptMessage(s.messages[msgIndex], sharedKey)
	if err != nil {
		log.Debugw("skipping undecryptable message", "msgIndex", msgIndex, "reason", err.Error())
		return nil
	}
	leafIndex, newLeaf, reason := s.applyCommand(cmd, sig)
	if newLeaf == nil {
		log.Debugw("skipping invalid message", "msgIndex", msgIndex, "reason", reason)
		return nil
	}
	newLeafHash, err := newLeaf.Hash()
	if err != nil {
		return fmt.Errorf("hash new state leaf: %w", err)
	}
	if err := s.stateTree.Update(leafIndex, newLeafHash); err != nil {
		return fmt.Errorf("update state tree: %w", err)
	}
	s.leaves[leafIndex] = newLeaf
	log.Debugw("message processed", "msgIndex", msgIndex, "stateIndex", leafIndex)
	return nil
}

// applyCommand evaluates the validity checks of one decrypted command and,
// when they all pass, returns the affected leaf index and its replacement.
// A nil leaf means the command must be skipped, with reason for logging.
// The signature is verified against the state leaf's current key, never the
// command's claimed new key.
func (s *State) applyCommand(cmd *Command, sig *babyjub.Signature) (int, *StateLeaf, string) {
	if cmd.StateIndex.Cmp(big.NewInt(int64(s.stateTree.LeafCount()))) >= 0 {
		return 0, nil, "state index out of range"
	}
	leafIndex := int(cmd.StateIndex.Int64())
	leaf := s.leaves[leafIndex]
	if ok, err := cmd.VerifySignature(leaf.PubKey, sig); err != nil || !ok {
		return 0, nil, "signature verification failed"
	}
	expectedNonce := new(big.Int).Add(leaf.Nonce, big.NewInt(1))
	if cmd.Nonce.Cmp(expectedNonce) != 0 {
		return 0, nil, "nonce mismatch"
	}
	if cmd.VoteOptionIndex.Cmp(s.maxVoteOptionIndex) > 0 {
		return 0, nil, "vote option index out of range"
	}
	voteCost := new(big.Int).Mul(cmd.NewVoteWeight, cmd.NewVoteWeight)
	if voteCost.Cmp(leaf.VoiceCreditBalance) > 0 {
		return 0, nil, "insufficient voice credits"
	}
	newLeaf, err := NewStateLeaf(cmd.NewPubKey,
		new(big.Int).Sub(leaf.VoiceCreditBalance, voteCost), cmd.Nonce)
	if err != nil {
		return 0, nil, err.Error()
	}
	return leafIndex, newLeaf, ""
}

// StateRoot returns the state accumulator's current root.
func (s *State) StateRoot() *big.Int {
	return s.stateTree.Root()
}

// MessageRoot returns the message accumulator's current root.
func (s *State) MessageRoot() *big.Int {
	return s.msgTree.Root()
}

// Leaf returns the leaf contents at an already-used position.
func (s *State) Leaf(index int) (*StateLeaf, error) {
	if index < 0 || index >= len(s.leaves) {
		return nil, fmt.Errorf("%w: leaf %d (have %d)", imt.ErrInvalidIndex, index, len(s.leaves))
	}
	return s.leaves[index].Copy(), nil
}

// Copy returns a fully independent orchestrator, enabling speculative
// processing without synchronization.
func (s *State) Copy() *State {
	cp := &State{
		coordinator:        s.coordinator.Copy(),
		stateTree:          s.stateTree.Copy(),
		msgTree:            s.msgTree.Copy(),
		leaves:             make([]*StateLeaf, len(s.leaves)),
		messages:           make([]*Message, len(s.messages)),
		encPubKeys:         make([]*babyjubjub.PublicKey, len(s.encPubKeys)),
		maxVoteOptionIndex: new(big.Int).Set(s.maxVoteOptionIndex),
		nextMessageIndex:   s.nextMessageIndex,
	}
	for i, l := range s.leaves {
		cp.leaves[i] = l.Copy()
	}
	for i, m := range s.messages {
		cp.messages[i] = m.Copy()
	}
	for i, k := range s.encPubKeys {
		cp.encPubKeys[i] = k.Copy()
	}
	return cp
}

// GenUpdateStateTreeCircuitInputs produces the circuit-input bundle proving
// the processing of one message: the message and its membership path, the
// decrypted command and signature, the pre-update path and root of the
// affected state leaf, and the post-update root obtained by speculatively
// applying the message on an accumulator copy. For an invalid message the
// new leaf equals the old one and both roots match, mirroring the circuit's
// permissive-skip semantics. Call it before ProcessMessage for the same
// index: the bundle is relative to the pre-update state.
func (s *State) GenUpdateStateTreeCircuitInputs(msgIndex int) (*statetransition.Inputs, error) {
	if msgIndex < 0 || msgIndex >= len(s.messages) {
		return nil, fmt.Errorf("%w: message %d (have %d)", imt.ErrInvalidIndex, msgIndex, len(s.messages))
	}
	msg := s.messages[msgIndex]
	encPubKey := s.encPubKeys[msgIndex]
	msgPath, err := s.msgTree.GenMerklePath(msgIndex)
	if err != nil {
		return nil, fmt.Errorf("message path: %w", err)
	}

	sharedKey := babyjubjub.SharedKey(s.coordinator.PrivKey, encPubKey)
	cmd, sig, err := DecryptMessage(msg, sharedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt message: %w", err)
	}

	// Affected leaf: the command's target when valid, the genesis blank
	// slot otherwise (the circuit still needs a well-formed path).
	leafIndex, newLeaf, _ := s.applyCommand(cmd, sig)
	oldLeaf := s.leaves[leafIndex]
	if newLeaf == nil {
		newLeaf = oldLeaf
	}
	statePath, err := s.stateTree.GenMerklePath(leafIndex)
	if err != nil {
		return nil, fmt.Errorf("state path: %w", err)
	}

	// post-update root via speculative application on a copy
	newRoot := s.stateTree.Root()
	if newLeaf != oldLeaf {
		newLeafHash, err := newLeaf.Hash()
		if err != nil {
			return nil, fmt.Errorf("hash new state leaf: %w", err)
		}
		speculative := s.stateTree.Copy()
		if err := speculative.Update(leafIndex, newLeafHash); err != nil {
			return nil, fmt.Errorf("speculative update: %w", err)
		}
		newRoot = speculative.Root()
	}

	return &statetransition.Inputs{
		CoordinatorPubKey: [2]*big.Int{s.coordinator.PubKey.X(), s.coordinator.PubKey.Y()},
		EcdhPubKey:        [2]*big.Int{encPubKey.X(), encPubKey.Y()},

		Message:            msg.AsArray(),
		MsgTreeRoot:        msgPath.Root,
		MsgTreeSiblings:    msgPath.Siblings,
		MsgTreePathIndices: msgPath.Indices,

		Command: cmd.AsArray(),
		SigR8:   [2]*big.Int{sig.R8.X, sig.R8.Y},
		SigS:    sig.S,

		StateLeaf:            oldLeaf.AsArray(),
		NewStateLeaf:         newLeaf.AsArray(),
		StateTreeIndex:       leafIndex,
		StateTreeRoot:        statePath.Root,
		StateTreeSiblings:    statePath.Siblings,
		StateTreePathIndices: statePath.Indices,
		NewStateTreeRoot:     newRoot,

		TreeArity: s.stateTree.Arity(),
	}, nil
}
