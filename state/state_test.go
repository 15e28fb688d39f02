package state

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/constants"

	"github.com/dvlprsh/maci/crypto/babyjubjub"
	"github.com/dvlprsh/maci/imt"
	"github.com/dvlprsh/maci/util"
)

func newTestState(c *qt.C) (*State, *babyjubjub.Keypair) {
	coordinator := babyjubjub.GenerateKeypair()
	s, err := New(coordinator, 4, 4, 5, big.NewInt(24))
	c.Assert(err, qt.IsNil)
	return s, coordinator
}

// publishCommand signs, encrypts and publishes a command, returning the
// message index.
func publishCommand(c *qt.C, s *State, cmd *Command, signer *babyjubjub.PrivateKey) int {
	sig, err := cmd.Sign(signer)
	c.Assert(err, qt.IsNil)
	ephemeral := babyjubjub.GenerateKeypair()
	sharedKey := babyjubjub.SharedKey(ephemeral.PrivKey, s.CoordinatorPubKey())
	msg, err := cmd.Encrypt(sig, sharedKey)
	c.Assert(err, qt.IsNil)
	msgIndex, err := s.PublishMessage(msg, ephemeral.PubKey)
	c.Assert(err, qt.IsNil)
	return msgIndex
}

func TestEndToEndProcessMessage(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestState(c)

	voter := babyjubjub.GenerateKeypair()
	stateIndex, err := s.SignUp(voter.PubKey, big.NewInt(100))
	c.Assert(err, qt.IsNil)
	c.Assert(stateIndex, qt.Equals, 1) // position 0 is the genesis blank leaf

	newKey := babyjubjub.GenerateKeypair()
	cmd, err := NewCommand(big.NewInt(1), newKey.PubKey, big.NewInt(0),
		big.NewInt(9), big.NewInt(1), big.NewInt(0), util.RandomBigInt(constants.Q))
	c.Assert(err, qt.IsNil)
	msgIndex := publishCommand(c, s, cmd, voter.PrivKey)
	c.Assert(msgIndex, qt.Equals, 0)

	rootBefore := s.StateRoot()
	inputs, err := s.GenUpdateStateTreeCircuitInputs(msgIndex)
	c.Assert(err, qt.IsNil)

	circuitRoot, err := inputs.ComputeNewRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(circuitRoot.Cmp(rootBefore), qt.Not(qt.Equals), 0)
	c.Assert(inputs.NewStateTreeRoot.Cmp(circuitRoot), qt.Equals, 0)
	c.Assert(inputs.StateTreeRoot.Cmp(rootBefore), qt.Equals, 0)
	c.Assert(inputs.StateTreeIndex, qt.Equals, 1)
	c.Assert(inputs.MsgTreeRoot.Cmp(s.MessageRoot()), qt.Equals, 0)

	c.Assert(s.ProcessNextMessage(), qt.IsNil)
	c.Assert(s.StateRoot().Cmp(circuitRoot), qt.Equals, 0)

	leaf, err := s.Leaf(1)
	c.Assert(err, qt.IsNil)
	c.Assert(leaf.PubKey.Equal(newKey.PubKey), qt.IsTrue)
	c.Assert(leaf.VoiceCreditBalance.Int64(), qt.Equals, int64(19)) // 100 - 9*9
	c.Assert(leaf.Nonce.Int64(), qt.Equals, int64(1))
}

func TestInvalidMessagesAreSkipped(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestState(c)
	voter := babyjubjub.GenerateKeypair()
	_, err := s.SignUp(voter.PubKey, big.NewInt(100))
	c.Assert(err, qt.IsNil)
	rootBefore := s.StateRoot()

	attacker := babyjubjub.GenerateKeypair()
	mustCommand := func(stateIndex, voteOption, weight, nonce int64) *Command {
		cmd, err := NewCommand(big.NewInt(stateIndex), voter.PubKey,
			big.NewInt(voteOption), big.NewInt(weight), big.NewInt(nonce),
			big.NewInt(0), util.RandomBigInt(constants.Q))
		c.Assert(err, qt.IsNil)
		return cmd
	}

	// signed by a key that is not the leaf's current key
	publishCommand(c, s, mustCommand(1, 0, 9, 1), attacker.PrivKey)
	// wrong nonce (leaf nonce is 0, so only 1 is acceptable)
	publishCommand(c, s, mustCommand(1, 0, 9, 2), voter.PrivKey)
	// vote option index beyond the maximum
	publishCommand(c, s, mustCommand(1, 25, 9, 1), voter.PrivKey)
	// quadratic cost exceeds the balance (11*11 > 100)
	publishCommand(c, s, mustCommand(1, 0, 11, 1), voter.PrivKey)
	// state index points past the last leaf
	publishCommand(c, s, mustCommand(7, 0, 9, 1), voter.PrivKey)

	for i := 0; i < 5; i++ {
		c.Assert(s.ProcessNextMessage(), qt.IsNil, qt.Commentf("message %d", i))
		c.Assert(s.StateRoot().Cmp(rootBefore), qt.Equals, 0, qt.Commentf("message %d", i))
	}
	leaf, err := s.Leaf(1)
	c.Assert(err, qt.IsNil)
	c.Assert(leaf.Nonce.Sign(), qt.Equals, 0)
	c.Assert(leaf.VoiceCreditBalance.Int64(), qt.Equals, int64(100))
}

func TestUndecryptableMessageIsSkipped(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestState(c)
	voter := babyjubjub.GenerateKeypair()
	_, err := s.SignUp(voter.PubKey, big.NewInt(100))
	c.Assert(err, qt.IsNil)

	// garbage ciphertext published under a fresh ephemeral key
	data := make([]*big.Int, MessageDataLength)
	for i := range data {
		data[i] = util.RandomBigInt(constants.Q)
	}
	msg, err := NewMessage(util.RandomBigInt(constants.Q), data)
	c.Assert(err, qt.IsNil)
	ephemeral := babyjubjub.GenerateKeypair()
	_, err = s.PublishMessage(msg, ephemeral.PubKey)
	c.Assert(err, qt.IsNil)

	rootBefore := s.StateRoot()
	c.Assert(s.ProcessNextMessage(), qt.IsNil)
	c.Assert(s.StateRoot().Cmp(rootBefore), qt.Equals, 0)
}

func TestCircuitInputsForInvalidMessage(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestState(c)
	voter := babyjubjub.GenerateKeypair()
	_, err := s.SignUp(voter.PubKey, big.NewInt(100))
	c.Assert(err, qt.IsNil)

	// wrong nonce makes the message invalid
	cmd, err := NewCommand(big.NewInt(1), voter.PubKey, big.NewInt(0),
		big.NewInt(9), big.NewInt(5), big.NewInt(0), util.RandomBigInt(constants.Q))
	c.Assert(err, qt.IsNil)
	msgIndex := publishCommand(c, s, cmd, voter.PrivKey)

	rootBefore := s.StateRoot()
	inputs, err := s.GenUpdateStateTreeCircuitInputs(msgIndex)
	c.Assert(err, qt.IsNil)

	// skip semantics: the leaf data does not change and both roots match
	for i := range inputs.StateLeaf {
		c.Assert(inputs.NewStateLeaf[i].Cmp(inputs.StateLeaf[i]), qt.Equals, 0)
	}
	c.Assert(inputs.NewStateTreeRoot.Cmp(rootBefore), qt.Equals, 0)
	circuitRoot, err := inputs.ComputeNewRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(circuitRoot.Cmp(rootBefore), qt.Equals, 0)
}

func TestProcessMessageIndexBounds(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestState(c)
	c.Assert(s.ProcessMessage(0), qt.ErrorIs, imt.ErrInvalidIndex)
	c.Assert(s.ProcessMessage(-1), qt.ErrorIs, imt.ErrInvalidIndex)
	_, err := s.GenUpdateStateTreeCircuitInputs(0)
	c.Assert(err, qt.ErrorIs, imt.ErrInvalidIndex)
}

func TestSignUpCapacity(t *testing.T) {
	c := qt.New(t)
	coordinator := babyjubjub.GenerateKeypair()
	s, err := New(coordinator, 1, 1, 2, big.NewInt(0))
	c.Assert(err, qt.IsNil)

	// depth 1, arity 2: genesis occupies slot 0, one sign-up fits
	voter := babyjubjub.GenerateKeypair()
	index, err := s.SignUp(voter.PubKey, big.NewInt(1))
	c.Assert(err, qt.IsNil)
	c.Assert(index, qt.Equals, 1)
	_, err = s.SignUp(voter.PubKey, big.NewInt(1))
	c.Assert(err, qt.ErrorIs, imt.ErrCapacityExceeded)
}

func TestStateCopyIndependence(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestState(c)
	voter := babyjubjub.GenerateKeypair()
	_, err := s.SignUp(voter.PubKey, big.NewInt(100))
	c.Assert(err, qt.IsNil)

	cmd, err := NewCommand(big.NewInt(1), voter.PubKey, big.NewInt(0),
		big.NewInt(9), big.NewInt(1), big.NewInt(0), util.RandomBigInt(constants.Q))
	c.Assert(err, qt.IsNil)
	publishCommand(c, s, cmd, voter.PrivKey)

	cp := s.Copy()
	rootBefore := s.StateRoot()
	c.Assert(cp.ProcessNextMessage(), qt.IsNil)
	c.Assert(s.StateRoot().Cmp(rootBefore), qt.Equals, 0)
	c.Assert(cp.StateRoot().Cmp(rootBefore), qt.Not(qt.Equals), 0)

	// processing the original afterwards converges to the same root
	c.Assert(s.ProcessNextMessage(), qt.IsNil)
	c.Assert(s.StateRoot().Cmp(cp.StateRoot()), qt.Equals, 0)
}

func TestSignatureVerifiedAgainstLeafKey(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestState(c)
	voter := babyjubjub.GenerateKeypair()
	_, err := s.SignUp(voter.PubKey, big.NewInt(100))
	c.Assert(err, qt.IsNil)

	// a command signed with the claimed new key instead of the leaf's
	// current key must be rejected
	newKey := babyjubjub.GenerateKeypair()
	cmd, err := NewCommand(big.NewInt(1), newKey.PubKey, big.NewInt(0),
		big.NewInt(9), big.NewInt(1), big.NewInt(0), util.RandomBigInt(constants.Q))
	c.Assert(err, qt.IsNil)
	rootBefore := s.StateRoot()
	publishCommand(c, s, cmd, newKey.PrivKey)
	c.Assert(s.ProcessNextMessage(), qt.IsNil)
	c.Assert(s.StateRoot().Cmp(rootBefore), qt.Equals, 0)
}
