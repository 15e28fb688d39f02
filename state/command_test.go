package state

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/constants"

	"github.com/dvlprsh/maci/crypto/babyjubjub"
	"github.com/dvlprsh/maci/util"
)

func randomCommand(c *qt.C, newKey *babyjubjub.PublicKey) *Command {
	bound := new(big.Int).Lsh(big.NewInt(1), 50)
	cmd, err := NewCommand(
		util.RandomBigInt(bound),
		newKey,
		util.RandomBigInt(bound),
		util.RandomBigInt(bound),
		util.RandomBigInt(bound),
		util.RandomBigInt(bound),
		util.RandomBigInt(constants.Q),
	)
	c.Assert(err, qt.IsNil)
	return cmd
}

func TestCommandEncryptDecryptRoundTrip(t *testing.T) {
	c := qt.New(t)
	voter := babyjubjub.GenerateKeypair()
	coordinator := babyjubjub.GenerateKeypair()
	ephemeral := babyjubjub.GenerateKeypair()

	for i := 0; i < 8; i++ {
		cmd := randomCommand(c, voter.PubKey)
		sig, err := cmd.Sign(voter.PrivKey)
		c.Assert(err, qt.IsNil)

		sharedKey := babyjubjub.SharedKey(ephemeral.PrivKey, coordinator.PubKey)
		msg, err := cmd.Encrypt(sig, sharedKey)
		c.Assert(err, qt.IsNil)

		// the coordinator re-derives the same key from the ephemeral pubkey
		coordSharedKey := babyjubjub.SharedKey(coordinator.PrivKey, ephemeral.PubKey)
		c.Assert(coordSharedKey.Cmp(sharedKey), qt.Equals, 0)

		decryptedCmd, decryptedSig, err := DecryptMessage(msg, coordSharedKey)
		c.Assert(err, qt.IsNil)
		c.Assert(decryptedCmd.Equal(cmd), qt.IsTrue)
		c.Assert(decryptedSig.R8.X.Cmp(sig.R8.X), qt.Equals, 0)
		c.Assert(decryptedSig.R8.Y.Cmp(sig.R8.Y), qt.Equals, 0)
		c.Assert(decryptedSig.S.Cmp(sig.S), qt.Equals, 0)

		ok, err := decryptedCmd.VerifySignature(voter.PubKey, decryptedSig)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue)
	}
}

func TestCommandPackingBoundaries(t *testing.T) {
	c := qt.New(t)
	voter := babyjubjub.GenerateKeypair()
	maxBounded := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 50), big.NewInt(1))

	cmd, err := NewCommand(maxBounded, voter.PubKey, maxBounded, maxBounded,
		maxBounded, maxBounded, big.NewInt(0))
	c.Assert(err, qt.IsNil)

	packed := cmd.AsArray()
	c.Assert(packed, qt.HasLen, 4)

	// unpacking the packed element recovers every bounded field
	c.Assert(unpack(packed[0], 0).Cmp(cmd.StateIndex), qt.Equals, 0)
	c.Assert(unpack(packed[0], 1).Cmp(cmd.VoteOptionIndex), qt.Equals, 0)
	c.Assert(unpack(packed[0], 2).Cmp(cmd.NewVoteWeight), qt.Equals, 0)
	c.Assert(unpack(packed[0], 3).Cmp(cmd.Nonce), qt.Equals, 0)
	c.Assert(unpack(packed[0], 4).Cmp(cmd.PollID), qt.Equals, 0)
}

func TestCommandBoundsValidation(t *testing.T) {
	c := qt.New(t)
	voter := babyjubjub.GenerateKeypair()
	tooBig := new(big.Int).Lsh(big.NewInt(1), 50)
	small := big.NewInt(1)

	_, err := NewCommand(tooBig, voter.PubKey, small, small, small, small, small)
	c.Assert(err, qt.IsNotNil)
	_, err = NewCommand(small, voter.PubKey, tooBig, small, small, small, small)
	c.Assert(err, qt.IsNotNil)
	_, err = NewCommand(small, voter.PubKey, small, small, small, small, new(big.Int).Set(constants.Q))
	c.Assert(err, qt.IsNotNil)
}

func TestCommandSignatureTamperDetected(t *testing.T) {
	c := qt.New(t)
	voter := babyjubjub.GenerateKeypair()
	cmd := randomCommand(c, voter.PubKey)
	sig, err := cmd.Sign(voter.PrivKey)
	c.Assert(err, qt.IsNil)

	tampered := cmd.Copy()
	tampered.NewVoteWeight = new(big.Int).Add(tampered.NewVoteWeight, big.NewInt(1))
	tampered.NewVoteWeight.Mod(tampered.NewVoteWeight, new(big.Int).Lsh(big.NewInt(1), 50))
	ok, err := tampered.VerifySignature(voter.PubKey, sig)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	other := babyjubjub.GenerateKeypair()
	ok, err = cmd.VerifySignature(other.PubKey, sig)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestMessageHashStructure(t *testing.T) {
	c := qt.New(t)
	data := make([]*big.Int, MessageDataLength)
	for i := range data {
		data[i] = util.RandomBigInt(constants.Q)
	}
	msg, err := NewMessage(util.RandomBigInt(constants.Q), data)
	c.Assert(err, qt.IsNil)

	h1, err := msg.Hash()
	c.Assert(err, qt.IsNil)
	h2, err := msg.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(h2), qt.Equals, 0)

	// any data element contributes to the hash
	changed := msg.Copy()
	changed.Data[6] = new(big.Int).Add(changed.Data[6], big.NewInt(1))
	changed.Data[6].Mod(changed.Data[6], constants.Q)
	h3, err := changed.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(h3.Cmp(h1), qt.Not(qt.Equals), 0)

	_, err = NewMessage(big.NewInt(0), data[:5])
	c.Assert(err, qt.IsNotNil)
}
