package state

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/constants"

	"github.com/dvlprsh/maci/crypto/babyjubjub"
	"github.com/dvlprsh/maci/crypto/hash/poseidon"
	"github.com/dvlprsh/maci/crypto/streamcipher"
)

// packedFieldBits is the width of each bounded command field inside the
// packed first element. The packing layout is a wire contract with the
// circuit and must not change.
const packedFieldBits = 50

// packedFieldMask extracts one bounded field: 2^50 - 1.
var packedFieldMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), packedFieldBits), big.NewInt(1))

// Command is an unencrypted vote-update intent. StateIndex, VoteOptionIndex,
// NewVoteWeight, Nonce and PollID must each fit in 50 bits; Salt is a
// full-width field element randomizing the command digest.
type Command struct {
	StateIndex      *big.Int
	NewPubKey       *babyjubjub.PublicKey
	VoteOptionIndex *big.Int
	NewVoteWeight   *big.Int
	Nonce           *big.Int
	PollID          *big.Int
	Salt            *big.Int
}

// NewCommand builds a command, validating the 50-bit bounds of the packed
// fields and that the salt is a field element.
func NewCommand(stateIndex *big.Int, newPubKey *babyjubjub.PublicKey,
	voteOptionIndex, newVoteWeight, nonce, pollID, salt *big.Int,
) (*Command, error) {
	for name, v := range map[string]*big.Int{
		"stateIndex":      stateIndex,
		"voteOptionIndex": voteOptionIndex,
		"newVoteWeight":   newVoteWeight,
		"nonce":           nonce,
		"pollId":          pollID,
	} {
		if v == nil || v.Sign() < 0 || v.BitLen() > packedFieldBits {
			return nil, fmt.Errorf("%s must fit in %d bits", name, packedFieldBits)
		}
	}
	if salt == nil || salt.Sign() < 0 || salt.Cmp(constants.Q) >= 0 {
		return nil, fmt.Errorf("salt is not a field element")
	}
	return &Command{
		StateIndex:      new(big.Int).Set(stateIndex),
		NewPubKey:       newPubKey.Copy(),
		VoteOptionIndex: new(big.Int).Set(voteOptionIndex),
		NewVoteWeight:   new(big.Int).Set(newVoteWeight),
		Nonce:           new(big.Int).Set(nonce),
		PollID:          new(big.Int).Set(pollID),
		Salt:            new(big.Int).Set(salt),
	}, nil
}

// AsArray packs the command into exactly 4 field elements. The five bounded
// fields share the first element:
//
//	p = stateIndex | voteOptionIndex<<50 | newVoteWeight<<100 | nonce<<150 | pollId<<200
//
// followed by the new public key coordinates and the salt.
func (c *Command) AsArray() []*big.Int {
	p := new(big.Int).Set(c.StateIndex)
	p.Or(p, new(big.Int).Lsh(c.VoteOptionIndex, packedFieldBits))
	p.Or(p, new(big.Int).Lsh(c.NewVoteWeight, 2*packedFieldBits))
	p.Or(p, new(big.Int).Lsh(c.Nonce, 3*packedFieldBits))
	p.Or(p, new(big.Int).Lsh(c.PollID, 4*packedFieldBits))
	return []*big.Int{
		p,
		new(big.Int).Set(c.NewPubKey.X()),
		new(big.Int).Set(c.NewPubKey.Y()),
		new(big.Int).Set(c.Salt),
	}
}

// Digest returns the Poseidon hash of the packed command, the message the
// signature covers.
func (c *Command) Digest() (*big.Int, error) {
	return poseidon.MultiPoseidon(c.AsArray()...)
}

// Sign produces an EdDSA signature over the command digest.
func (c *Command) Sign(privKey *babyjubjub.PrivateKey) (*babyjub.Signature, error) {
	digest, err := c.Digest()
	if err != nil {
		return nil, fmt.Errorf("command digest: %w", err)
	}
	return privKey.Sign(digest), nil
}

// VerifySignature checks the signature over the command digest against the
// given public key.
func (c *Command) VerifySignature(pubKey *babyjubjub.PublicKey, sig *babyjub.Signature) (bool, error) {
	digest, err := c.Digest()
	if err != nil {
		return false, fmt.Errorf("command digest: %w", err)
	}
	return pubKey.Verify(digest, sig), nil
}

// Encrypt seals the command and its signature into a Message under the ECDH
// shared key: the 4 packed elements plus the signature's point coordinates
// and scalar form a 7-element plaintext for the stream cipher.
func (c *Command) Encrypt(sig *babyjub.Signature, sharedKey *big.Int) (*Message, error) {
	plaintext := append(c.AsArray(), sig.R8.X, sig.R8.Y, sig.S)
	ciphertext, err := streamcipher.Encrypt(plaintext, sharedKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt command: %w", err)
	}
	return NewMessage(ciphertext.IV, ciphertext.Data)
}

// DecryptMessage is the inverse of Encrypt: it decrypts the 7 ciphertext
// elements, unpacks the bounded fields from the first one and reconstructs
// the command and its signature. No integrity check happens here; callers
// must verify the signature before trusting the result.
func DecryptMessage(msg *Message, sharedKey *big.Int) (*Command, *babyjub.Signature, error) {
	plaintext, err := streamcipher.Decrypt(&streamcipher.Ciphertext{
		IV:   msg.IV,
		Data: msg.Data[:],
	}, sharedKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt message: %w", err)
	}
	newPubKey, err := babyjubjub.NewPublicKey(plaintext[1], plaintext[2])
	if err != nil {
		return nil, nil, err
	}
	cmd := &Command{
		StateIndex:      unpack(plaintext[0], 0),
		NewPubKey:       newPubKey,
		VoteOptionIndex: unpack(plaintext[0], 1),
		NewVoteWeight:   unpack(plaintext[0], 2),
		Nonce:           unpack(plaintext[0], 3),
		PollID:          unpack(plaintext[0], 4),
		Salt:            plaintext[3],
	}
	sig := &babyjub.Signature{
		R8: &babyjub.Point{X: plaintext[4], Y: plaintext[5]},
		S:  plaintext[6],
	}
	return cmd, sig, nil
}

// unpack extracts the i-th bounded field: (val >> (i*50)) & (2^50 - 1).
func unpack(val *big.Int, i uint) *big.Int {
	out := new(big.Int).Rsh(val, i*packedFieldBits)
	return out.And(out, packedFieldMask)
}

// Equal reports whether both commands carry the same values.
func (c *Command) Equal(d *Command) bool {
	return c.StateIndex.Cmp(d.StateIndex) == 0 &&
		c.NewPubKey.Equal(d.NewPubKey) &&
		c.VoteOptionIndex.Cmp(d.VoteOptionIndex) == 0 &&
		c.NewVoteWeight.Cmp(d.NewVoteWeight) == 0 &&
		c.Nonce.Cmp(d.Nonce) == 0 &&
		c.PollID.Cmp(d.PollID) == 0 &&
		c.Salt.Cmp(d.Salt) == 0
}

// Copy returns an independent copy of the command.
func (c *Command) Copy() *Command {
	return &Command{
		StateIndex:      new(big.Int).Set(c.StateIndex),
		NewPubKey:       c.NewPubKey.Copy(),
		VoteOptionIndex: new(big.Int).Set(c.VoteOptionIndex),
		NewVoteWeight:   new(big.Int).Set(c.NewVoteWeight),
		Nonce:           new(big.Int).Set(c.Nonce),
		PollID:          new(big.Int).Set(c.PollID),
		Salt:            new(big.Int).Set(c.Salt),
	}
}
