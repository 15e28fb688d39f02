package state

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/dvlprsh/maci/crypto/babyjubjub"
	"github.com/dvlprsh/maci/crypto/hash/poseidon"
	"github.com/dvlprsh/maci/types"
)

// StateLeaf is one slot of the state accumulator: a voter's current public
// key, remaining voice credit balance and last accepted command nonce.
// Leaves are never mutated in place; a state transition replaces the whole
// leaf and overwrites the accumulator slot.
type StateLeaf struct {
	PubKey             *babyjubjub.PublicKey
	VoiceCreditBalance *big.Int
	Nonce              *big.Int
}

// NewStateLeaf builds a leaf, validating that the balance is non-negative.
func NewStateLeaf(pubKey *babyjubjub.PublicKey, voiceCreditBalance, nonce *big.Int) (*StateLeaf, error) {
	if voiceCreditBalance == nil || voiceCreditBalance.Sign() < 0 {
		return nil, fmt.Errorf("voice credit balance must be >= 0")
	}
	if nonce == nil || nonce.Sign() < 0 {
		return nil, fmt.Errorf("nonce must be >= 0")
	}
	return &StateLeaf{
		PubKey:             pubKey.Copy(),
		VoiceCreditBalance: new(big.Int).Set(voiceCreditBalance),
		Nonce:              new(big.Int).Set(nonce),
	}, nil
}

// BlankStateLeaf is the zero value of the state accumulator at leaf level:
// the blank (0, 0) public key with zero balance and zero nonce. Its hash is
// distinct from the recursive zero-subtree hashes up the tree.
func BlankStateLeaf() *StateLeaf {
	return &StateLeaf{
		PubKey:             babyjubjub.BlankPublicKey(),
		VoiceCreditBalance: big.NewInt(0),
		Nonce:              big.NewInt(0),
	}
}

// Hash folds the leaf into a single field element:
// Poseidon(x, y, balance, nonce).
func (l *StateLeaf) Hash() (*big.Int, error) {
	return poseidon.MultiPoseidon(
		l.PubKey.X(),
		l.PubKey.Y(),
		l.VoiceCreditBalance,
		l.Nonce,
	)
}

// AsArray returns the leaf as the field elements the circuit consumes.
func (l *StateLeaf) AsArray() []*big.Int {
	return []*big.Int{
		new(big.Int).Set(l.PubKey.X()),
		new(big.Int).Set(l.PubKey.Y()),
		new(big.Int).Set(l.VoiceCreditBalance),
		new(big.Int).Set(l.Nonce),
	}
}

// Copy returns an independent copy of the leaf.
func (l *StateLeaf) Copy() *StateLeaf {
	return &StateLeaf{
		PubKey:             l.PubKey.Copy(),
		VoiceCreditBalance: new(big.Int).Set(l.VoiceCreditBalance),
		Nonce:              new(big.Int).Set(l.Nonce),
	}
}

// serializedStateLeaf is the JSON shape of a serialized leaf. Balance and
// nonce are hex-encoded, the public key uses its prefixed string form.
type serializedStateLeaf struct {
	PubKey             string         `json:"pubKey"`
	VoiceCreditBalance types.HexBytes `json:"voiceCreditBalance"`
	Nonce              types.HexBytes `json:"nonce"`
}

// Serialize renders the leaf as base64url-encoded JSON.
func (l *StateLeaf) Serialize() (string, error) {
	blob, err := json.Marshal(serializedStateLeaf{
		PubKey:             l.PubKey.Serialize(),
		VoiceCreditBalance: l.VoiceCreditBalance.Bytes(),
		Nonce:              l.Nonce.Bytes(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal state leaf: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// DeserializeStateLeaf parses a leaf serialized with Serialize.
func DeserializeStateLeaf(s string) (*StateLeaf, error) {
	blob, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode state leaf: %w", err)
	}
	var raw serializedStateLeaf
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal state leaf: %w", err)
	}
	pubKey, err := babyjubjub.DeserializePublicKey(raw.PubKey)
	if err != nil {
		return nil, err
	}
	return NewStateLeaf(pubKey,
		new(big.Int).SetBytes(raw.VoiceCreditBalance),
		new(big.Int).SetBytes(raw.Nonce))
}

// IsValidSerializedStateLeaf reports whether s parses as a state leaf. It
// agrees with DeserializeStateLeaf on every input.
func IsValidSerializedStateLeaf(s string) bool {
	_, err := DeserializeStateLeaf(s)
	return err == nil
}
