// Package babyjubjub wraps Baby JubJub key material: private scalars, public
// curve points, EdDSA signatures over Poseidon digests and ECDH shared-key
// derivation. Points and scalars are kept in the form the arithmetic circuit
// consumes.
package babyjubjub

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/constants"

	"github.com/dvlprsh/maci/types"
)

var (
	// ErrInvalidPrivKey is returned when private key material is malformed.
	ErrInvalidPrivKey = errors.New("invalid private key")
	// ErrInvalidPubKey is returned when a public key is malformed or its
	// coordinates are out of the field.
	ErrInvalidPubKey = errors.New("invalid public key")
)

// PrivateKey wraps a Baby JubJub private key. The raw 32 bytes are kept for
// serialization; signing and ECDH use the derived scalar form.
type PrivateKey struct {
	rawKey babyjub.PrivateKey
}

// PublicKey wraps a point on the Baby JubJub curve. The blank key is the
// point (0, 0), which is not on the curve and is special-cased in
// serialization.
type PublicKey struct {
	point *babyjub.Point
}

// Keypair holds a private key and its derived public key.
type Keypair struct {
	PrivKey *PrivateKey
	PubKey  *PublicKey
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() *Keypair {
	rawPrivKey := babyjub.NewRandPrivKey()
	privKey := &PrivateKey{rawKey: rawPrivKey}
	return &Keypair{
		PrivKey: privKey,
		PubKey:  privKey.Public(),
	}
}

// KeypairFromSeed derives a deterministic keypair from arbitrary seed bytes,
// typically an Ethereum signature. The seed is hashed with Keccak256 so any
// seed length maps onto the 32 raw key bytes.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: empty seed", ErrInvalidPrivKey)
	}
	var rawPrivKey babyjub.PrivateKey
	copy(rawPrivKey[:], ethcrypto.Keccak256(seed))
	privKey := &PrivateKey{rawKey: rawPrivKey}
	return &Keypair{
		PrivKey: privKey,
		PubKey:  privKey.Public(),
	}, nil
}

// Copy returns an independent copy of the keypair.
func (k *Keypair) Copy() *Keypair {
	privKey := &PrivateKey{rawKey: k.PrivKey.rawKey}
	return &Keypair{
		PrivKey: privKey,
		PubKey:  k.PubKey.Copy(),
	}
}

// Scalar returns the private scalar in the reduced form the circuit consumes
// (blake-512 hashed, pruned and shifted, per the EdDSA key derivation).
func (k *PrivateKey) Scalar() *big.Int {
	return k.rawKey.Scalar().BigInt()
}

// Public derives the public key point of the private key.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{point: k.rawKey.Public().Point()}
}

// Sign produces an EdDSA signature over the given Poseidon digest.
func (k *PrivateKey) Sign(digest *big.Int) *babyjub.Signature {
	return k.rawKey.SignPoseidon(digest)
}

// NewPublicKey builds a public key from affine coordinates, validating that
// both are field elements.
func NewPublicKey(x, y *big.Int) (*PublicKey, error) {
	if !inField(x) || !inField(y) {
		return nil, fmt.Errorf("%w: coordinates out of field", ErrInvalidPubKey)
	}
	return &PublicKey{point: &babyjub.Point{
		X: new(big.Int).Set(x),
		Y: new(big.Int).Set(y),
	}}, nil
}

// BlankPublicKey returns the blank key (0, 0), used as the zero value of
// state leaves.
func BlankPublicKey() *PublicKey {
	return &PublicKey{point: &babyjub.Point{X: big.NewInt(0), Y: big.NewInt(0)}}
}

// X returns the x coordinate of the public key point.
func (p *PublicKey) X() *big.Int { return p.point.X }

// Y returns the y coordinate of the public key point.
func (p *PublicKey) Y() *big.Int { return p.point.Y }

// Point returns the underlying curve point.
func (p *PublicKey) Point() *babyjub.Point { return p.point }

// IsBlank reports whether the key is the blank (0, 0) point.
func (p *PublicKey) IsBlank() bool {
	return p.point.X.Sign() == 0 && p.point.Y.Sign() == 0
}

// Copy returns an independent copy of the public key.
func (p *PublicKey) Copy() *PublicKey {
	return &PublicKey{point: &babyjub.Point{
		X: new(big.Int).Set(p.point.X),
		Y: new(big.Int).Set(p.point.Y),
	}}
}

// Equal reports whether both keys are the same point.
func (p *PublicKey) Equal(q *PublicKey) bool {
	if p == nil || q == nil {
		return (p == nil) == (q == nil)
	}
	return p.point.X.Cmp(q.point.X) == 0 && p.point.Y.Cmp(q.point.Y) == 0
}

// Verify checks an EdDSA signature over the given Poseidon digest against
// the public key.
func (p *PublicKey) Verify(digest *big.Int, sig *babyjub.Signature) bool {
	pub := babyjub.PublicKey(*p.point)
	return pub.VerifyPoseidon(digest, sig)
}

// ContractParam is the ledger-facing rendering of a public key: decimal
// string coordinates.
type ContractParam struct {
	X *types.BigInt `json:"x"`
	Y *types.BigInt `json:"y"`
}

// AsContractParam renders the public key in the canonical form consumed by
// off-core collaborators (ledger contracts, proof front ends).
func (p *PublicKey) AsContractParam() ContractParam {
	return ContractParam{
		X: new(types.BigInt).SetBigInt(p.point.X),
		Y: new(types.BigInt).SetBigInt(p.point.Y),
	}
}

// SharedKey derives the ECDH shared key between a private key and a foreign
// public key. It returns the x coordinate of the resulting point, used as a
// symmetric cipher key and never persisted. The derivation is symmetric:
// SharedKey(a, B) == SharedKey(b, A).
func SharedKey(privKey *PrivateKey, pubKey *PublicKey) *big.Int {
	p := babyjub.NewPoint().Mul(privKey.Scalar(), pubKey.point)
	return p.X
}

func inField(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(constants.Q) < 0
}
