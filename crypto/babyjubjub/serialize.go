package babyjubjub

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/iden3/go-iden3-crypto/babyjub"
)

const (
	// PrivKeyPrefix prefixes serialized private keys.
	PrivKeyPrefix = "macisk."
	// PubKeyPrefix prefixes serialized public keys.
	PubKeyPrefix = "macipk."
	// blankPubKeySentinel is the serialized form of the blank (0, 0) key,
	// whose point-packing is undefined.
	blankPubKeySentinel = PubKeyPrefix + "z"
)

// Serialize renders the private key as a prefixed hex string of its raw 32
// bytes.
func (k *PrivateKey) Serialize() string {
	return PrivKeyPrefix + hex.EncodeToString(k.rawKey[:])
}

// DeserializePrivateKey parses a prefixed hex private key string. It fails
// with ErrInvalidPrivKey on a wrong prefix or malformed hex payload.
func DeserializePrivateKey(s string) (*PrivateKey, error) {
	payload, ok := strings.CutPrefix(s, PrivKeyPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidPrivKey, PrivKeyPrefix)
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivKey, err)
	}
	if len(raw) != len(babyjub.PrivateKey{}) {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPrivKey, len(babyjub.PrivateKey{}), len(raw))
	}
	privKey := &PrivateKey{}
	copy(privKey.rawKey[:], raw)
	return privKey, nil
}

// IsValidSerializedPrivateKey reports whether s parses as a private key. It
// agrees with DeserializePrivateKey on every input.
func IsValidSerializedPrivateKey(s string) bool {
	_, err := DeserializePrivateKey(s)
	return err == nil
}

// Serialize renders the public key as a prefixed hex string of the packed
// curve point. The blank key serializes to a reserved sentinel since packing
// is undefined for (0, 0).
func (p *PublicKey) Serialize() string {
	if p.IsBlank() {
		return blankPubKeySentinel
	}
	pub := babyjub.PublicKey(*p.point)
	packed := pub.Compress()
	return PubKeyPrefix + hex.EncodeToString(packed[:])
}

// DeserializePublicKey parses a prefixed packed-point public key string. It
// fails with ErrInvalidPubKey on a wrong prefix, malformed payload or a
// point that does not unpack.
func DeserializePublicKey(s string) (*PublicKey, error) {
	if s == blankPubKeySentinel {
		return BlankPublicKey(), nil
	}
	payload, ok := strings.CutPrefix(s, PubKeyPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidPubKey, PubKeyPrefix)
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	var packed babyjub.PublicKeyComp
	if len(raw) != len(packed) {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPubKey, len(packed), len(raw))
	}
	copy(packed[:], raw)
	pub, err := packed.Decompress()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	return NewPublicKey(pub.X, pub.Y)
}

// IsValidSerializedPublicKey reports whether s parses as a public key. It
// agrees with DeserializePublicKey on every input.
func IsValidSerializedPublicKey(s string) bool {
	_, err := DeserializePublicKey(s)
	return err == nil
}
