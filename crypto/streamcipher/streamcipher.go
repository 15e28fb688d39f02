// Package streamcipher implements the MiMC7-keyed additive stream cipher the
// circuit decrypts: ciphertext[i] = plaintext[i] + MiMC7(key, iv+i) mod Q.
// It provides confidentiality only; there is no integrity check at this
// layer, callers verify a signature over the decrypted content instead.
package streamcipher

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/mimc7"
)

// Ciphertext is an encrypted sequence of field elements plus the IV the
// keystream was derived from.
type Ciphertext struct {
	IV   *big.Int
	Data []*big.Int
}

// Encrypt encrypts a plaintext of field elements under a shared key. The IV
// is the MiMC7 multi-hash of the plaintext, so equal plaintexts under equal
// keys produce equal ciphertexts; callers randomize via a salt element.
func Encrypt(plaintext []*big.Int, key *big.Int) (*Ciphertext, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	for i, e := range plaintext {
		if !inField(e) {
			return nil, fmt.Errorf("plaintext element %d is not a field element", i)
		}
	}
	if !inField(key) {
		return nil, fmt.Errorf("key is not a field element")
	}
	iv, err := mimc7.Hash(plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("compute iv: %w", err)
	}
	data := make([]*big.Int, len(plaintext))
	for i, e := range plaintext {
		data[i] = new(big.Int).Add(e, keystream(key, iv, i))
		data[i].Mod(data[i], constants.Q)
	}
	return &Ciphertext{IV: iv, Data: data}, nil
}

// Decrypt inverts Encrypt. It performs no integrity check: any key yields
// some plaintext.
func Decrypt(ciphertext *Ciphertext, key *big.Int) ([]*big.Int, error) {
	if ciphertext == nil || len(ciphertext.Data) == 0 {
		return nil, fmt.Errorf("empty ciphertext")
	}
	if !inField(key) {
		return nil, fmt.Errorf("key is not a field element")
	}
	plaintext := make([]*big.Int, len(ciphertext.Data))
	for i, e := range ciphertext.Data {
		plaintext[i] = new(big.Int).Sub(e, keystream(key, ciphertext.IV, i))
		plaintext[i].Mod(plaintext[i], constants.Q)
	}
	return plaintext, nil
}

// keystream derives the i-th keystream element: MiMC7(key, iv+i).
func keystream(key, iv *big.Int, i int) *big.Int {
	offset := new(big.Int).Add(iv, big.NewInt(int64(i)))
	offset.Mod(offset, constants.Q)
	return mimc7.MIMC7Hash(key, offset)
}

func inField(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(constants.Q) < 0
}
