package streamcipher

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/constants"

	"github.com/dvlprsh/maci/util"
)

func randomPlaintext(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = util.RandomBigInt(constants.Q)
	}
	return out
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := qt.New(t)
	for _, n := range []int{1, 4, 7, 16} {
		plaintext := randomPlaintext(n)
		key := util.RandomBigInt(constants.Q)

		ciphertext, err := Encrypt(plaintext, key)
		c.Assert(err, qt.IsNil)
		c.Assert(ciphertext.Data, qt.HasLen, n)

		decrypted, err := Decrypt(ciphertext, key)
		c.Assert(err, qt.IsNil)
		for i := range plaintext {
			c.Assert(decrypted[i].Cmp(plaintext[i]), qt.Equals, 0, qt.Commentf("element %d", i))
		}
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	c := qt.New(t)
	plaintext := randomPlaintext(7)
	key := util.RandomBigInt(constants.Q)
	wrongKey := new(big.Int).Add(key, big.NewInt(1))
	wrongKey.Mod(wrongKey, constants.Q)

	ciphertext, err := Encrypt(plaintext, key)
	c.Assert(err, qt.IsNil)
	decrypted, err := Decrypt(ciphertext, wrongKey)
	c.Assert(err, qt.IsNil)

	same := true
	for i := range plaintext {
		if decrypted[i].Cmp(plaintext[i]) != 0 {
			same = false
		}
	}
	c.Assert(same, qt.IsFalse)
}

func TestEncryptValidation(t *testing.T) {
	c := qt.New(t)
	key := util.RandomBigInt(constants.Q)

	_, err := Encrypt(nil, key)
	c.Assert(err, qt.IsNotNil)

	_, err = Encrypt([]*big.Int{new(big.Int).Set(constants.Q)}, key)
	c.Assert(err, qt.IsNotNil)

	_, err = Encrypt(randomPlaintext(2), new(big.Int).Neg(big.NewInt(1)))
	c.Assert(err, qt.IsNotNil)

	_, err = Decrypt(nil, key)
	c.Assert(err, qt.IsNotNil)
}

func TestCiphertextsDifferAcrossKeys(t *testing.T) {
	c := qt.New(t)
	plaintext := randomPlaintext(3)
	ct1, err := Encrypt(plaintext, util.RandomBigInt(constants.Q))
	c.Assert(err, qt.IsNil)
	ct2, err := Encrypt(plaintext, util.RandomBigInt(constants.Q))
	c.Assert(err, qt.IsNil)

	// same plaintext, same IV, different keystream
	c.Assert(ct1.IV.Cmp(ct2.IV), qt.Equals, 0)
	c.Assert(ct1.Data[0].Cmp(ct2.Data[0]), qt.Not(qt.Equals), 0)
}
