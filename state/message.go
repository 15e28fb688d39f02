package state

import (
	"fmt"
	"math/big"

	"github.com/dvlprsh/maci/crypto/hash/poseidon"
	"github.com/dvlprsh/maci/types"
)

// MessageDataLength is the exact number of ciphertext elements in a message:
// 4 packed command elements plus 3 signature elements.
const MessageDataLength = 7

// Message is the encrypted form of a command and its signature. Messages are
// immutable once created and append-only in the message accumulator.
type Message struct {
	IV   *big.Int
	Data [MessageDataLength]*big.Int
}

// NewMessage builds a message from an IV and exactly 7 ciphertext elements.
func NewMessage(iv *big.Int, data []*big.Int) (*Message, error) {
	if len(data) != MessageDataLength {
		return nil, fmt.Errorf("message data must have %d elements, got %d", MessageDataLength, len(data))
	}
	msg := &Message{IV: new(big.Int).Set(iv)}
	for i, e := range data {
		msg.Data[i] = new(big.Int).Set(e)
	}
	return msg, nil
}

// Hash folds the message into a single field element in two stages:
// Poseidon(iv, data[0..3]) then Poseidon(stage1, data[4..6]). The two-stage
// fold matches the circuit's hash arity constraints.
func (m *Message) Hash() (*big.Int, error) {
	stage1, err := poseidon.MultiPoseidon(m.IV, m.Data[0], m.Data[1], m.Data[2], m.Data[3])
	if err != nil {
		return nil, fmt.Errorf("message hash stage 1: %w", err)
	}
	return poseidon.MultiPoseidon(stage1, m.Data[4], m.Data[5], m.Data[6])
}

// AsArray returns the message as the 8 field elements the circuit consumes:
// the IV followed by the 7 ciphertext elements.
func (m *Message) AsArray() []*big.Int {
	out := make([]*big.Int, 0, MessageDataLength+1)
	out = append(out, new(big.Int).Set(m.IV))
	for _, e := range m.Data {
		out = append(out, new(big.Int).Set(e))
	}
	return out
}

// Copy returns an independent copy of the message.
func (m *Message) Copy() *Message {
	cp, _ := NewMessage(m.IV, m.Data[:])
	return cp
}

// AsContractParam renders the message in the decimal-string form consumed by
// the ledger contract.
func (m *Message) AsContractParam() []*types.BigInt {
	out := make([]*types.BigInt, 0, MessageDataLength+1)
	for _, e := range m.AsArray() {
		out = append(out, new(types.BigInt).SetBigInt(e))
	}
	return out
}
