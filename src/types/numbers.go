package types

import (
	"bytes"
	"encoding/hex"

	"github.com/holiman/uint256"
)

// BlockHash is a 256-bit block identifier. Roots are also represented as
// block hashes: the previous block's hash, or the account public key for the
// first block of a chain.
type BlockHash [32]byte

// ZeroHash is the null hash, used as the previous field of open blocks and
// as the source field of send and change blocks.
var ZeroHash BlockHash

func (h BlockHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h BlockHash) IsZero() bool {
	return h == ZeroHash
}

// Compare orders hashes by byte value. Winner tie-breaks depend on this
// ordering being total and deterministic.
func (h BlockHash) Compare(other BlockHash) int {
	return bytes.Compare(h[:], other[:])
}

// Account is a 256-bit ed25519 public key identifying an account chain.
type Account [32]byte

func (a Account) String() string {
	return hex.EncodeToString(a[:])
}

func (a Account) IsZero() bool {
	return a == Account{}
}

// Hash reinterprets the account as a block hash, which is how open-block
// roots are keyed.
func (a Account) Hash() BlockHash {
	return BlockHash(a)
}

// AccountFromBytes converts a 32-byte public key into an Account.
func AccountFromBytes(b []byte) Account {
	var a Account
	copy(a[:], b)
	return a
}

// ParseHash decodes a hex string into a BlockHash.
func ParseHash(s string) (BlockHash, error) {
	var h BlockHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// ParseAccount decodes a hex string into an Account.
func ParseAccount(s string) (Account, error) {
	h, err := ParseHash(s)
	return Account(h), err
}

// Amount is a 128-bit unsigned integer carrying balances and voting weight.
// It is backed by a 256-bit implementation; values are truncated to 16 bytes
// on the wire.
type Amount = uint256.Int

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) *Amount {
	return uint256.NewInt(v)
}

// ParseAmount decodes a decimal string into an Amount.
func ParseAmount(s string) (*Amount, error) {
	a := new(Amount)
	if err := a.SetFromDecimal(s); err != nil {
		return nil, err
	}
	return a, nil
}

// AmountBytes returns the 16-byte big-endian wire representation.
func AmountBytes(a *Amount) [16]byte {
	var out [16]byte
	full := a.Bytes32()
	copy(out[:], full[16:])
	return out
}

// AmountFromBytes decodes a 16-byte big-endian wire amount.
func AmountFromBytes(b [16]byte) *Amount {
	a := new(Amount)
	a.SetBytes(b[:])
	return a
}
