package types

import (
	"errors"

	"github.com/rkanadev/raiblocks/src/crypto"
)

// BlockType discriminates the four block variants on the wire.
type BlockType byte

const (
	BlockInvalid BlockType = iota
	BlockNotABlock
	BlockSend
	BlockReceive
	BlockOpen
	BlockChange
)

func (t BlockType) String() string {
	switch t {
	case BlockSend:
		return "send"
	case BlockReceive:
		return "receive"
	case BlockOpen:
		return "open"
	case BlockChange:
		return "change"
	case BlockNotABlock:
		return "not_a_block"
	default:
		return "invalid"
	}
}

var (
	ErrBadBlockType   = errors.New("bad block type")
	ErrShortBlockData = errors.New("short block data")
)

// Block is the interface shared by the four block variants. A block exposes
// its hash, its root (the conflict identifier: the previous block's hash, or
// the account for an open block), and its signed body.
type Block interface {
	Type() BlockType
	// Hash is the Blake2b digest of the hashable fields.
	Hash() BlockHash
	Root() BlockHash
	Previous() BlockHash
	// Source is the referenced send block for receive/open blocks, zero
	// otherwise.
	Source() BlockHash
	Signature() [64]byte
	SetSignature([64]byte)
	Work() uint64
	SetWork(uint64)
	// Serialize returns the full wire form: hashables, signature, work.
	Serialize() []byte
	Deserialize([]byte) error

	hashables() []byte
}

// BlockSize returns the serialized size of a block of the given type, or 0
// for an unknown type.
func BlockSize(t BlockType) int {
	switch t {
	case BlockSend:
		return 32 + 32 + 16 + 64 + 8
	case BlockReceive:
		return 32 + 32 + 64 + 8
	case BlockOpen:
		return 32 + 32 + 32 + 64 + 8
	case BlockChange:
		return 32 + 32 + 64 + 8
	default:
		return 0
	}
}

// NewBlockOfType returns an empty block of the given type for deserializing
// into.
func NewBlockOfType(t BlockType) (Block, error) {
	switch t {
	case BlockSend:
		return &SendBlock{}, nil
	case BlockReceive:
		return &ReceiveBlock{}, nil
	case BlockOpen:
		return &OpenBlock{}, nil
	case BlockChange:
		return &ChangeBlock{}, nil
	default:
		return nil, ErrBadBlockType
	}
}

// DeserializeBlock decodes a block of the given type from data.
func DeserializeBlock(t BlockType, data []byte) (Block, error) {
	block, err := NewBlockOfType(t)
	if err != nil {
		return nil, err
	}
	if err := block.Deserialize(data); err != nil {
		return nil, err
	}
	return block, nil
}

func hashOf(b Block) BlockHash {
	return BlockHash(crypto.Blake2b(b.hashables()))
}

//------------------------------------------------------------------------------

// SendBlock debits its account chain, leaving the remaining balance and
// naming the destination account.
type SendBlock struct {
	PreviousHash BlockHash
	Destination  Account
	Balance      *Amount

	signature [64]byte
	work      uint64
}

// NewSendBlock builds and signs a send block with the chain owner's key.
func NewSendBlock(previous BlockHash, destination Account, balance *Amount, kp crypto.KeyPair, work uint64) *SendBlock {
	b := &SendBlock{PreviousHash: previous, Destination: destination, Balance: balance, work: work}
	h := b.Hash()
	b.signature = kp.Sign(h[:])
	return b
}

func (b *SendBlock) Type() BlockType      { return BlockSend }
func (b *SendBlock) Hash() BlockHash      { return hashOf(b) }
func (b *SendBlock) Root() BlockHash      { return b.PreviousHash }
func (b *SendBlock) Previous() BlockHash  { return b.PreviousHash }
func (b *SendBlock) Source() BlockHash    { return ZeroHash }
func (b *SendBlock) Signature() [64]byte  { return b.signature }
func (b *SendBlock) SetSignature(s [64]byte) { b.signature = s }
func (b *SendBlock) Work() uint64         { return b.work }
func (b *SendBlock) SetWork(w uint64) { b.work = w }

func (b *SendBlock) hashables() []byte {
	out := make([]byte, 0, 80)
	out = append(out, b.PreviousHash[:]...)
	out = append(out, b.Destination[:]...)
	balance := AmountBytes(b.Balance)
	out = append(out, balance[:]...)
	return out
}

func (b *SendBlock) Serialize() []byte {
	return serializeTail(b.hashables(), b.signature, b.work)
}

func (b *SendBlock) Deserialize(data []byte) error {
	if len(data) < BlockSize(BlockSend) {
		return ErrShortBlockData
	}
	copy(b.PreviousHash[:], data[0:32])
	copy(b.Destination[:], data[32:64])
	var balance [16]byte
	copy(balance[:], data[64:80])
	b.Balance = AmountFromBytes(balance)
	deserializeTail(data[80:], &b.signature, &b.work)
	return nil
}

//------------------------------------------------------------------------------

// ReceiveBlock credits its account chain with the amount of a pending send.
type ReceiveBlock struct {
	PreviousHash BlockHash
	SourceHash   BlockHash

	signature [64]byte
	work      uint64
}

// NewReceiveBlock builds and signs a receive block with the chain owner's
// key.
func NewReceiveBlock(previous, source BlockHash, kp crypto.KeyPair, work uint64) *ReceiveBlock {
	b := &ReceiveBlock{PreviousHash: previous, SourceHash: source, work: work}
	h := b.Hash()
	b.signature = kp.Sign(h[:])
	return b
}

func (b *ReceiveBlock) Type() BlockType      { return BlockReceive }
func (b *ReceiveBlock) Hash() BlockHash      { return hashOf(b) }
func (b *ReceiveBlock) Root() BlockHash      { return b.PreviousHash }
func (b *ReceiveBlock) Previous() BlockHash  { return b.PreviousHash }
func (b *ReceiveBlock) Source() BlockHash    { return b.SourceHash }
func (b *ReceiveBlock) Signature() [64]byte  { return b.signature }
func (b *ReceiveBlock) SetSignature(s [64]byte) { b.signature = s }
func (b *ReceiveBlock) Work() uint64         { return b.work }
func (b *ReceiveBlock) SetWork(w uint64) { b.work = w }

func (b *ReceiveBlock) hashables() []byte {
	out := make([]byte, 0, 64)
	out = append(out, b.PreviousHash[:]...)
	out = append(out, b.SourceHash[:]...)
	return out
}

func (b *ReceiveBlock) Serialize() []byte {
	return serializeTail(b.hashables(), b.signature, b.work)
}

func (b *ReceiveBlock) Deserialize(data []byte) error {
	if len(data) < BlockSize(BlockReceive) {
		return ErrShortBlockData
	}
	copy(b.PreviousHash[:], data[0:32])
	copy(b.SourceHash[:], data[32:64])
	deserializeTail(data[64:], &b.signature, &b.work)
	return nil
}

//------------------------------------------------------------------------------

// OpenBlock starts an account chain by receiving a pending send. Its root is
// the account itself.
type OpenBlock struct {
	SourceHash     BlockHash
	Representative Account
	Account        Account

	signature [64]byte
	work      uint64
}

// NewOpenBlock builds and signs an open block with the account's own key.
func NewOpenBlock(source BlockHash, representative Account, kp crypto.KeyPair, work uint64) *OpenBlock {
	b := &OpenBlock{
		SourceHash:     source,
		Representative: representative,
		Account:        AccountFromBytes(kp.Public),
		work:           work,
	}
	h := b.Hash()
	b.signature = kp.Sign(h[:])
	return b
}

func (b *OpenBlock) Type() BlockType      { return BlockOpen }
func (b *OpenBlock) Hash() BlockHash      { return hashOf(b) }
func (b *OpenBlock) Root() BlockHash      { return b.Account.Hash() }
func (b *OpenBlock) Previous() BlockHash  { return ZeroHash }
func (b *OpenBlock) Source() BlockHash    { return b.SourceHash }
func (b *OpenBlock) Signature() [64]byte  { return b.signature }
func (b *OpenBlock) SetSignature(s [64]byte) { b.signature = s }
func (b *OpenBlock) Work() uint64         { return b.work }
func (b *OpenBlock) SetWork(w uint64) { b.work = w }

func (b *OpenBlock) hashables() []byte {
	out := make([]byte, 0, 96)
	out = append(out, b.SourceHash[:]...)
	out = append(out, b.Representative[:]...)
	out = append(out, b.Account[:]...)
	return out
}

func (b *OpenBlock) Serialize() []byte {
	return serializeTail(b.hashables(), b.signature, b.work)
}

func (b *OpenBlock) Deserialize(data []byte) error {
	if len(data) < BlockSize(BlockOpen) {
		return ErrShortBlockData
	}
	copy(b.SourceHash[:], data[0:32])
	copy(b.Representative[:], data[32:64])
	copy(b.Account[:], data[64:96])
	deserializeTail(data[96:], &b.signature, &b.work)
	return nil
}

//------------------------------------------------------------------------------

// ChangeBlock reassigns the chain's representative without moving funds.
type ChangeBlock struct {
	PreviousHash   BlockHash
	Representative Account

	signature [64]byte
	work      uint64
}

// NewChangeBlock builds and signs a change block with the chain owner's key.
func NewChangeBlock(previous BlockHash, representative Account, kp crypto.KeyPair, work uint64) *ChangeBlock {
	b := &ChangeBlock{PreviousHash: previous, Representative: representative, work: work}
	h := b.Hash()
	b.signature = kp.Sign(h[:])
	return b
}

func (b *ChangeBlock) Type() BlockType      { return BlockChange }
func (b *ChangeBlock) Hash() BlockHash      { return hashOf(b) }
func (b *ChangeBlock) Root() BlockHash      { return b.PreviousHash }
func (b *ChangeBlock) Previous() BlockHash  { return b.PreviousHash }
func (b *ChangeBlock) Source() BlockHash    { return ZeroHash }
func (b *ChangeBlock) Signature() [64]byte  { return b.signature }
func (b *ChangeBlock) SetSignature(s [64]byte) { b.signature = s }
func (b *ChangeBlock) Work() uint64         { return b.work }
func (b *ChangeBlock) SetWork(w uint64) { b.work = w }

func (b *ChangeBlock) hashables() []byte {
	out := make([]byte, 0, 64)
	out = append(out, b.PreviousHash[:]...)
	out = append(out, b.Representative[:]...)
	return out
}

func (b *ChangeBlock) Serialize() []byte {
	return serializeTail(b.hashables(), b.signature, b.work)
}

func (b *ChangeBlock) Deserialize(data []byte) error {
	if len(data) < BlockSize(BlockChange) {
		return ErrShortBlockData
	}
	copy(b.PreviousHash[:], data[0:32])
	copy(b.Representative[:], data[32:64])
	deserializeTail(data[64:], &b.signature, &b.work)
	return nil
}

//------------------------------------------------------------------------------

func serializeTail(hashables []byte, signature [64]byte, work uint64) []byte {
	out := make([]byte, 0, len(hashables)+72)
	out = append(out, hashables...)
	out = append(out, signature[:]...)
	var w [8]byte
	for i := 0; i < 8; i++ {
		w[i] = byte(work >> (8 * i))
	}
	out = append(out, w[:]...)
	return out
}

func deserializeTail(data []byte, signature *[64]byte, work *uint64) {
	copy(signature[:], data[0:64])
	*work = 0
	for i := 0; i < 8; i++ {
		*work |= uint64(data[64+i]) << (8 * i)
	}
}
