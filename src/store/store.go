// Package store defines the transactional block store the ledger runs on,
// with typed accessors for blocks, account frontiers, pending sends, and
// representation weights.
package store

import (
	"errors"

	"github.com/rkanadev/raiblocks/src/types"
)

var (
	ErrBlockNotFound = errors.New("block not found")
	ErrBadRecord     = errors.New("bad store record")
)

// AccountInfo is the frontier record of one account chain.
type AccountInfo struct {
	Head           types.BlockHash
	Representative types.Account
	Balance        *types.Amount
}

// PendingInfo records a send awaiting receipt, keyed by the send block's
// hash.
type PendingInfo struct {
	Source      types.Account
	Destination types.Account
	Amount      *types.Amount
}

// BlockInfo is the sidecar stored with every block: the owning account and
// the chain balance after the block.
type BlockInfo struct {
	Account types.Account
	Balance *types.Amount
}

// Transaction is a unit of store work. Reads do not block each other;
// writes serialize. The core acquires, uses, and releases a transaction
// within a single task and never holds one across a suspension.
type Transaction interface {
	Commit() error
	Discard()
}

// Store is the persistent block store consumed by the ledger and the gap
// cache.
type Store interface {
	Begin(write bool) Transaction

	BlockPut(txn Transaction, hash types.BlockHash, block types.Block, info BlockInfo) error
	BlockGet(txn Transaction, hash types.BlockHash) (types.Block, error)
	BlockInfoGet(txn Transaction, hash types.BlockHash) (BlockInfo, error)
	BlockExists(txn Transaction, hash types.BlockHash) bool

	// Successors map a root to the block occupying the slot after it; the
	// root of an open block is the account itself.
	SuccessorPut(txn Transaction, root, hash types.BlockHash) error
	SuccessorGet(txn Transaction, root types.BlockHash) (types.BlockHash, bool)

	AccountPut(txn Transaction, account types.Account, info AccountInfo) error
	AccountGet(txn Transaction, account types.Account) (AccountInfo, bool)

	PendingPut(txn Transaction, hash types.BlockHash, info PendingInfo) error
	PendingGet(txn Transaction, hash types.BlockHash) (PendingInfo, bool)
	PendingDel(txn Transaction, hash types.BlockHash) error

	RepresentationGet(txn Transaction, account types.Account) *types.Amount
	RepresentationPut(txn Transaction, account types.Account, weight *types.Amount) error

	Close() error
}
