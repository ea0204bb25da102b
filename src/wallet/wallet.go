// Package wallet holds the representative keys this node controls and
// produces their signed votes with monotone sequence numbers.
package wallet

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/crypto"
	"github.com/rkanadev/raiblocks/src/types"
)

// Wallet is the in-memory key store for locally-held representatives. It
// holds plain key pairs; no key encryption or password fanout is applied.
type Wallet struct {
	mu        sync.Mutex
	keys      map[types.Account]crypto.KeyPair
	sequences map[types.Account]uint64

	logger *logrus.Entry
}

// New returns an empty wallet.
func New(logger *logrus.Entry) *Wallet {
	return &Wallet{
		keys:      make(map[types.Account]crypto.KeyPair),
		sequences: make(map[types.Account]uint64),
		logger:    logger,
	}
}

// Insert adds a representative key pair.
func (w *Wallet) Insert(kp crypto.KeyPair) types.Account {
	account := types.AccountFromBytes(kp.Public)

	w.mu.Lock()
	w.keys[account] = kp
	w.mu.Unlock()

	return account
}

// Exists reports whether the wallet holds the account's key.
func (w *Wallet) Exists(account types.Account) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.keys[account]
	return ok
}

// Representatives returns the accounts this wallet can vote as.
func (w *Wallet) Representatives() []types.Account {
	w.mu.Lock()
	defer w.mu.Unlock()

	accounts := make([]types.Account, 0, len(w.keys))
	for account := range w.keys {
		accounts = append(accounts, account)
	}
	return accounts
}

// Vote produces the representative's next signed vote for the block. The
// per-representative sequence increases monotonically so newer votes
// supersede older ones in every tally.
func (w *Wallet) Vote(account types.Account, block types.Block) (*types.Vote, bool) {
	w.mu.Lock()
	kp, ok := w.keys[account]
	if !ok {
		w.mu.Unlock()
		return nil, false
	}
	w.sequences[account]++
	sequence := w.sequences[account]
	w.mu.Unlock()

	return types.NewVote(kp, sequence, block), true
}

// Size returns the number of held keys.
func (w *Wallet) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.keys)
}
