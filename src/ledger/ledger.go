// Package ledger classifies inbound blocks against the store and applies
// the ones that advance an account chain.
package ledger

import (
	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/crypto"
	"github.com/rkanadev/raiblocks/src/store"
	"github.com/rkanadev/raiblocks/src/types"
)

// ProcessResult classifies one block against the current ledger state.
type ProcessResult uint8

const (
	// Progress: the block extended a chain and was stored.
	Progress ProcessResult = iota
	// GapPrevious: the block's previous is unknown; park it in the gap cache.
	GapPrevious
	// GapSource: the referenced send is unknown; park it in the gap cache.
	GapSource
	// Old: the block is already in the store.
	Old
	// Fork: another block already occupies this root's slot.
	Fork
	// BadSignature: the signature doesn't verify against the chain owner.
	BadSignature
	// NegativeSpend: a send's remaining balance exceeds the chain balance.
	NegativeSpend
	// Unreceivable: the referenced send is not pending for this account.
	Unreceivable
	// NotReceiveFromSend: the receive's source is not a send block.
	NotReceiveFromSend
)

func (r ProcessResult) String() string {
	switch r {
	case Progress:
		return "progress"
	case GapPrevious:
		return "gap_previous"
	case GapSource:
		return "gap_source"
	case Old:
		return "old"
	case Fork:
		return "fork"
	case BadSignature:
		return "bad_signature"
	case NegativeSpend:
		return "negative_spend"
	case Unreceivable:
		return "unreceivable"
	case NotReceiveFromSend:
		return "not_receive_from_send"
	default:
		return "unknown"
	}
}

// Ledger applies validation and state transitions on top of a store.
type Ledger struct {
	store  store.Store
	logger *logrus.Entry
}

// New creates a ledger over the given store.
func New(s store.Store, logger *logrus.Entry) *Ledger {
	return &Ledger{store: s, logger: logger}
}

// Store exposes the underlying store for transaction management.
func (l *Ledger) Store() store.Store {
	return l.store
}

// Process classifies the block and, on progress, applies it.
func (l *Ledger) Process(txn store.Transaction, block types.Block) ProcessResult {
	var result ProcessResult
	switch b := block.(type) {
	case *types.SendBlock:
		result = l.processSend(txn, b)
	case *types.ReceiveBlock:
		result = l.processReceive(txn, b)
	case *types.OpenBlock:
		result = l.processOpen(txn, b)
	case *types.ChangeBlock:
		result = l.processChange(txn, b)
	default:
		result = BadSignature
	}

	if l.logger != nil && result != Progress && result != Old {
		l.logger.WithFields(logrus.Fields{
			"hash":   block.Hash().String(),
			"type":   block.Type().String(),
			"result": result.String(),
		}).Debug("Block rejected")
	}

	return result
}

func (l *Ledger) processSend(txn store.Transaction, b *types.SendBlock) ProcessResult {
	hash := b.Hash()
	if l.store.BlockExists(txn, hash) {
		return Old
	}
	if !l.store.BlockExists(txn, b.PreviousHash) {
		return GapPrevious
	}
	if _, taken := l.store.SuccessorGet(txn, b.PreviousHash); taken {
		return Fork
	}

	prevInfo, err := l.store.BlockInfoGet(txn, b.PreviousHash)
	if err != nil {
		return GapPrevious
	}
	account := prevInfo.Account
	if !crypto.Verify(account[:], hash[:], b.Signature()) {
		return BadSignature
	}

	info, ok := l.store.AccountGet(txn, account)
	if !ok || info.Head != b.PreviousHash {
		return Fork
	}
	if b.Balance.Cmp(prevInfo.Balance) > 0 {
		return NegativeSpend
	}

	amount := new(types.Amount).Sub(prevInfo.Balance, b.Balance)

	l.store.BlockPut(txn, hash, b, store.BlockInfo{Account: account, Balance: b.Balance.Clone()})
	l.store.SuccessorPut(txn, b.PreviousHash, hash)
	info.Head = hash
	info.Balance = b.Balance.Clone()
	l.store.AccountPut(txn, account, info)
	l.store.PendingPut(txn, hash, store.PendingInfo{
		Source:      account,
		Destination: b.Destination,
		Amount:      amount,
	})
	l.moveWeight(txn, info.Representative, types.Account{}, amount)

	return Progress
}

func (l *Ledger) processReceive(txn store.Transaction, b *types.ReceiveBlock) ProcessResult {
	hash := b.Hash()
	if l.store.BlockExists(txn, hash) {
		return Old
	}
	if !l.store.BlockExists(txn, b.PreviousHash) {
		return GapPrevious
	}
	if _, taken := l.store.SuccessorGet(txn, b.PreviousHash); taken {
		return Fork
	}
	if !l.store.BlockExists(txn, b.SourceHash) {
		return GapSource
	}

	prevInfo, err := l.store.BlockInfoGet(txn, b.PreviousHash)
	if err != nil {
		return GapPrevious
	}
	account := prevInfo.Account
	if !crypto.Verify(account[:], hash[:], b.Signature()) {
		return BadSignature
	}

	pending, result := l.receivable(txn, b.SourceHash, account)
	if result != Progress {
		return result
	}

	info, ok := l.store.AccountGet(txn, account)
	if !ok || info.Head != b.PreviousHash {
		return Fork
	}

	balance := new(types.Amount).Add(prevInfo.Balance, pending.Amount)

	l.store.BlockPut(txn, hash, b, store.BlockInfo{Account: account, Balance: balance})
	l.store.SuccessorPut(txn, b.PreviousHash, hash)
	l.store.PendingDel(txn, b.SourceHash)
	info.Head = hash
	info.Balance = balance.Clone()
	l.store.AccountPut(txn, account, info)
	l.moveWeight(txn, types.Account{}, info.Representative, pending.Amount)

	return Progress
}

func (l *Ledger) processOpen(txn store.Transaction, b *types.OpenBlock) ProcessResult {
	hash := b.Hash()
	if l.store.BlockExists(txn, hash) {
		return Old
	}
	if _, opened := l.store.AccountGet(txn, b.Account); opened {
		return Fork
	}
	if !l.store.BlockExists(txn, b.SourceHash) {
		return GapSource
	}
	if !crypto.Verify(b.Account[:], hash[:], b.Signature()) {
		return BadSignature
	}

	pending, result := l.receivable(txn, b.SourceHash, b.Account)
	if result != Progress {
		return result
	}

	l.store.BlockPut(txn, hash, b, store.BlockInfo{Account: b.Account, Balance: pending.Amount.Clone()})
	l.store.SuccessorPut(txn, b.Account.Hash(), hash)
	l.store.PendingDel(txn, b.SourceHash)
	l.store.AccountPut(txn, b.Account, store.AccountInfo{
		Head:           hash,
		Representative: b.Representative,
		Balance:        pending.Amount.Clone(),
	})
	l.moveWeight(txn, types.Account{}, b.Representative, pending.Amount)

	return Progress
}

func (l *Ledger) processChange(txn store.Transaction, b *types.ChangeBlock) ProcessResult {
	hash := b.Hash()
	if l.store.BlockExists(txn, hash) {
		return Old
	}
	if !l.store.BlockExists(txn, b.PreviousHash) {
		return GapPrevious
	}
	if _, taken := l.store.SuccessorGet(txn, b.PreviousHash); taken {
		return Fork
	}

	prevInfo, err := l.store.BlockInfoGet(txn, b.PreviousHash)
	if err != nil {
		return GapPrevious
	}
	account := prevInfo.Account
	if !crypto.Verify(account[:], hash[:], b.Signature()) {
		return BadSignature
	}

	info, ok := l.store.AccountGet(txn, account)
	if !ok || info.Head != b.PreviousHash {
		return Fork
	}

	l.store.BlockPut(txn, hash, b, store.BlockInfo{Account: account, Balance: info.Balance.Clone()})
	l.store.SuccessorPut(txn, b.PreviousHash, hash)
	l.moveWeight(txn, info.Representative, b.Representative, info.Balance)
	info.Head = hash
	info.Representative = b.Representative
	l.store.AccountPut(txn, account, info)

	return Progress
}

// receivable checks that source is a send pending for account.
func (l *Ledger) receivable(txn store.Transaction, source types.BlockHash, account types.Account) (store.PendingInfo, ProcessResult) {
	pending, ok := l.store.PendingGet(txn, source)
	if !ok {
		sourceBlock, err := l.store.BlockGet(txn, source)
		if err == nil && sourceBlock.Type() != types.BlockSend {
			return store.PendingInfo{}, NotReceiveFromSend
		}
		return store.PendingInfo{}, Unreceivable
	}
	if pending.Destination != account {
		return store.PendingInfo{}, Unreceivable
	}
	return pending, Progress
}

// moveWeight shifts voting weight between representatives; the zero account
// means supply entering or leaving pending.
func (l *Ledger) moveWeight(txn store.Transaction, from, to types.Account, amount *types.Amount) {
	if amount.IsZero() {
		return
	}
	if !from.IsZero() {
		weight := l.store.RepresentationGet(txn, from)
		weight.Sub(weight, amount)
		l.store.RepresentationPut(txn, from, weight)
	}
	if !to.IsZero() {
		weight := l.store.RepresentationGet(txn, to)
		weight.Add(weight, amount)
		l.store.RepresentationPut(txn, to, weight)
	}
}

// Weight returns the voting weight delegated to a representative.
func (l *Ledger) Weight(txn store.Transaction, account types.Account) *types.Amount {
	return l.store.RepresentationGet(txn, account)
}

// Successor returns the block occupying the slot after root.
func (l *Ledger) Successor(txn store.Transaction, root types.BlockHash) (types.BlockHash, bool) {
	return l.store.SuccessorGet(txn, root)
}

// Account returns the owner of a stored block.
func (l *Ledger) Account(txn store.Transaction, hash types.BlockHash) (types.Account, error) {
	info, err := l.store.BlockInfoGet(txn, hash)
	if err != nil {
		return types.Account{}, err
	}
	return info.Account, nil
}

// Latest returns the head block of an account chain.
func (l *Ledger) Latest(txn store.Transaction, account types.Account) (types.BlockHash, bool) {
	info, ok := l.store.AccountGet(txn, account)
	if !ok {
		return types.ZeroHash, false
	}
	return info.Head, true
}
