package store

import (
	"sync"

	"github.com/rkanadev/raiblocks/src/types"
)

// InmemStore is a map-backed store. Transactions are modelled directly on
// the store's RWMutex: read transactions share, the write transaction
// excludes.
type InmemStore struct {
	mu sync.RWMutex

	blocks          map[types.BlockHash]types.Block
	blockInfos      map[types.BlockHash]BlockInfo
	successors      map[types.BlockHash]types.BlockHash
	accounts        map[types.Account]AccountInfo
	pendings        map[types.BlockHash]PendingInfo
	representations map[types.Account]*types.Amount
}

// NewInmemStore returns an empty in-memory store.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		blocks:          make(map[types.BlockHash]types.Block),
		blockInfos:      make(map[types.BlockHash]BlockInfo),
		successors:      make(map[types.BlockHash]types.BlockHash),
		accounts:        make(map[types.Account]AccountInfo),
		pendings:        make(map[types.BlockHash]PendingInfo),
		representations: make(map[types.Account]*types.Amount),
	}
}

type inmemTransaction struct {
	store *InmemStore
	write bool
	done  bool
}

func (t *inmemTransaction) Commit() error {
	t.release()
	return nil
}

func (t *inmemTransaction) Discard() {
	t.release()
}

func (t *inmemTransaction) release() {
	if t.done {
		return
	}
	t.done = true
	if t.write {
		t.store.mu.Unlock()
	} else {
		t.store.mu.RUnlock()
	}
}

// Begin acquires a transaction. The caller must Commit or Discard it from
// the same task; nesting within one goroutine deadlocks, which matches the
// discipline that no callback opens a transaction while holding one.
func (s *InmemStore) Begin(write bool) Transaction {
	if write {
		s.mu.Lock()
	} else {
		s.mu.RLock()
	}
	return &inmemTransaction{store: s, write: write}
}

func (s *InmemStore) BlockPut(txn Transaction, hash types.BlockHash, block types.Block, info BlockInfo) error {
	s.blocks[hash] = block
	s.blockInfos[hash] = info
	return nil
}

func (s *InmemStore) BlockGet(txn Transaction, hash types.BlockHash) (types.Block, error) {
	block, ok := s.blocks[hash]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return block, nil
}

func (s *InmemStore) BlockInfoGet(txn Transaction, hash types.BlockHash) (BlockInfo, error) {
	info, ok := s.blockInfos[hash]
	if !ok {
		return BlockInfo{}, ErrBlockNotFound
	}
	return info, nil
}

func (s *InmemStore) BlockExists(txn Transaction, hash types.BlockHash) bool {
	_, ok := s.blocks[hash]
	return ok
}

func (s *InmemStore) SuccessorPut(txn Transaction, root, hash types.BlockHash) error {
	s.successors[root] = hash
	return nil
}

func (s *InmemStore) SuccessorGet(txn Transaction, root types.BlockHash) (types.BlockHash, bool) {
	hash, ok := s.successors[root]
	return hash, ok
}

func (s *InmemStore) AccountPut(txn Transaction, account types.Account, info AccountInfo) error {
	s.accounts[account] = info
	return nil
}

func (s *InmemStore) AccountGet(txn Transaction, account types.Account) (AccountInfo, bool) {
	info, ok := s.accounts[account]
	return info, ok
}

func (s *InmemStore) PendingPut(txn Transaction, hash types.BlockHash, info PendingInfo) error {
	s.pendings[hash] = info
	return nil
}

func (s *InmemStore) PendingGet(txn Transaction, hash types.BlockHash) (PendingInfo, bool) {
	info, ok := s.pendings[hash]
	return info, ok
}

func (s *InmemStore) PendingDel(txn Transaction, hash types.BlockHash) error {
	delete(s.pendings, hash)
	return nil
}

func (s *InmemStore) RepresentationGet(txn Transaction, account types.Account) *types.Amount {
	if weight, ok := s.representations[account]; ok {
		return weight.Clone()
	}
	return types.NewAmount(0)
}

func (s *InmemStore) RepresentationPut(txn Transaction, account types.Account, weight *types.Amount) error {
	s.representations[account] = weight.Clone()
	return nil
}

func (s *InmemStore) Close() error {
	return nil
}
