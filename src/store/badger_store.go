package store

import (
	"bytes"

	"github.com/dgraph-io/badger"
	"github.com/ugorji/go/codec"

	"github.com/rkanadev/raiblocks/src/types"
)

const (
	blockPrefix          = "block"
	blockInfoPrefix      = "blockinfo"
	successorPrefix      = "successor"
	accountPrefix        = "account"
	pendingPrefix        = "pending"
	representationPrefix = "representation"
)

// BadgerStore persists the ledger in a Badger database. Records are encoded
// as canonical JSON; blocks as a type byte followed by their wire form.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens (or creates) the database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: handle, path: path}, nil
}

type badgerTransaction struct {
	txn  *badger.Txn
	done bool
}

func (t *badgerTransaction) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.txn.Commit()
}

func (t *badgerTransaction) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
}

func (s *BadgerStore) Begin(write bool) Transaction {
	return &badgerTransaction{txn: s.db.NewTransaction(write)}
}

func badgerKey(prefix string, suffix []byte) []byte {
	key := make([]byte, 0, len(prefix)+1+len(suffix))
	key = append(key, prefix...)
	key = append(key, '_')
	return append(key, suffix...)
}

func (s *BadgerStore) set(txn Transaction, key, value []byte) error {
	return txn.(*badgerTransaction).txn.Set(key, value)
}

func (s *BadgerStore) get(txn Transaction, key []byte) ([]byte, bool, error) {
	item, err := txn.(*badgerTransaction).txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Persisted record shapes; amounts travel as decimal strings and hashes as
// hex so the canonical encoding is stable.
type accountRecord struct {
	Head           string
	Representative string
	Balance        string
}

type pendingRecord struct {
	Source      string
	Destination string
	Amount      string
}

type blockInfoRecord struct {
	Account string
	Balance string
}

func encodeRecord(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoder(b, jh).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decodeRecord(data []byte, v interface{}) error {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return codec.NewDecoder(bytes.NewBuffer(data), jh).Decode(v)
}

func (s *BadgerStore) BlockPut(txn Transaction, hash types.BlockHash, block types.Block, info BlockInfo) error {
	body := append([]byte{byte(block.Type())}, block.Serialize()...)
	if err := s.set(txn, badgerKey(blockPrefix, hash[:]), body); err != nil {
		return err
	}
	record, err := encodeRecord(blockInfoRecord{
		Account: info.Account.String(),
		Balance: info.Balance.Dec(),
	})
	if err != nil {
		return err
	}
	return s.set(txn, badgerKey(blockInfoPrefix, hash[:]), record)
}

func (s *BadgerStore) BlockGet(txn Transaction, hash types.BlockHash) (types.Block, error) {
	data, ok, err := s.get(txn, badgerKey(blockPrefix, hash[:]))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBlockNotFound
	}
	if len(data) < 1 {
		return nil, ErrBadRecord
	}
	return types.DeserializeBlock(types.BlockType(data[0]), data[1:])
}

func (s *BadgerStore) BlockInfoGet(txn Transaction, hash types.BlockHash) (BlockInfo, error) {
	data, ok, err := s.get(txn, badgerKey(blockInfoPrefix, hash[:]))
	if err != nil {
		return BlockInfo{}, err
	}
	if !ok {
		return BlockInfo{}, ErrBlockNotFound
	}
	var record blockInfoRecord
	if err := decodeRecord(data, &record); err != nil {
		return BlockInfo{}, err
	}
	account, err := types.ParseAccount(record.Account)
	if err != nil {
		return BlockInfo{}, err
	}
	balance, err := types.ParseAmount(record.Balance)
	if err != nil {
		return BlockInfo{}, err
	}
	return BlockInfo{Account: account, Balance: balance}, nil
}

func (s *BadgerStore) BlockExists(txn Transaction, hash types.BlockHash) bool {
	_, ok, err := s.get(txn, badgerKey(blockPrefix, hash[:]))
	return err == nil && ok
}

func (s *BadgerStore) SuccessorPut(txn Transaction, root, hash types.BlockHash) error {
	return s.set(txn, badgerKey(successorPrefix, root[:]), hash[:])
}

func (s *BadgerStore) SuccessorGet(txn Transaction, root types.BlockHash) (types.BlockHash, bool) {
	data, ok, err := s.get(txn, badgerKey(successorPrefix, root[:]))
	if err != nil || !ok || len(data) != 32 {
		return types.ZeroHash, false
	}
	var hash types.BlockHash
	copy(hash[:], data)
	return hash, true
}

func (s *BadgerStore) AccountPut(txn Transaction, account types.Account, info AccountInfo) error {
	record, err := encodeRecord(accountRecord{
		Head:           info.Head.String(),
		Representative: info.Representative.String(),
		Balance:        info.Balance.Dec(),
	})
	if err != nil {
		return err
	}
	return s.set(txn, badgerKey(accountPrefix, account[:]), record)
}

func (s *BadgerStore) AccountGet(txn Transaction, account types.Account) (AccountInfo, bool) {
	data, ok, err := s.get(txn, badgerKey(accountPrefix, account[:]))
	if err != nil || !ok {
		return AccountInfo{}, false
	}
	var record accountRecord
	if err := decodeRecord(data, &record); err != nil {
		return AccountInfo{}, false
	}
	head, err := types.ParseHash(record.Head)
	if err != nil {
		return AccountInfo{}, false
	}
	representative, err := types.ParseAccount(record.Representative)
	if err != nil {
		return AccountInfo{}, false
	}
	balance, err := types.ParseAmount(record.Balance)
	if err != nil {
		return AccountInfo{}, false
	}
	return AccountInfo{Head: head, Representative: representative, Balance: balance}, true
}

func (s *BadgerStore) PendingPut(txn Transaction, hash types.BlockHash, info PendingInfo) error {
	record, err := encodeRecord(pendingRecord{
		Source:      info.Source.String(),
		Destination: info.Destination.String(),
		Amount:      info.Amount.Dec(),
	})
	if err != nil {
		return err
	}
	return s.set(txn, badgerKey(pendingPrefix, hash[:]), record)
}

func (s *BadgerStore) PendingGet(txn Transaction, hash types.BlockHash) (PendingInfo, bool) {
	data, ok, err := s.get(txn, badgerKey(pendingPrefix, hash[:]))
	if err != nil || !ok {
		return PendingInfo{}, false
	}
	var record pendingRecord
	if err := decodeRecord(data, &record); err != nil {
		return PendingInfo{}, false
	}
	source, err := types.ParseAccount(record.Source)
	if err != nil {
		return PendingInfo{}, false
	}
	destination, err := types.ParseAccount(record.Destination)
	if err != nil {
		return PendingInfo{}, false
	}
	amount, err := types.ParseAmount(record.Amount)
	if err != nil {
		return PendingInfo{}, false
	}
	return PendingInfo{Source: source, Destination: destination, Amount: amount}, true
}

func (s *BadgerStore) PendingDel(txn Transaction, hash types.BlockHash) error {
	return txn.(*badgerTransaction).txn.Delete(badgerKey(pendingPrefix, hash[:]))
}

func (s *BadgerStore) RepresentationGet(txn Transaction, account types.Account) *types.Amount {
	data, ok, err := s.get(txn, badgerKey(representationPrefix, account[:]))
	if err != nil || !ok {
		return types.NewAmount(0)
	}
	weight := new(types.Amount)
	weight.SetBytes(data)
	return weight
}

func (s *BadgerStore) RepresentationPut(txn Transaction, account types.Account, weight *types.Amount) error {
	value := weight.Bytes32()
	return s.set(txn, badgerKey(representationPrefix, account[:]), value[:])
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
