package ledger

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/common"
	"github.com/rkanadev/raiblocks/src/crypto"
	"github.com/rkanadev/raiblocks/src/store"
	"github.com/rkanadev/raiblocks/src/types"
)

// genesisSupply funds the test chain.
var genesisSupply = types.NewAmount(1000000)

type fixture struct {
	ledger  *Ledger
	store   store.Store
	genesis crypto.KeyPair
	open    *types.OpenBlock
}

// newFixture seeds a store with a genesis account holding the whole
// supply, delegated to itself.
func newFixture(t *testing.T) *fixture {
	st := store.NewInmemStore()
	l := New(st, common.NewTestLogger(t, logrus.DebugLevel).WithField("prefix", "ledger"))

	genesis, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	account := types.AccountFromBytes(genesis.Public)

	var genesisSource types.BlockHash
	open := types.NewOpenBlock(genesisSource, account, genesis, 0)

	txn := st.Begin(true)
	st.BlockPut(txn, open.Hash(), open, store.BlockInfo{Account: account, Balance: genesisSupply.Clone()})
	st.SuccessorPut(txn, account.Hash(), open.Hash())
	st.AccountPut(txn, account, store.AccountInfo{
		Head:           open.Hash(),
		Representative: account,
		Balance:        genesisSupply.Clone(),
	})
	st.RepresentationPut(txn, account, genesisSupply.Clone())
	txn.Commit()

	return &fixture{ledger: l, store: st, genesis: genesis, open: open}
}

func (f *fixture) process(t *testing.T, block types.Block) ProcessResult {
	txn := f.store.Begin(true)
	defer txn.Commit()
	return f.ledger.Process(txn, block)
}

func (f *fixture) weight(t *testing.T, account types.Account) *types.Amount {
	txn := f.store.Begin(false)
	defer txn.Commit()
	return f.ledger.Weight(txn, account)
}

func TestProcessSendReceiveOpenChange(t *testing.T) {
	f := newFixture(t)
	genesisAccount := types.AccountFromBytes(f.genesis.Public)

	other, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	otherAccount := types.AccountFromBytes(other.Public)

	// Genesis sends 100 to the other account.
	remaining := new(types.Amount).Sub(genesisSupply, types.NewAmount(100))
	send := types.NewSendBlock(f.open.Hash(), otherAccount, remaining, f.genesis, 0)
	if result := f.process(t, send); result != Progress {
		t.Fatalf("send: expected progress, got %s", result)
	}
	if !f.weight(t, genesisAccount).Eq(remaining) {
		t.Fatal("send did not reduce the genesis representative weight")
	}

	// The other account opens with the pending send, delegating to itself.
	open := types.NewOpenBlock(send.Hash(), otherAccount, other, 0)
	if result := f.process(t, open); result != Progress {
		t.Fatalf("open: expected progress, got %s", result)
	}
	if !f.weight(t, otherAccount).Eq(types.NewAmount(100)) {
		t.Fatal("open did not credit the new representative")
	}

	// A second send and an ordinary receive.
	remaining2 := new(types.Amount).Sub(remaining, types.NewAmount(50))
	send2 := types.NewSendBlock(send.Hash(), otherAccount, remaining2, f.genesis, 0)
	if result := f.process(t, send2); result != Progress {
		t.Fatalf("send2: expected progress, got %s", result)
	}
	receive := types.NewReceiveBlock(open.Hash(), send2.Hash(), other, 0)
	if result := f.process(t, receive); result != Progress {
		t.Fatalf("receive: expected progress, got %s", result)
	}
	if !f.weight(t, otherAccount).Eq(types.NewAmount(150)) {
		t.Fatal("receive did not credit the representative")
	}

	// Delegate the other chain back to genesis.
	change := types.NewChangeBlock(receive.Hash(), genesisAccount, other, 0)
	if result := f.process(t, change); result != Progress {
		t.Fatalf("change: expected progress, got %s", result)
	}
	if !f.weight(t, otherAccount).IsZero() {
		t.Fatal("change left weight with the old representative")
	}
	if !f.weight(t, genesisAccount).Eq(new(types.Amount).Add(remaining2, types.NewAmount(150))) {
		t.Fatal("change did not credit the new representative")
	}

	// Latest follows the heads.
	txn := f.store.Begin(false)
	head, ok := f.ledger.Latest(txn, otherAccount)
	txn.Commit()
	if !ok || head != change.Hash() {
		t.Fatal("latest does not track the chain head")
	}
}

func TestProcessOld(t *testing.T) {
	f := newFixture(t)

	send := types.NewSendBlock(f.open.Hash(), types.AccountFromBytes(f.genesis.Public), types.NewAmount(0), f.genesis, 0)
	if result := f.process(t, send); result != Progress {
		t.Fatalf("expected progress, got %s", result)
	}
	if result := f.process(t, send); result != Old {
		t.Fatalf("expected old, got %s", result)
	}
}

func TestProcessFork(t *testing.T) {
	f := newFixture(t)
	genesisAccount := types.AccountFromBytes(f.genesis.Public)

	a := types.NewSendBlock(f.open.Hash(), genesisAccount, types.NewAmount(10), f.genesis, 0)
	b := types.NewSendBlock(f.open.Hash(), genesisAccount, types.NewAmount(20), f.genesis, 0)

	if result := f.process(t, a); result != Progress {
		t.Fatalf("expected progress, got %s", result)
	}
	if result := f.process(t, b); result != Fork {
		t.Fatalf("expected fork, got %s", result)
	}
}

func TestProcessGaps(t *testing.T) {
	f := newFixture(t)
	genesisAccount := types.AccountFromBytes(f.genesis.Public)

	var unknown types.BlockHash
	unknown[0] = 0xff

	send := types.NewSendBlock(unknown, genesisAccount, types.NewAmount(1), f.genesis, 0)
	if result := f.process(t, send); result != GapPrevious {
		t.Fatalf("expected gap_previous, got %s", result)
	}

	receive := types.NewReceiveBlock(f.open.Hash(), unknown, f.genesis, 0)
	if result := f.process(t, receive); result != GapSource {
		t.Fatalf("expected gap_source, got %s", result)
	}
}

func TestProcessBadSignature(t *testing.T) {
	f := newFixture(t)
	genesisAccount := types.AccountFromBytes(f.genesis.Public)

	send := types.NewSendBlock(f.open.Hash(), genesisAccount, types.NewAmount(1), f.genesis, 0)
	var sig [64]byte
	send.SetSignature(sig)

	if result := f.process(t, send); result != BadSignature {
		t.Fatalf("expected bad_signature, got %s", result)
	}
}

func TestProcessNegativeSpend(t *testing.T) {
	f := newFixture(t)
	genesisAccount := types.AccountFromBytes(f.genesis.Public)

	over := new(types.Amount).Add(genesisSupply, types.NewAmount(1))
	send := types.NewSendBlock(f.open.Hash(), genesisAccount, over, f.genesis, 0)

	if result := f.process(t, send); result != NegativeSpend {
		t.Fatalf("expected negative_spend, got %s", result)
	}
}

func TestProcessUnreceivable(t *testing.T) {
	f := newFixture(t)

	thief, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	other, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	// Send to other, but thief tries to open with it.
	send := types.NewSendBlock(f.open.Hash(), types.AccountFromBytes(other.Public), types.NewAmount(0), f.genesis, 0)
	if result := f.process(t, send); result != Progress {
		t.Fatalf("expected progress, got %s", result)
	}

	steal := types.NewOpenBlock(send.Hash(), types.AccountFromBytes(thief.Public), thief, 0)
	if result := f.process(t, steal); result != Unreceivable {
		t.Fatalf("expected unreceivable, got %s", result)
	}
}

func TestProcessNotReceiveFromSend(t *testing.T) {
	f := newFixture(t)
	genesisAccount := types.AccountFromBytes(f.genesis.Public)

	// A change block is stored, then referenced as a receive source.
	change := types.NewChangeBlock(f.open.Hash(), genesisAccount, f.genesis, 0)
	if result := f.process(t, change); result != Progress {
		t.Fatalf("expected progress, got %s", result)
	}

	receive := types.NewReceiveBlock(change.Hash(), change.Hash(), f.genesis, 0)
	if result := f.process(t, receive); result != NotReceiveFromSend {
		t.Fatalf("expected not_receive_from_send, got %s", result)
	}
}

func TestSuccessorAndAccount(t *testing.T) {
	f := newFixture(t)
	genesisAccount := types.AccountFromBytes(f.genesis.Public)

	send := types.NewSendBlock(f.open.Hash(), genesisAccount, types.NewAmount(5), f.genesis, 0)
	if result := f.process(t, send); result != Progress {
		t.Fatalf("expected progress, got %s", result)
	}

	txn := f.store.Begin(false)
	defer txn.Commit()

	successor, ok := f.ledger.Successor(txn, f.open.Hash())
	if !ok || successor != send.Hash() {
		t.Fatal("successor does not resolve the next block")
	}

	openSuccessor, ok := f.ledger.Successor(txn, genesisAccount.Hash())
	if !ok || openSuccessor != f.open.Hash() {
		t.Fatal("account root does not resolve the open block")
	}

	owner, err := f.ledger.Account(txn, send.Hash())
	if err != nil || owner != genesisAccount {
		t.Fatal("account does not resolve the block owner")
	}
}
