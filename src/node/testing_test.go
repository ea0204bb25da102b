package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/alarm"
	"github.com/rkanadev/raiblocks/src/common"
	"github.com/rkanadev/raiblocks/src/config"
	"github.com/rkanadev/raiblocks/src/crypto"
	"github.com/rkanadev/raiblocks/src/store"
	"github.com/rkanadev/raiblocks/src/types"
)

func newTestNode(t *testing.T) *Node {
	logger := common.NewTestLogger(t, logrus.DebugLevel)

	conf := config.NewDefaultConfig()
	conf.PeeringPort = 0
	conf.RebroadcastDelay = 10 * time.Millisecond

	a := alarm.New(logger.WithField("prefix", "alarm"))

	n, init := NewNode(conf, "", a, store.NewInmemStore(), logger)
	if init.Error() {
		t.Fatalf("node init failed: %+v", init)
	}
	n.Start()

	t.Cleanup(func() {
		n.Stop()
		a.Stop()
	})

	return n
}

func testKeyPair(t *testing.T) crypto.KeyPair {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

// newTestRep creates a representative with the given voting weight and
// counts it toward online supply.
func newTestRep(t *testing.T, n *Node, weight uint64) crypto.KeyPair {
	kp := testKeyPair(t)
	account := types.AccountFromBytes(kp.Public)

	txn := n.store.Begin(true)
	n.store.RepresentationPut(txn, account, types.NewAmount(weight))
	txn.Commit()

	n.conf.PreconfiguredRepresentatives = append(n.conf.PreconfiguredRepresentatives, account)

	return kp
}

type genesisFixture struct {
	key    crypto.KeyPair
	open   *types.OpenBlock
	supply *types.Amount
}

// seedGenesis installs a funded genesis account so test chains have a
// source of balance.
func seedGenesis(t *testing.T, st store.Store) *genesisFixture {
	key := testKeyPair(t)
	account := types.AccountFromBytes(key.Public)
	supply := types.NewAmount(1000000)

	var genesisSource types.BlockHash
	open := types.NewOpenBlock(genesisSource, account, key, 0)

	txn := st.Begin(true)
	st.BlockPut(txn, open.Hash(), open, store.BlockInfo{Account: account, Balance: supply.Clone()})
	st.SuccessorPut(txn, account.Hash(), open.Hash())
	st.AccountPut(txn, account, store.AccountInfo{
		Head:           open.Hash(),
		Representative: account,
		Balance:        supply.Clone(),
	})
	st.RepresentationPut(txn, account, supply.Clone())
	txn.Commit()

	return &genesisFixture{key: key, open: open, supply: supply}
}

func testEndpoint(t *testing.T) types.Endpoint {
	ep, err := types.ParseEndpoint("10.1.2.3:7075")
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

// forkBlocks builds two distinct signed blocks sharing one root. The root
// is derived from a fresh key, so successive calls never collide.
func forkBlocks(t *testing.T) (types.Block, types.Block) {
	kp := testKeyPair(t)
	previous := types.AccountFromBytes(kp.Public).Hash()

	a := types.NewSendBlock(previous, types.AccountFromBytes(kp.Public), types.NewAmount(1), kp, 0)
	b := types.NewSendBlock(previous, types.AccountFromBytes(kp.Public), types.NewAmount(2), kp, 0)
	return a, b
}

// startElection begins an election directly, returning a channel that
// receives the confirmed block.
func startElection(t *testing.T, n *Node, block types.Block) chan types.Block {
	confirmed := make(chan types.Block, 4)

	txn := n.store.Begin(false)
	started := n.active.Start(txn, block, func(b types.Block) { confirmed <- b })
	txn.Commit()

	if !started {
		t.Fatal("election did not start")
	}
	return confirmed
}

func waitConfirmed(t *testing.T, ch chan types.Block, want types.BlockHash) {
	select {
	case block := <-ch:
		if block.Hash() != want {
			t.Fatalf("confirmed %s, want %s", block.Hash(), want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation did not fire")
	}
}

func expectNoConfirmation(t *testing.T, ch chan types.Block) {
	select {
	case block := <-ch:
		t.Fatalf("unexpected confirmation of %s", block.Hash())
	case <-time.After(100 * time.Millisecond):
	}
}
