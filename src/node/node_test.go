package node

import (
	gonet "net"
	"testing"
	"time"

	"github.com/rkanadev/raiblocks/src/crypto"
	"github.com/rkanadev/raiblocks/src/ledger"
	"github.com/rkanadev/raiblocks/src/net"
	"github.com/rkanadev/raiblocks/src/types"
)

// rawPeer is a bare UDP socket playing the role of a remote node.
type rawPeer struct {
	conn *gonet.UDPConn
	ep   types.Endpoint
}

func newRawPeer(t *testing.T) *rawPeer {
	conn, err := gonet.ListenUDP("udp", &gonet.UDPAddr{IP: gonet.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &rawPeer{
		conn: conn,
		ep:   types.EndpointFromUDPAddr(conn.LocalAddr().(*gonet.UDPAddr)),
	}
}

func (p *rawPeer) send(t *testing.T, n *Node, data []byte) {
	if _, err := p.conn.WriteToUDP(data, n.network.Endpoint().UDPAddr()); err != nil {
		t.Fatal(err)
	}
}

func (p *rawPeer) read(timeout time.Duration) []byte {
	buffer := make([]byte, 1024)
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	size, _, err := p.conn.ReadFromUDP(buffer)
	if err != nil {
		return nil
	}
	return buffer[:size]
}

// withWork attaches valid work for the block's root. Blocks arriving over
// the wire must pass work validation.
func withWork(n *Node, block types.Block) types.Block {
	block.SetWork(crypto.GenerateWork(block.Root(), n.conf.Profile.WorkThreshold))
	return block
}

// badWork finds a nonce that fails validation, so the drop path is
// deterministic.
func badWork(n *Node, root types.BlockHash) uint64 {
	for work := uint64(0); ; work++ {
		if !crypto.ValidateWork(root, work, n.conf.Profile.WorkThreshold) {
			return work
		}
	}
}

func TestNodeKeepaliveHandshake(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	a.peers.Insert(b.network.Endpoint())
	a.network.SendKeepalive(b.network.Endpoint())

	deadline := time.Now().Add(2 * time.Second)
	for a.peers.Size() < 1 || b.peers.Size() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("handshake incomplete: a=%d b=%d", a.peers.Size(), b.peers.Size())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNodePublishIntake(t *testing.T) {
	n := newTestNode(t)
	f := seedGenesis(t, n.store)
	peer := newRawPeer(t)

	account := types.AccountFromBytes(f.key.Public)
	send := types.NewSendBlock(f.open.Hash(), account, types.NewAmount(900), f.key, 0)
	withWork(n, send)

	peer.send(t, n, net.NewPublish(n.conf.Profile, send).Serialize())

	deadline := time.Now().Add(2 * time.Second)
	for {
		txn := n.store.Begin(false)
		stored := n.store.BlockExists(txn, send.Hash())
		txn.Commit()
		if stored {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("published block never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n.network.PublishCount() != 1 {
		t.Fatalf("expected publish count 1, got %d", n.network.PublishCount())
	}
	if !n.peers.KnowsAbout(peer.ep, send.Hash()) {
		t.Fatal("source peer should be recorded as knowing the block")
	}
}

func TestNodeInsufficientWorkDropped(t *testing.T) {
	n := newTestNode(t)
	f := seedGenesis(t, n.store)
	peer := newRawPeer(t)

	account := types.AccountFromBytes(f.key.Public)
	send := types.NewSendBlock(f.open.Hash(), account, types.NewAmount(900), f.key, 0)
	send.SetWork(badWork(n, send.Root()))

	peer.send(t, n, net.NewPublish(n.conf.Profile, send).Serialize())

	deadline := time.Now().Add(2 * time.Second)
	for n.network.InsufficientWorkCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("insufficient work was not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	txn := n.store.Begin(false)
	defer txn.Commit()
	if n.store.BlockExists(txn, send.Hash()) {
		t.Fatal("block with insufficient work reached the store")
	}
}

// A confirm request is answered with wallet votes for the node's view of
// the winner.
func TestNodeConfirmReqAnswered(t *testing.T) {
	n := newTestNode(t)
	f := seedGenesis(t, n.store)
	peer := newRawPeer(t)

	rep := testKeyPair(t)
	n.InsertRepresentativeKey(rep)

	account := types.AccountFromBytes(f.key.Public)
	send := types.NewSendBlock(f.open.Hash(), account, types.NewAmount(900), f.key, 0)
	withWork(n, send)

	if result := n.ProcessReceiveMany(send); result != ledger.Progress {
		t.Fatalf("seed block rejected: %s", result)
	}

	peer.send(t, n, net.NewConfirmReq(n.conf.Profile, send).Serialize())

	data := peer.read(2 * time.Second)
	if data == nil {
		t.Fatal("no confirm_ack received")
	}
	decoded, err := net.ParseMessage(data, n.conf.Profile)
	if err != nil {
		t.Fatal(err)
	}
	ack, ok := decoded.(*net.ConfirmAck)
	if !ok {
		t.Fatalf("expected confirm_ack, got %T", decoded)
	}
	if !ack.Vote.Validate() {
		t.Fatal("vote signature invalid")
	}
	if ack.Vote.Account != types.AccountFromBytes(rep.Public) {
		t.Fatal("vote not from the wallet representative")
	}
	if ack.Vote.Block.Hash() != send.Hash() {
		t.Fatalf("vote for %s, want %s", ack.Vote.Block.Hash(), send.Hash())
	}
}

// An inbound confirm_ack routes its vote into a live election.
func TestNodeConfirmAckRouted(t *testing.T) {
	n := newTestNode(t)
	peer := newRawPeer(t)

	rep := newTestRep(t, n, 100)

	block, _ := forkBlocks(t)
	withWork(n, block)
	confirmed := startElection(t, n, block)

	vote := types.NewVote(rep, 1, block)
	peer.send(t, n, net.NewConfirmAck(n.conf.Profile, vote).Serialize())

	waitConfirmed(t, confirmed, block.Hash())
}

func TestNodeStats(t *testing.T) {
	n := newTestNode(t)

	stats := n.GetStats()
	for _, key := range []string{
		"num_peers",
		"active_elections",
		"gap_cache_size",
		"keepalive_count",
		"bad_sender_count",
	} {
		if _, ok := stats[key]; !ok {
			t.Fatalf("stats missing %s", key)
		}
	}
}
