package peers

import (
	"fmt"
	"testing"
	"time"

	"github.com/rkanadev/raiblocks/src/common"
	"github.com/rkanadev/raiblocks/src/types"
)

func testEndpoint(t *testing.T, i int) types.Endpoint {
	ep, err := types.ParseEndpoint(fmt.Sprintf("10.0.0.%d:7075", i))
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

func testContainer(t *testing.T) *Container {
	self, err := types.ParseEndpoint("127.0.0.1:7075")
	if err != nil {
		t.Fatal(err)
	}
	return NewContainer(self, common.NewTestEntry(t, "peers"))
}

func TestInsertReportsKnown(t *testing.T) {
	c := testContainer(t)
	ep := testEndpoint(t, 1)

	if c.Insert(ep) {
		t.Fatal("first insert reported endpoint as known")
	}
	if !c.Insert(ep) {
		t.Fatal("second insert did not report endpoint as known")
	}
	if c.Size() != 1 {
		t.Fatalf("expected 1 peer, got %d", c.Size())
	}
}

func TestPeerObserverFiresOnceOnNewEndpoint(t *testing.T) {
	c := testContainer(t)

	observed := []types.Endpoint{}
	c.PeerObserver = func(ep types.Endpoint) {
		observed = append(observed, ep)
	}

	ep := testEndpoint(t, 1)
	c.Contacted(ep)
	c.Contacted(ep)

	if len(observed) != 1 || observed[0] != ep {
		t.Fatalf("expected one observation of %s, got %v", ep, observed)
	}
}

func TestNotAPeer(t *testing.T) {
	c := testContainer(t)

	reject := []string{
		"127.0.0.1:7075",  // self
		"0.0.0.0:7075",    // unspecified
		"224.0.0.1:7075",  // multicast
		"240.0.0.1:7075",  // reserved
		"10.0.0.1:0",      // port zero
	}
	for _, s := range reject {
		ep, err := types.ParseEndpoint(s)
		if err != nil {
			t.Fatal(err)
		}
		if !c.NotAPeer(ep) {
			t.Fatalf("%s accepted as a peer", s)
		}
		c.Contacted(ep)
	}

	if c.Size() != 0 {
		t.Fatalf("rejected endpoints entered the container: %d", c.Size())
	}
}

func TestKnowsAbout(t *testing.T) {
	c := testContainer(t)
	ep := testEndpoint(t, 1)

	hash, err := types.ParseHash("aa00000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	other, err := types.ParseHash("bb00000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}

	c.InsertBlock(ep, hash)

	if !c.KnowsAbout(ep, hash) {
		t.Fatal("peer should know about its announced block")
	}
	if c.KnowsAbout(ep, other) {
		t.Fatal("peer should not know about an unannounced block")
	}
	if c.KnowsAbout(testEndpoint(t, 2), hash) {
		t.Fatal("unknown peer should not know about anything")
	}
}

func TestRandomFillPadsWithZeroEndpoints(t *testing.T) {
	c := testContainer(t)
	c.Insert(testEndpoint(t, 1))
	c.Insert(testEndpoint(t, 2))

	var out [8]types.Endpoint
	c.RandomFill(&out)

	filled := 0
	seen := map[types.Endpoint]bool{}
	for _, ep := range out {
		if ep.IsZero() {
			continue
		}
		if seen[ep] {
			t.Fatalf("duplicate endpoint in random fill: %s", ep)
		}
		seen[ep] = true
		filled++
	}
	if filled != 2 {
		t.Fatalf("expected 2 filled slots, got %d", filled)
	}
}

func TestPurgeListRemovesStalePeers(t *testing.T) {
	c := testContainer(t)

	disconnected := false
	c.DisconnectObserver = func() { disconnected = true }

	ep := testEndpoint(t, 1)
	c.Insert(ep)

	// Nothing is stale yet.
	if purged := c.PurgeList(time.Now().Add(-time.Hour)); len(purged) != 0 {
		t.Fatalf("purged fresh peer: %v", purged)
	}
	if disconnected {
		t.Fatal("disconnect observer fired with peers remaining")
	}

	purged := c.PurgeList(time.Now().Add(time.Second))
	if len(purged) != 1 || purged[0].Endpoint != ep {
		t.Fatalf("expected %s purged, got %v", ep, purged)
	}
	if !c.Empty() {
		t.Fatal("container not empty after purge")
	}
	if !disconnected {
		t.Fatal("disconnect observer did not fire when container emptied")
	}
}

func TestBootstrapCandidatesExcludeRecentFailures(t *testing.T) {
	c := testContainer(t)

	good := testEndpoint(t, 1)
	bad := testEndpoint(t, 2)
	c.Insert(good)
	c.Insert(bad)
	c.BootstrapFailed(bad)

	candidates := c.BootstrapCandidates()
	if len(candidates) != 1 || candidates[0].Endpoint != good {
		t.Fatalf("expected only %s as candidate, got %v", good, candidates)
	}
}

func TestNeedingKeepaliveOrdersByAttempt(t *testing.T) {
	c := testContainer(t)

	first := testEndpoint(t, 1)
	second := testEndpoint(t, 2)
	c.Insert(first)
	c.Insert(second)
	c.Attempted(second)

	needing := c.NeedingKeepalive(time.Now().Add(time.Second))
	if len(needing) != 2 {
		t.Fatalf("expected both peers, got %d", len(needing))
	}
	if needing[0].Endpoint != first {
		t.Fatal("never-attempted peer should sort first")
	}

	if len(c.NeedingKeepalive(time.Now().Add(-time.Hour))) != 0 {
		t.Fatal("no peer should need a keepalive with an ancient cutoff")
	}
}
