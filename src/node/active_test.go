package node

import (
	"testing"
)

// Settling-time confirmation: with no votes at all, four consecutive sweep
// passes confirm the only candidate.
func TestActiveSettlingTimeConfirmation(t *testing.T) {
	n := newTestNode(t)

	block, _ := forkBlocks(t)
	confirmed := startElection(t, n, block)

	for i := 0; i < contiguousAnnouncements-1; i++ {
		n.active.AnnounceVotes()
		if !n.active.Active(block) {
			t.Fatalf("election erased after %d sweeps", i+1)
		}
	}
	expectNoConfirmation(t, confirmed)

	n.active.AnnounceVotes()

	waitConfirmed(t, confirmed, block.Hash())
	if n.active.Active(block) {
		t.Fatal("election not erased after the cutoff")
	}
}

// At most one election per root exists at any time.
func TestActiveOneElectionPerRoot(t *testing.T) {
	n := newTestNode(t)

	a, b := forkBlocks(t)

	txn := n.store.Begin(false)
	if !n.active.Start(txn, a, nil) {
		t.Fatal("first start refused")
	}
	if n.active.Start(txn, b, nil) {
		t.Fatal("second start for the same root was not ignored")
	}
	txn.Commit()

	if n.active.Size() != 1 {
		t.Fatalf("expected 1 election, got %d", n.active.Size())
	}
	if !n.active.Active(a) || !n.active.Active(b) {
		t.Fatal("membership test should match both fork candidates by root")
	}
}

// The sweep bounds per-interval work; elections beyond the bound are
// untouched until a later pass.
func TestActiveSweepBounded(t *testing.T) {
	n := newTestNode(t)

	count := announcementsPerInterval + 5
	for i := 0; i < count; i++ {
		block, _ := forkBlocks(t)
		startElection(t, n, block)
	}

	n.active.AnnounceVotes()

	touched := 0
	n.active.mu.Lock()
	for _, info := range n.active.roots {
		if info.announcements > 0 {
			touched++
		}
	}
	n.active.mu.Unlock()

	if touched != announcementsPerInterval {
		t.Fatalf("expected %d elections announced, got %d", announcementsPerInterval, touched)
	}
}
