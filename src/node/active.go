package node

import (
	"sort"
	"sync"

	"github.com/rkanadev/raiblocks/src/store"
	"github.com/rkanadev/raiblocks/src/types"
)

const (
	// announcementsPerInterval bounds how many conflicts are announced per
	// sweep, lowest root first, so no fork can starve another.
	announcementsPerInterval = 32

	// contiguousAnnouncements is the number of successive sweep passes
	// after which an uncontested winner is confirmed by settling time.
	contiguousAnnouncements = 4
)

type conflictInfo struct {
	root          types.BlockHash
	election      *Election
	announcements int
}

// ActiveTransactions is the registry of live elections, keyed uniquely by
// conflict root: at most one election per root at any moment.
type ActiveTransactions struct {
	node *Node

	mu    sync.Mutex
	roots map[types.BlockHash]*conflictInfo
}

func newActiveTransactions(n *Node) *ActiveTransactions {
	return &ActiveTransactions{
		node:  n,
		roots: make(map[types.BlockHash]*conflictInfo),
	}
}

// Start begins an election for the block's root, seeding it with local
// representative votes. If an election already exists for the root the
// call is ignored. The confirmation action may fire with a different block
// than the one the election started with.
func (a *ActiveTransactions) Start(txn store.Transaction, block types.Block, action func(types.Block)) bool {
	root := block.Root()

	a.mu.Lock()
	if _, exists := a.roots[root]; exists {
		a.mu.Unlock()
		return false
	}
	election := newElection(a.node, block, action)
	a.roots[root] = &conflictInfo{root: root, election: election}
	a.mu.Unlock()

	election.ComputeRepVotes(txn)

	return true
}

// Vote routes a vote to the election for its block's root, if one is live.
func (a *ActiveTransactions) Vote(v *types.Vote) {
	root := v.Block.Root()

	a.mu.Lock()
	info := a.roots[root]
	a.mu.Unlock()

	if info != nil {
		info.election.Vote(v)
	}
}

// Active reports whether an election exists for the block's root.
func (a *ActiveTransactions) Active(block types.Block) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, exists := a.roots[block.Root()]
	return exists
}

// Size returns the number of live elections.
func (a *ActiveTransactions) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.roots)
}

// AnnounceVotes is the periodic sweep: in root order, up to
// announcementsPerInterval elections are either erased (confirmed, or past
// the settling cutoff) or re-announced. Every live election makes progress
// within count/32 intervals.
func (a *ActiveTransactions) AnnounceVotes() {
	var cutoffs []*Election
	var announces []*Election

	a.mu.Lock()
	order := make([]types.BlockHash, 0, len(a.roots))
	for root := range a.roots {
		order = append(order, root)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].Compare(order[j]) < 0
	})
	if len(order) > announcementsPerInterval {
		order = order[:announcementsPerInterval]
	}

	for _, root := range order {
		info := a.roots[root]
		if info.election.Confirmed() {
			delete(a.roots, root)
			continue
		}
		info.announcements++
		if info.announcements >= contiguousAnnouncements {
			cutoffs = append(cutoffs, info.election)
			delete(a.roots, root)
		} else {
			announces = append(announces, info.election)
		}
	}
	a.mu.Unlock()

	for _, election := range cutoffs {
		election.ConfirmCutoff()
	}

	if len(announces) > 0 {
		txn := a.node.ledger.Store().Begin(false)
		for _, election := range announces {
			election.ComputeRepVotes(txn)
			election.BroadcastWinner()
		}
		txn.Commit()
	}
}
