package node

import (
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/store"
	"github.com/rkanadev/raiblocks/src/types"
)

// gapCacheMax bounds the orphan buffer; the oldest arrival is evicted when
// it overflows.
const gapCacheMax = 16384

type gapInformation struct {
	arrival      time.Time
	seq          uint64
	required     types.BlockHash
	hash         types.BlockHash
	votes        *types.Votes
	block        types.Block
	bootstrapped bool
}

type arrivalEntry struct {
	at   time.Time
	seq  uint64
	hash types.BlockHash
}

func arrivalLess(a, b arrivalEntry) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.seq < b.seq
}

// GapCache buffers blocks whose predecessor is missing, indexed by the
// required hash, by arrival time, and uniquely by block hash. Accumulated
// vote weight on a gapped block triggers a bootstrap against the vote
// source.
type GapCache struct {
	node *Node

	mu         sync.Mutex
	byRequired map[types.BlockHash]map[types.BlockHash]*gapInformation
	byHash     map[types.BlockHash]*gapInformation
	byArrival  *btree.BTreeG[arrivalEntry]
	seq        uint64
}

func newGapCache(n *Node) *GapCache {
	return &GapCache{
		node:       n,
		byRequired: make(map[types.BlockHash]map[types.BlockHash]*gapInformation),
		byHash:     make(map[types.BlockHash]*gapInformation),
		byArrival:  btree.NewG(8, arrivalLess),
	}
}

// Add inserts the block, waiting on required. Re-adding a known block
// refreshes its arrival. Overflow evicts the entry with the oldest
// arrival.
func (g *GapCache) Add(block types.Block, required types.BlockHash) {
	hash := block.Hash()
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if info, ok := g.byHash[hash]; ok {
		g.byArrival.Delete(arrivalEntry{at: info.arrival, seq: info.seq, hash: hash})
		info.arrival = now
		info.seq = g.seq
		g.byArrival.ReplaceOrInsert(arrivalEntry{at: now, seq: info.seq, hash: hash})
		g.seq++
		return
	}

	info := &gapInformation{
		arrival:  now,
		seq:      g.seq,
		required: required,
		hash:     hash,
		votes:    types.NewVotes(block.Root()),
		block:    block,
	}
	g.seq++

	if g.byRequired[required] == nil {
		g.byRequired[required] = make(map[types.BlockHash]*gapInformation)
	}
	g.byRequired[required][hash] = info
	g.byHash[hash] = info
	g.byArrival.ReplaceOrInsert(arrivalEntry{at: info.arrival, seq: info.seq, hash: hash})

	if len(g.byHash) > gapCacheMax {
		if oldest, ok := g.byArrival.Min(); ok {
			g.remove(g.byHash[oldest.hash])
		}
	}
}

// remove deletes an entry from all three indexes. Caller holds g.mu.
func (g *GapCache) remove(info *gapInformation) {
	if info == nil {
		return
	}
	g.byArrival.Delete(arrivalEntry{at: info.arrival, seq: info.seq, hash: info.hash})
	delete(g.byHash, info.hash)
	if waiting := g.byRequired[info.required]; waiting != nil {
		delete(waiting, info.hash)
		if len(waiting) == 0 {
			delete(g.byRequired, info.required)
		}
	}
}

// Get removes and returns all blocks waiting on required, oldest first;
// the caller replays them through the ledger.
func (g *GapCache) Get(required types.BlockHash) []types.Block {
	g.mu.Lock()
	defer g.mu.Unlock()

	waiting := g.byRequired[required]
	if len(waiting) == 0 {
		return nil
	}

	infos := make([]*gapInformation, 0, len(waiting))
	for _, info := range waiting {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return arrivalLess(
			arrivalEntry{at: infos[i].arrival, seq: infos[i].seq},
			arrivalEntry{at: infos[j].arrival, seq: infos[j].seq},
		)
	})
	for _, info := range infos {
		g.remove(info)
	}

	blocks := make([]types.Block, 0, len(infos))
	for _, info := range infos {
		blocks = append(blocks, info.block)
	}
	return blocks
}

// Vote merges the vote into the tally of the gapped block it references.
// When the accumulated representative weight meets the bootstrap
// threshold, a bootstrap is requested from the vote's source peer; the
// entry stays until its predecessor arrives or it is evicted.
func (g *GapCache) Vote(txn store.Transaction, v *types.Vote, from types.Endpoint) {
	hash := v.Block.Hash()

	g.mu.Lock()
	info, ok := g.byHash[hash]
	if !ok {
		g.mu.Unlock()
		return
	}
	info.votes.Insert(v)

	weight := types.NewAmount(0)
	for _, vote := range info.votes.Rep {
		weight.Add(weight, g.node.ledger.Weight(txn, vote.Account))
	}

	trigger := !info.bootstrapped && weight.Cmp(g.BootstrapThreshold(txn)) >= 0
	if trigger {
		info.bootstrapped = true
	}
	required := info.required
	g.mu.Unlock()

	if trigger {
		g.node.logger.WithFields(logrus.Fields{
			"hash":     hash.String(),
			"required": required.String(),
			"peer":     from.String(),
		}).Info("Gap vote weight crossed bootstrap threshold")
		g.node.bootstrap.Initiate(from, required)
	}
}

// BootstrapThreshold is the vote weight that justifies a bootstrap: online
// supply over the configured fraction numerator.
func (g *GapCache) BootstrapThreshold(txn store.Transaction) *types.Amount {
	threshold := g.node.OnlineSupply(txn)
	return threshold.Div(threshold, types.NewAmount(uint64(g.node.conf.BootstrapFractionNumerator)))
}

// Size returns the number of buffered orphans.
func (g *GapCache) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.byHash)
}
