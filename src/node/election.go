package node

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/store"
	"github.com/rkanadev/raiblocks/src/types"
)

// Election drives one conflict root from published to confirmed. It owns
// the vote tally and the currently-favored block, and fires its
// confirmation action exactly once, whether confirmation comes from quorum
// or from settling time.
type Election struct {
	node *Node

	mu         sync.Mutex
	votes      *types.Votes
	lastWinner types.Block
	lastVote   time.Time

	confirmed          atomic.Bool
	confirmationAction func(types.Block)
}

func newElection(n *Node, block types.Block, action func(types.Block)) *Election {
	return &Election{
		node:               n,
		votes:              types.NewVotes(block.Root()),
		lastWinner:         block,
		lastVote:           time.Now(),
		confirmationAction: action,
	}
}

// Vote records a representative's vote and recomputes the winner. Called
// without a transaction held; a read transaction is opened for the weight
// lookups.
func (e *Election) Vote(v *types.Vote) {
	txn := e.node.ledger.Store().Begin(false)
	defer txn.Commit()

	e.applyVote(txn, v)
}

// applyVote is the locked core of Vote; the broadcast and the confirmation
// action happen after the mutex is released.
func (e *Election) applyVote(txn store.Transaction, v *types.Vote) {
	e.mu.Lock()
	e.votes.Insert(v)
	e.lastVote = time.Now()
	changed := e.recalculateWinner(txn)
	quorum := e.haveQuorum(txn)
	e.mu.Unlock()

	if e.node.conf.Logging.VoteLogging {
		e.node.logger.WithFields(logrus.Fields{
			"representative": v.Account.String(),
			"sequence":       v.Sequence,
			"block":          v.Block.Hash().String(),
		}).Debug("Vote processed")
	}

	if changed {
		e.BroadcastWinner()
	}
	if quorum {
		e.confirmOnce()
	}
}

// recalculateWinner retallies by representative weight and picks the block
// with the maximum weight, tie-breaking toward the lexicographically
// smallest hash. Returns true iff the winner changed. Caller holds e.mu.
func (e *Election) recalculateWinner(txn store.Transaction) bool {
	if e.votes.Size() == 0 {
		return false
	}

	blocks := make(map[types.BlockHash]types.Block)
	weights := make(map[types.BlockHash]*types.Amount)
	for _, vote := range e.votes.Rep {
		hash := vote.Block.Hash()
		if _, ok := weights[hash]; !ok {
			blocks[hash] = vote.Block
			weights[hash] = types.NewAmount(0)
		}
		weights[hash].Add(weights[hash], e.node.ledger.Weight(txn, vote.Account))
	}

	var winnerHash types.BlockHash
	var winnerWeight *types.Amount
	for hash, weight := range weights {
		switch {
		case winnerWeight == nil,
			weight.Cmp(winnerWeight) > 0,
			weight.Cmp(winnerWeight) == 0 && hash.Compare(winnerHash) < 0:
			winnerHash = hash
			winnerWeight = weight
		}
	}

	if winnerHash != e.lastWinner.Hash() {
		e.lastWinner = blocks[winnerHash]
		return true
	}
	return false
}

// haveQuorum reports whether the weight supporting lastWinner reaches the
// quorum threshold. Caller holds e.mu.
func (e *Election) haveQuorum(txn store.Transaction) bool {
	winnerHash := e.lastWinner.Hash()
	supporting := types.NewAmount(0)
	for _, vote := range e.votes.Rep {
		if vote.Block.Hash() == winnerHash {
			supporting.Add(supporting, e.node.ledger.Weight(txn, vote.Account))
		}
	}
	return supporting.Cmp(e.node.QuorumThreshold(txn)) >= 0
}

// LastWinner returns the block currently favored.
func (e *Election) LastWinner() types.Block {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastWinner
}

// BroadcastWinner publishes the current winner to all peers with the
// standard rebroadcast count.
func (e *Election) BroadcastWinner() {
	e.node.network.RepublishBlock(e.LastWinner(), e.node.conf.CreationRebroadcast)
}

// ComputeRepVotes constructs a self-vote for the winner from every
// wallet-held representative and feeds it back through the tally, then
// announces it to the network.
func (e *Election) ComputeRepVotes(txn store.Transaction) {
	winner := e.LastWinner()
	for _, account := range e.node.wallet.Representatives() {
		vote, ok := e.node.wallet.Vote(account, winner)
		if !ok {
			continue
		}
		e.node.observeRepresentative(vote.Account)
		e.applyVote(txn, vote)
		e.node.network.BroadcastConfirmAck(vote)
	}
}

// ConfirmIfQuorum confirms immediately when the winner already holds
// quorum.
func (e *Election) ConfirmIfQuorum(txn store.Transaction) {
	e.mu.Lock()
	quorum := e.haveQuorum(txn)
	e.mu.Unlock()

	if quorum {
		e.confirmOnce()
	}
}

// ConfirmCutoff is the settling-time confirmation: after enough sweep
// passes without contest the winner is declared final. It runs on the
// sweep schedule regardless of quorum proximity; the one-shot confirmed
// flag arbitrates any race with a quorum confirmation.
func (e *Election) ConfirmCutoff() {
	e.confirmOnce()
}

// confirmOnce test-and-sets the confirmed flag; the first transition fires
// the confirmation action with the winner, exactly once.
func (e *Election) confirmOnce() {
	if !e.confirmed.CompareAndSwap(false, true) {
		return
	}

	winner := e.LastWinner()
	action := e.confirmationAction
	e.node.Background(func() {
		if action != nil {
			action(winner)
		}
	})
}

// Confirmed reports whether the election has reached its terminal state.
func (e *Election) Confirmed() bool {
	return e.confirmed.Load()
}
