// Package node wires the consensus core together: the message dispatcher,
// the block intake pipeline, the election registry, the gap cache, and the
// periodic keepalive and announcement sweeps.
package node

import (
	gonet "net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rkanadev/raiblocks/src/alarm"
	"github.com/rkanadev/raiblocks/src/config"
	"github.com/rkanadev/raiblocks/src/crypto"
	"github.com/rkanadev/raiblocks/src/ledger"
	"github.com/rkanadev/raiblocks/src/metrics"
	"github.com/rkanadev/raiblocks/src/net"
	"github.com/rkanadev/raiblocks/src/peers"
	"github.com/rkanadev/raiblocks/src/store"
	"github.com/rkanadev/raiblocks/src/types"
	"github.com/rkanadev/raiblocks/src/wallet"
)

// arrivalCacheSize bounds the recently-processed hash cache that shortcuts
// duplicate publishes.
const arrivalCacheSize = 65536

// InitResult is the two-flag init outcome; the caller must not use the
// node when Error reports true.
type InitResult struct {
	BlockStoreInit bool
	WalletInit     bool
}

func (r InitResult) Error() bool {
	return r.BlockStoreInit || r.WalletInit
}

// Observers are the multicast handler lists registered at startup. They
// are invoked on background workers, never while a component mutex is
// held, and handlers must not re-enter the emitting component.
type Observers struct {
	mu          sync.Mutex
	blocks      []func(types.Block)
	wallets     []func(types.Account, bool)
	votes       []func(*types.Vote)
	endpoints   []func(types.Endpoint)
	disconnects []func()
}

// Node is the facade over the consensus and gossip core.
type Node struct {
	conf    *config.NodeConfig
	logger  *logrus.Entry
	dataDir string

	alarm    *alarm.Alarm
	store    store.Store
	ledger   *ledger.Ledger
	wallet   *wallet.Wallet
	peers    *peers.Container
	network  *net.Network
	gapCache *GapCache
	active   *ActiveTransactions

	bootstrap BootstrapInitiator
	observers Observers

	onlineMu   sync.Mutex
	onlineReps map[types.Account]time.Time

	arrival *lru.Cache

	bgMu     sync.RWMutex
	bgClosed bool
	bg       chan func()
	workers  errgroup.Group

	on       atomic.Bool
	stopOnce sync.Once
}

// NewNode builds and wires a node. A nil store opens the Badger database
// under dataDir; failures surface through the init result rather than an
// error so the caller can distinguish store from wallet trouble.
func NewNode(conf *config.NodeConfig, dataDir string, a *alarm.Alarm, st store.Store, logger *logrus.Logger) (*Node, InitResult) {
	init := InitResult{}

	if st == nil {
		badgerStore, err := store.NewBadgerStore(filepath.Join(dataDir, config.DefaultBadgerFile))
		if err != nil {
			logger.WithError(err).Error("Cannot open block store")
			init.BlockStoreInit = true
			return nil, init
		}
		st = badgerStore
	}

	n := &Node{
		conf:       conf,
		logger:     logger.WithField("prefix", "node"),
		dataDir:    dataDir,
		alarm:      a,
		store:      st,
		ledger:     ledger.New(st, logger.WithField("prefix", "ledger")),
		wallet:     wallet.New(logger.WithField("prefix", "wallet")),
		onlineReps: make(map[types.Account]time.Time),
		bg:         make(chan func(), 1024),
	}

	if dataDir != "" {
		kp, err := crypto.ReadKeyPair(filepath.Join(dataDir, config.DefaultKeyfile))
		if err != nil {
			logger.WithError(err).Error("Cannot initialize wallet key")
			init.WalletInit = true
			return nil, init
		}
		n.InsertRepresentativeKey(kp)
	}

	network, err := net.NewNetwork(conf, conf.PeeringPort, a, logger.WithField("prefix", "net"))
	if err != nil {
		logger.WithError(err).Error("Cannot bind peering socket")
		init.BlockStoreInit = true
		return nil, init
	}
	n.network = network

	n.peers = peers.NewContainer(network.Endpoint(), logger.WithField("prefix", "peers"))
	n.peers.PeerObserver = func(ep types.Endpoint) {
		n.Background(func() { n.observers.fireEndpoint(ep) })
	}
	n.peers.DisconnectObserver = func() {
		n.Background(func() { n.observers.fireDisconnect() })
	}
	network.UsePeers(n.peers)
	network.SetHandler(n)

	n.gapCache = newGapCache(n)
	n.active = newActiveTransactions(n)
	n.bootstrap = &bulkPullInitiator{node: n}
	n.arrival, _ = lru.New(arrivalCacheSize)

	if conf.Logging.NodeLifetimeTracing {
		n.logger.Debug("Node constructed")
	}

	return n, init
}

// Ledger exposes the node's ledger.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Peers exposes the peer container.
func (n *Node) Peers() *peers.Container { return n.peers }

// Network exposes the gossip network.
func (n *Node) Network() *net.Network { return n.network }

// Active exposes the election registry.
func (n *Node) Active() *ActiveTransactions { return n.active }

// GapCache exposes the orphan buffer.
func (n *Node) GapCache() *GapCache { return n.gapCache }

// Wallet exposes the representative key store.
func (n *Node) Wallet() *wallet.Wallet { return n.wallet }

// SetBootstrapInitiator replaces the default bulk-pull initiator.
func (n *Node) SetBootstrapInitiator(b BootstrapInitiator) { n.bootstrap = b }

// Start begins the io workers, the receive loop, and the periodic sweeps.
func (n *Node) Start() {
	n.on.Store(true)

	for i := 0; i < n.conf.IOThreads; i++ {
		n.workers.Go(n.backgroundWorker)
	}

	n.network.Start()
	n.OngoingKeepalive()
	n.alarm.Add(time.Now().Add(n.conf.AnnouncementInterval()), n.announceLoop)

	if n.conf.Logging.NodeLifetimeTracing {
		n.logger.Debug("Node started")
	}
}

// Stop shuts down cooperatively: the network flag flips first so in-flight
// callbacks exit without issuing new I/O, then the socket closes, the send
// queue drains discarded, and the workers join. The alarm is owned by the
// caller and survives the node.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.on.Store(false)
		n.network.Stop()

		n.bgMu.Lock()
		n.bgClosed = true
		close(n.bg)
		n.bgMu.Unlock()
		n.workers.Wait()

		n.store.Close()

		if n.conf.Logging.NodeLifetimeTracing {
			n.logger.Debug("Node stopped")
		}
	})
}

// Background posts an action to the io worker pool. Actions posted after
// shutdown are dropped; when the queue is full the action runs inline on
// the caller's goroutine.
func (n *Node) Background(action func()) {
	n.bgMu.RLock()
	defer n.bgMu.RUnlock()

	if n.bgClosed {
		return
	}
	select {
	case n.bg <- action:
	default:
		runProtected(n.logger, action)
	}
}

func (n *Node) backgroundWorker() error {
	for action := range n.bg {
		runProtected(n.logger, action)
	}
	return nil
}

// runProtected contains observer and callback failures: logged and
// swallowed, never propagated into the worker.
func runProtected(logger *logrus.Entry, action func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Background action panicked")
		}
	}()
	action()
}

//------------------------------------------------------------------------------
// Message dispatch (net.Handler)

// Keepalive merges the embedded endpoints and refreshes the sender.
func (n *Node) Keepalive(m *net.Keepalive, from types.Endpoint) {
	if !n.peers.Insert(from) {
		n.network.SendKeepalive(from)
	}
	n.network.MergePeers(m.Peers)
}

// Publish runs the block through the intake pipeline with the creation
// rebroadcast count.
func (n *Node) Publish(m *net.Publish, from types.Endpoint) {
	n.peers.InsertBlock(from, m.Block.Hash())
	n.ProcessReceiveRepublish(m.Block, n.conf.CreationRebroadcast)
}

// ConfirmReq processes the block and answers with this node's view of the
// winner, signed by every wallet-held representative.
func (n *Node) ConfirmReq(m *net.ConfirmReq, from types.Endpoint) {
	n.peers.Contacted(from)
	n.ProcessReceiveRepublish(m.Block, 0)
	n.processConfirmation(m.Block, from)
}

// ConfirmAck validates the vote, processes the referenced block, and
// routes the vote to the live election and the gap cache.
func (n *Node) ConfirmAck(m *net.ConfirmAck, from types.Endpoint) {
	if !m.Vote.Validate() {
		if n.conf.Logging.NetworkLogging {
			n.logger.WithField("from", from.String()).Debug("Dropping vote with bad signature")
		}
		return
	}
	n.peers.InsertBlock(from, m.Vote.Block.Hash())
	n.ProcessReceiveRepublish(m.Vote.Block, 0)
	n.Vote(m.Vote, from)
}

// BulkPull is served by the bootstrap listener; the core only records the
// sender as contacted.
func (n *Node) BulkPull(m *net.BulkPull, from types.Endpoint) {
	n.peers.Contacted(from)
}

//------------------------------------------------------------------------------
// Block intake

// ProcessReceiveRepublish validates work, runs the block and any gap
// descendants through the ledger, and republishes on progress with the
// given rebroadcast count.
func (n *Node) ProcessReceiveRepublish(block types.Block, rebroadcast uint) {
	if !n.on.Load() {
		return
	}

	hash := block.Hash()

	if !crypto.ValidateWork(block.Root(), block.Work(), n.conf.Profile.WorkThreshold) {
		n.network.IncrementInsufficientWork()
		if n.conf.Logging.InsufficientWorkLogging {
			n.logger.WithField("hash", hash.String()).Debug("Insufficient work")
		}
		return
	}

	if n.arrival.Contains(hash) {
		return
	}
	n.arrival.Add(hash, struct{}{})

	result := n.ProcessReceiveMany(block)
	if result == ledger.Progress && rebroadcast > 0 {
		n.network.RepublishBlock(block, rebroadcast)
	}
}

// ProcessReceiveMany processes the block and replays every gap-cache chain
// it unblocks, all within one write transaction. It returns the leading
// block's result.
func (n *Node) ProcessReceiveMany(block types.Block) ledger.ProcessResult {
	txn := n.store.Begin(true)
	defer txn.Commit()

	result := n.processReceiveOne(txn, block)

	queue := []types.BlockHash{block.Hash()}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		for _, waiting := range n.gapCache.Get(hash) {
			if n.processReceiveOne(txn, waiting) == ledger.Progress {
				queue = append(queue, waiting.Hash())
			}
		}
	}

	return result
}

// processReceiveOne classifies one block and routes the outcome: progress
// fires observers, gaps park the block, forks start an election.
func (n *Node) processReceiveOne(txn store.Transaction, block types.Block) ledger.ProcessResult {
	result := n.ledger.Process(txn, block)

	switch result {
	case ledger.Progress:
		if n.conf.Logging.LedgerLogging {
			n.logger.WithField("hash", block.Hash().String()).Debug("Block processed")
		}
		n.Background(func() { n.observers.fireBlock(block) })
	case ledger.GapPrevious:
		n.gapCache.Add(block, block.Previous())
	case ledger.GapSource:
		n.gapCache.Add(block, block.Source())
	case ledger.Fork:
		n.startElection(txn, block)
	case ledger.Old:
		if n.conf.Logging.LedgerDuplicateLogging {
			n.logger.WithField("hash", block.Hash().String()).Debug("Old block")
		}
	}

	return result
}

// startElection begins an election for the block's root, favoring the
// ledger's incumbent block when one exists.
func (n *Node) startElection(txn store.Transaction, block types.Block) {
	winner := block
	if successor, ok := n.ledger.Successor(txn, block.Root()); ok {
		if incumbent, err := n.store.BlockGet(txn, successor); err == nil {
			winner = incumbent
		}
	}
	n.active.Start(txn, winner, n.processConfirmed)
}

// processConfirmed is the confirmation action: the canonical block is
// republished and announced to the observers.
func (n *Node) processConfirmed(block types.Block) {
	n.logger.WithField("hash", block.Hash().String()).Info("Block confirmed")
	n.network.RepublishBlock(block, n.conf.CreationRebroadcast)
	n.observers.fireBlock(block)
}

// processConfirmation answers a confirm request with wallet votes for this
// node's view of the root's winner.
func (n *Node) processConfirmation(block types.Block, from types.Endpoint) {
	winner := block

	txn := n.store.Begin(false)
	if successor, ok := n.ledger.Successor(txn, block.Root()); ok {
		if incumbent, err := n.store.BlockGet(txn, successor); err == nil {
			winner = incumbent
		}
	}
	txn.Commit()

	for _, account := range n.wallet.Representatives() {
		if vote, ok := n.wallet.Vote(account, winner); ok {
			n.network.SendConfirmAck(vote, from)
		}
	}
}

// Vote fans a validated vote out to the election registry and the gap
// cache, and refreshes the representative's online status.
func (n *Node) Vote(v *types.Vote, from types.Endpoint) {
	n.observeRepresentative(v.Account)
	n.Background(func() { n.observers.fireVote(v) })

	n.active.Vote(v)

	txn := n.store.Begin(false)
	n.gapCache.Vote(txn, v, from)
	txn.Commit()
}

//------------------------------------------------------------------------------
// Online representatives

// observeRepresentative records that the representative voted within the
// recency window.
func (n *Node) observeRepresentative(account types.Account) {
	n.onlineMu.Lock()
	n.onlineReps[account] = time.Now()
	n.onlineMu.Unlock()
}

// OnlineSupply sums the weight of representatives observed voting within
// the recency window plus the preconfigured ones. With nothing online the
// configured inactive supply stands in.
func (n *Node) OnlineSupply(txn store.Transaction) *types.Amount {
	cutoff := time.Now().Add(-config.KeepaliveCutoff)

	accounts := make(map[types.Account]struct{})
	n.onlineMu.Lock()
	for account, seen := range n.onlineReps {
		if seen.Before(cutoff) {
			delete(n.onlineReps, account)
			continue
		}
		accounts[account] = struct{}{}
	}
	n.onlineMu.Unlock()

	for _, account := range n.conf.PreconfiguredRepresentatives {
		accounts[account] = struct{}{}
	}

	supply := types.NewAmount(0)
	for account := range accounts {
		supply.Add(supply, n.ledger.Weight(txn, account))
	}

	if supply.IsZero() {
		return n.conf.InactiveSupply.Clone()
	}
	return supply
}

// QuorumThreshold is a strict majority of online supply.
func (n *Node) QuorumThreshold(txn store.Transaction) *types.Amount {
	threshold := n.OnlineSupply(txn)
	threshold.Div(threshold, types.NewAmount(2))
	return threshold.Add(threshold, types.NewAmount(1))
}

//------------------------------------------------------------------------------
// Keepalive

// OngoingKeepalive purges stale peers, keepalives those not attempted within
// half the keepalive period, and reschedules itself one keepalive period
// later.
func (n *Node) OngoingKeepalive() {
	if !n.on.Load() {
		return
	}

	now := time.Now()
	n.peers.PurgeList(now.Add(-config.KeepaliveCutoff))

	for _, peer := range n.peers.NeedingKeepalive(now.Add(-config.KeepalivePeriod / 2)) {
		n.network.SendKeepalive(peer.Endpoint)
	}

	n.KeepalivePreconfigured(n.conf.PreconfiguredPeers)

	n.alarm.Add(now.Add(config.KeepalivePeriod), n.OngoingKeepalive)
}

// KeepalivePreconfigured resolves each hostname and keepalives it on the
// default peering port.
func (n *Node) KeepalivePreconfigured(hosts []string) {
	for _, host := range hosts {
		host := host
		n.Background(func() {
			n.KeepaliveHost(host, n.conf.Profile.DefaultPeeringPort)
		})
	}
}

// KeepaliveHost resolves one host and sends it a keepalive.
func (n *Node) KeepaliveHost(host string, port uint16) {
	addr, err := gonet.ResolveUDPAddr("udp", gonet.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		if n.conf.Logging.NetworkLogging {
			n.logger.WithError(err).WithField("host", host).Debug("Cannot resolve peer")
		}
		return
	}
	n.network.SendKeepalive(types.EndpointFromUDPAddr(addr))
}

func (n *Node) announceLoop() {
	if !n.on.Load() {
		return
	}
	n.active.AnnounceVotes()
	n.alarm.Add(time.Now().Add(n.conf.AnnouncementInterval()), n.announceLoop)
}

//------------------------------------------------------------------------------
// Wallet and observers

// InsertRepresentativeKey adds a local representative key and notifies the
// wallet observers.
func (n *Node) InsertRepresentativeKey(kp crypto.KeyPair) types.Account {
	account := n.wallet.Insert(kp)
	n.Background(func() { n.observers.fireWallet(account, true) })
	return account
}

// AddBlockObserver registers a handler for processed and confirmed blocks.
func (n *Node) AddBlockObserver(f func(types.Block)) {
	n.observers.mu.Lock()
	n.observers.blocks = append(n.observers.blocks, f)
	n.observers.mu.Unlock()
}

// AddWalletObserver registers a handler for wallet key changes.
func (n *Node) AddWalletObserver(f func(types.Account, bool)) {
	n.observers.mu.Lock()
	n.observers.wallets = append(n.observers.wallets, f)
	n.observers.mu.Unlock()
}

// AddVoteObserver registers a handler for inbound votes.
func (n *Node) AddVoteObserver(f func(*types.Vote)) {
	n.observers.mu.Lock()
	n.observers.votes = append(n.observers.votes, f)
	n.observers.mu.Unlock()
}

// AddEndpointObserver registers a handler for newly-observed peers.
func (n *Node) AddEndpointObserver(f func(types.Endpoint)) {
	n.observers.mu.Lock()
	n.observers.endpoints = append(n.observers.endpoints, f)
	n.observers.mu.Unlock()
}

// AddDisconnectObserver registers a handler for the container emptying.
func (n *Node) AddDisconnectObserver(f func()) {
	n.observers.mu.Lock()
	n.observers.disconnects = append(n.observers.disconnects, f)
	n.observers.mu.Unlock()
}

func (o *Observers) fireBlock(block types.Block) {
	o.mu.Lock()
	handlers := append([]func(types.Block){}, o.blocks...)
	o.mu.Unlock()
	for _, f := range handlers {
		f(block)
	}
}

func (o *Observers) fireWallet(account types.Account, added bool) {
	o.mu.Lock()
	handlers := append([]func(types.Account, bool){}, o.wallets...)
	o.mu.Unlock()
	for _, f := range handlers {
		f(account, added)
	}
}

func (o *Observers) fireVote(v *types.Vote) {
	o.mu.Lock()
	handlers := append([]func(*types.Vote){}, o.votes...)
	o.mu.Unlock()
	for _, f := range handlers {
		f(v)
	}
}

func (o *Observers) fireEndpoint(ep types.Endpoint) {
	o.mu.Lock()
	handlers := append([]func(types.Endpoint){}, o.endpoints...)
	o.mu.Unlock()
	for _, f := range handlers {
		f(ep)
	}
}

func (o *Observers) fireDisconnect() {
	o.mu.Lock()
	handlers := append([]func(){}, o.disconnects...)
	o.mu.Unlock()
	for _, f := range handlers {
		f()
	}
}

//------------------------------------------------------------------------------
// Stats and metrics

// GetStats returns a stats snapshot for the HTTP service.
func (n *Node) GetStats() map[string]string {
	return map[string]string{
		"num_peers":               strconv.Itoa(n.peers.Size()),
		"active_elections":        strconv.Itoa(n.active.Size()),
		"gap_cache_size":          strconv.Itoa(n.gapCache.Size()),
		"wallet_representatives":  strconv.Itoa(n.wallet.Size()),
		"keepalive_count":         strconv.FormatUint(n.network.KeepaliveCount(), 10),
		"publish_count":           strconv.FormatUint(n.network.PublishCount(), 10),
		"confirm_req_count":       strconv.FormatUint(n.network.ConfirmReqCount(), 10),
		"confirm_ack_count":       strconv.FormatUint(n.network.ConfirmAckCount(), 10),
		"bad_sender_count":        strconv.FormatUint(n.network.BadSenderCount(), 10),
		"insufficient_work_count": strconv.FormatUint(n.network.InsufficientWorkCount(), 10),
		"error_count":             strconv.FormatUint(n.network.ErrorCount(), 10),
	}
}

// RegisterMetrics exports the network counters and core sizes on the
// registry served at /metrics.
func (n *Node) RegisterMetrics(r *metrics.Registry) {
	r.Counter("keepalive_total", "Keepalive messages received", n.network.KeepaliveCount)
	r.Counter("publish_total", "Publish messages received", n.network.PublishCount)
	r.Counter("confirm_req_total", "Confirm requests received", n.network.ConfirmReqCount)
	r.Counter("confirm_ack_total", "Confirm acks received", n.network.ConfirmAckCount)
	r.Counter("bad_sender_total", "Malformed datagrams dropped", n.network.BadSenderCount)
	r.Counter("insufficient_work_total", "Blocks dropped for insufficient work", n.network.InsufficientWorkCount)
	r.Counter("network_error_total", "UDP send and receive errors", n.network.ErrorCount)
	r.Gauge("peers", "Known peers", func() float64 { return float64(n.peers.Size()) })
	r.Gauge("active_elections", "Live elections", func() float64 { return float64(n.active.Size()) })
	r.Gauge("gap_cache_size", "Buffered orphan blocks", func() float64 { return float64(n.gapCache.Size()) })
}
