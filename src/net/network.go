package net

import (
	"errors"
	gonet "net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/alarm"
	"github.com/rkanadev/raiblocks/src/config"
	"github.com/rkanadev/raiblocks/src/peers"
	"github.com/rkanadev/raiblocks/src/types"
)

// ErrNetworkStopped is returned to send callbacks for entries discarded
// when the network shuts down.
var ErrNetworkStopped = errors.New("network stopped")

const receiveBufferSize = 512

type sendInfo struct {
	data     []byte
	endpoint types.Endpoint
	callback func(error, int)
}

// Network owns the UDP socket. Inbound datagrams are decoded and dispatched
// to the handler; all outbound datagrams flow through a FIFO send queue
// with at most one in-flight send, which keeps kernel delivery in enqueue
// order and serializes access to the socket.
type Network struct {
	logger  *logrus.Entry
	conf    *config.NodeConfig
	profile *config.Profile

	socket  *gonet.UDPConn
	peers   *peers.Container
	alarm   *alarm.Alarm
	handler Handler

	sendMu   sync.Mutex
	sends    []sendInfo
	inFlight bool
	sendWg   sync.WaitGroup

	on        atomic.Bool
	receiveWg sync.WaitGroup

	keepaliveCount        atomic.Uint64
	publishCount          atomic.Uint64
	confirmReqCount       atomic.Uint64
	confirmAckCount       atomic.Uint64
	badSenderCount        atomic.Uint64
	insufficientWorkCount atomic.Uint64
	errorCount            atomic.Uint64
}

// NewNetwork binds a UDP socket on the configured peering port. Port 0
// binds an ephemeral port, which tests rely on.
func NewNetwork(conf *config.NodeConfig, port uint16, a *alarm.Alarm, logger *logrus.Entry) (*Network, error) {
	socket, err := gonet.ListenUDP("udp", &gonet.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, err
	}

	return &Network{
		logger:  logger,
		conf:    conf,
		profile: conf.Profile,
		socket:  socket,
		alarm:   a,
	}, nil
}

// UsePeers attaches the peer container. Must be called before Start; the
// container is built after the socket because it needs the bound endpoint.
func (n *Network) UsePeers(c *peers.Container) {
	n.peers = c
}

// SetHandler attaches the message dispatcher. Must be called before Start.
func (n *Network) SetHandler(h Handler) {
	n.handler = h
}

// Endpoint returns the local endpoint the socket is bound to. An
// unspecified bind address is reported as loopback so the container's
// self-exclusion works.
func (n *Network) Endpoint() types.Endpoint {
	addr := n.socket.LocalAddr().(*gonet.UDPAddr)
	ep := types.EndpointFromUDPAddr(addr)
	if ep.IP.IsUnspecified() {
		ep.IP = netip.MustParseAddr("127.0.0.1")
	}
	return ep
}

// Start begins the receive loop.
func (n *Network) Start() {
	n.on.Store(true)
	n.receiveWg.Add(1)
	go n.receiveLoop()
}

// Stop closes the socket, discards pending sends, and joins the loops.
// In-flight callbacks observe the flag and exit without issuing new I/O.
func (n *Network) Stop() {
	if !n.on.CompareAndSwap(true, false) {
		return
	}
	n.socket.Close()

	n.sendMu.Lock()
	discarded := n.sends
	n.sends = nil
	n.sendMu.Unlock()
	for _, s := range discarded {
		if s.callback != nil {
			s.callback(ErrNetworkStopped, 0)
		}
	}

	n.receiveWg.Wait()
	n.sendWg.Wait()
}

func (n *Network) receiveLoop() {
	defer n.receiveWg.Done()

	buffer := make([]byte, receiveBufferSize)
	for {
		size, addr, err := n.socket.ReadFromUDP(buffer)
		if !n.on.Load() {
			return
		}
		if err != nil {
			n.errorCount.Add(1)
			if n.conf.Logging.NetworkLogging {
				n.logger.WithError(err).Debug("UDP receive error")
			}
			continue
		}

		from := types.EndpointFromUDPAddr(addr)
		message, err := ParseMessage(buffer[:size], n.profile)
		if err != nil {
			n.badSenderCount.Add(1)
			if n.conf.Logging.NetworkLogging {
				n.logger.WithError(err).WithField("from", from.String()).Debug("Dropping malformed message")
			}
			continue
		}

		n.countReceive(message)
		if n.conf.Logging.NetworkMessageLogging {
			n.logger.WithField("from", from.String()).Debug("Message received")
		}
		message.visit(n.handler, from)
	}
}

func (n *Network) countReceive(message Message) {
	switch message.(type) {
	case *Keepalive:
		n.keepaliveCount.Add(1)
	case *Publish:
		n.publishCount.Add(1)
	case *ConfirmReq:
		n.confirmReqCount.Add(1)
	case *ConfirmAck:
		n.confirmAckCount.Add(1)
	}
}

// SendBuffer enqueues a datagram. The pump holds at most one in-flight
// send; when a send completes the next entry is issued.
func (n *Network) SendBuffer(data []byte, ep types.Endpoint, callback func(error, int)) {
	n.sendMu.Lock()
	if !n.on.Load() {
		n.sendMu.Unlock()
		if callback != nil {
			callback(ErrNetworkStopped, 0)
		}
		return
	}
	n.sends = append(n.sends, sendInfo{data: data, endpoint: ep, callback: callback})
	if !n.inFlight {
		n.inFlight = true
		n.sendWg.Add(1)
		go n.initiateSend()
	}
	n.sendMu.Unlock()
}

func (n *Network) initiateSend() {
	defer n.sendWg.Done()

	for {
		n.sendMu.Lock()
		if !n.on.Load() || len(n.sends) == 0 {
			n.inFlight = false
			n.sendMu.Unlock()
			return
		}
		entry := n.sends[0]
		n.sends = n.sends[1:]
		n.sendMu.Unlock()

		written, err := n.socket.WriteToUDP(entry.data, entry.endpoint.UDPAddr())
		if err != nil {
			n.errorCount.Add(1)
			if n.conf.Logging.NetworkLogging {
				n.logger.WithError(err).WithField("to", entry.endpoint.String()).Debug("UDP send error")
			}
		} else if n.conf.Logging.NetworkPacketLogging {
			n.logger.WithFields(logrus.Fields{
				"to":   entry.endpoint.String(),
				"size": written,
			}).Debug("Packet sent")
		}

		if entry.callback != nil {
			entry.callback(err, written)
		}

		if delay := n.conf.PacketDelayMicroseconds; delay > 0 {
			time.Sleep(time.Duration(delay) * time.Microsecond)
		}
	}
}

// SendKeepalive sends a keepalive carrying 8 random peers and refreshes the
// target's last_attempt.
func (n *Network) SendKeepalive(ep types.Endpoint) {
	message := NewKeepalive(n.profile)
	n.peers.RandomFill(&message.Peers)
	n.peers.Attempted(ep)

	if n.conf.Logging.NetworkKeepaliveLogging {
		n.logger.WithField("to", ep.String()).Debug("Keepalive sent")
	}
	n.SendBuffer(message.Serialize(), ep, nil)
}

// MergePeers issues keepalives to the previously-unknown endpoints of a
// received keepalive payload, bounding discovery traffic.
func (n *Network) MergePeers(endpoints [8]types.Endpoint) {
	for _, ep := range endpoints {
		if n.peers.NotAPeer(ep) || n.peers.Known(ep) {
			continue
		}
		n.SendKeepalive(ep)
	}
}

// RepublishBlock sends a publish to every peer that doesn't already know
// about the block, then schedules the next wave with the rebroadcast
// counter decremented. No wave is initiated at rebroadcast 0.
func (n *Network) RepublishBlock(block types.Block, rebroadcast uint) {
	if rebroadcast == 0 || !n.on.Load() {
		return
	}

	hash := block.Hash()
	data := NewPublish(n.profile, block).Serialize()

	sent := 0
	for _, peer := range n.peers.List() {
		if n.peers.KnowsAbout(peer.Endpoint, hash) {
			continue
		}
		n.SendBuffer(data, peer.Endpoint, nil)
		sent++
	}

	if n.conf.Logging.NetworkPublishLogging {
		n.logger.WithFields(logrus.Fields{
			"hash":        hash.String(),
			"peers":       sent,
			"rebroadcast": rebroadcast,
		}).Debug("Block republished")
	}

	if next := rebroadcast - 1; next > 0 {
		n.alarm.Add(time.Now().Add(n.conf.RebroadcastDelay), func() {
			n.RepublishBlock(block, next)
		})
	}
}

// BroadcastConfirmReq sends a confirm request for the block to all current
// peers.
func (n *Network) BroadcastConfirmReq(block types.Block) {
	data := NewConfirmReq(n.profile, block).Serialize()
	for _, peer := range n.peers.List() {
		n.SendBuffer(data, peer.Endpoint, nil)
	}
}

// SendConfirmAck sends a signed vote to one endpoint.
func (n *Network) SendConfirmAck(vote *types.Vote, ep types.Endpoint) {
	n.SendBuffer(NewConfirmAck(n.profile, vote).Serialize(), ep, nil)
}

// BroadcastConfirmAck sends a signed vote to all current peers.
func (n *Network) BroadcastConfirmAck(vote *types.Vote) {
	data := NewConfirmAck(n.profile, vote).Serialize()
	for _, peer := range n.peers.List() {
		n.SendBuffer(data, peer.Endpoint, nil)
	}
}

// IncrementInsufficientWork counts a block dropped for failing work
// validation.
func (n *Network) IncrementInsufficientWork() {
	n.insufficientWorkCount.Add(1)
}

// Counters, exposed for stats and the prometheus collectors.

func (n *Network) KeepaliveCount() uint64        { return n.keepaliveCount.Load() }
func (n *Network) PublishCount() uint64          { return n.publishCount.Load() }
func (n *Network) ConfirmReqCount() uint64       { return n.confirmReqCount.Load() }
func (n *Network) ConfirmAckCount() uint64       { return n.confirmAckCount.Load() }
func (n *Network) BadSenderCount() uint64        { return n.badSenderCount.Load() }
func (n *Network) InsufficientWorkCount() uint64 { return n.insufficientWorkCount.Load() }
func (n *Network) ErrorCount() uint64            { return n.errorCount.Load() }
