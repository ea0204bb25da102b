// Package peers maintains the gossip membership table: which endpoints we
// know, when we last heard from them, and what blocks they have seen.
package peers

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/types"
)

// BootstrapFailureCooldown is how long a peer is excluded from bootstrap
// candidates after a failed attempt.
const BootstrapFailureCooldown = 5 * time.Minute

// PeerInformation is everything tracked about one peer.
type PeerInformation struct {
	Endpoint             types.Endpoint
	LastContact          time.Time
	LastAttempt          time.Time
	LastBootstrapFailure time.Time
	MostRecent           types.BlockHash
}

// timeKey orders peers by a timestamp, with the endpoint breaking ties so
// keys stay unique in the side indexes.
type timeKey struct {
	at       time.Time
	endpoint types.Endpoint
}

func timeKeyLess(a, b timeKey) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	if a.endpoint.IP != b.endpoint.IP {
		return a.endpoint.IP.Less(b.endpoint.IP)
	}
	return a.endpoint.Port < b.endpoint.Port
}

// Container is the membership set, keyed by endpoint with ordered side
// indexes on last_contact and last_attempt. Every mutation updates all
// three under the container mutex; observers are invoked without it.
type Container struct {
	mu        sync.Mutex
	self      types.Endpoint
	peers     map[types.Endpoint]*PeerInformation
	byContact *btree.BTreeG[timeKey]
	byAttempt *btree.BTreeG[timeKey]

	// PeerObserver fires when a previously-unknown endpoint is inserted.
	PeerObserver func(types.Endpoint)
	// DisconnectObserver fires when a purge empties the container.
	DisconnectObserver func()

	logger *logrus.Entry
}

// NewContainer creates an empty container that excludes self from
// membership.
func NewContainer(self types.Endpoint, logger *logrus.Entry) *Container {
	return &Container{
		self:      self,
		peers:     make(map[types.Endpoint]*PeerInformation),
		byContact: btree.NewG(8, timeKeyLess),
		byAttempt: btree.NewG(8, timeKeyLess),
		logger:    logger,
	}
}

// Self returns the node's own listening endpoint.
func (c *Container) Self() types.Endpoint {
	return c.self
}

// NotAPeer reports whether the endpoint must be rejected: unassigned or
// reserved addresses, the multicast range, and the node's own endpoint.
func (c *Container) NotAPeer(ep types.Endpoint) bool {
	if ep == c.self || ep.Port == 0 {
		return true
	}
	if !ep.IP.IsValid() || ep.IP.IsUnspecified() || ep.IP.IsMulticast() {
		return true
	}
	if ep.IP.Is4() {
		b := ep.IP.As4()
		// 240.0.0.0/4 reserved, 255.255.255.255 broadcast
		if b[0] >= 240 {
			return true
		}
	}
	return false
}

// Contacted records a contact from the endpoint, inserting it if new.
func (c *Container) Contacted(ep types.Endpoint) {
	c.Insert(ep)
}

// Insert upserts the endpoint and refreshes last_contact. It returns true
// iff the peer was already known; the caller keepalives unknown peers. The
// peer observer fires for new endpoints, outside the mutex.
func (c *Container) Insert(ep types.Endpoint) bool {
	return c.insert(ep, nil)
}

// InsertBlock is Insert plus a record that the peer has seen the block.
func (c *Container) InsertBlock(ep types.Endpoint, hash types.BlockHash) bool {
	return c.insert(ep, &hash)
}

func (c *Container) insert(ep types.Endpoint, mostRecent *types.BlockHash) bool {
	if c.NotAPeer(ep) {
		return false
	}

	now := time.Now()

	c.mu.Lock()
	info, known := c.peers[ep]
	if known {
		c.byContact.Delete(timeKey{at: info.LastContact, endpoint: ep})
		info.LastContact = now
	} else {
		info = &PeerInformation{Endpoint: ep, LastContact: now}
		c.peers[ep] = info
		c.byAttempt.ReplaceOrInsert(timeKey{at: info.LastAttempt, endpoint: ep})
	}
	if mostRecent != nil {
		info.MostRecent = *mostRecent
	}
	c.byContact.ReplaceOrInsert(timeKey{at: now, endpoint: ep})
	observer := c.PeerObserver
	c.mu.Unlock()

	if !known && observer != nil {
		observer(ep)
	}

	return known
}

// Known reports whether the endpoint is currently in the container without
// touching its timestamps.
func (c *Container) Known(ep types.Endpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.peers[ep]
	return ok
}

// KnowsAbout reports whether the peer's most recently announced block is
// hash; used to suppress republishing a block back to its source.
func (c *Container) KnowsAbout(ep types.Endpoint, hash types.BlockHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.peers[ep]
	return ok && info.MostRecent == hash
}

// Attempted refreshes the peer's last_attempt timestamp, called when a
// keepalive is issued to it.
func (c *Container) Attempted(ep types.Endpoint) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.peers[ep]
	if !ok {
		return
	}
	c.byAttempt.Delete(timeKey{at: info.LastAttempt, endpoint: ep})
	info.LastAttempt = now
	c.byAttempt.ReplaceOrInsert(timeKey{at: now, endpoint: ep})
}

// BootstrapFailed records a failed bootstrap attempt against the peer.
func (c *Container) BootstrapFailed(ep types.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if info, ok := c.peers[ep]; ok {
		info.LastBootstrapFailure = time.Now()
	}
}

// RandomFill chooses up to 8 distinct endpoints uniformly at random,
// padding unfilled slots with the zero endpoint.
func (c *Container) RandomFill(out *[8]types.Endpoint) {
	c.mu.Lock()
	endpoints := make([]types.Endpoint, 0, len(c.peers))
	for ep := range c.peers {
		endpoints = append(endpoints, ep)
	}
	c.mu.Unlock()

	rand.Shuffle(len(endpoints), func(i, j int) {
		endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
	})

	for i := range out {
		if i < len(endpoints) {
			out[i] = endpoints[i]
		} else {
			out[i] = types.ZeroEndpoint
		}
	}
}

// List returns a snapshot of all peers.
func (c *Container) List() []PeerInformation {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]PeerInformation, 0, len(c.peers))
	for _, info := range c.peers {
		result = append(result, *info)
	}
	return result
}

// NeedingKeepalive returns peers whose last_attempt is older than cutoff,
// in last_attempt order.
func (c *Container) NeedingKeepalive(cutoff time.Time) []PeerInformation {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := []PeerInformation{}
	c.byAttempt.Ascend(func(k timeKey) bool {
		if !k.at.Before(cutoff) {
			return false
		}
		if info, ok := c.peers[k.endpoint]; ok {
			result = append(result, *info)
		}
		return true
	})
	return result
}

// BootstrapCandidates returns peers that haven't failed bootstrapping
// within the cooldown.
func (c *Container) BootstrapCandidates() []PeerInformation {
	cutoff := time.Now().Add(-BootstrapFailureCooldown)

	c.mu.Lock()
	defer c.mu.Unlock()

	result := []PeerInformation{}
	for _, info := range c.peers {
		if info.LastBootstrapFailure.Before(cutoff) {
			result = append(result, *info)
		}
	}
	return result
}

// PurgeList removes and returns peers whose last_contact is older than
// cutoff. If the container becomes empty the disconnect observer fires.
func (c *Container) PurgeList(cutoff time.Time) []PeerInformation {
	c.mu.Lock()

	purged := []PeerInformation{}
	c.byContact.Ascend(func(k timeKey) bool {
		if !k.at.Before(cutoff) {
			return false
		}
		if info, ok := c.peers[k.endpoint]; ok {
			purged = append(purged, *info)
		}
		return true
	})

	for _, info := range purged {
		c.byContact.Delete(timeKey{at: info.LastContact, endpoint: info.Endpoint})
		c.byAttempt.Delete(timeKey{at: info.LastAttempt, endpoint: info.Endpoint})
		delete(c.peers, info.Endpoint)
	}

	empty := len(c.peers) == 0
	observer := c.DisconnectObserver
	c.mu.Unlock()

	if len(purged) > 0 && empty && observer != nil {
		observer()
	}

	if len(purged) > 0 && c.logger != nil {
		c.logger.WithField("count", len(purged)).Debug("Purged stale peers")
	}

	return purged
}

// Size returns the number of known peers.
func (c *Container) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.peers)
}

// Empty reports whether no peers are known.
func (c *Container) Empty() bool {
	return c.Size() == 0
}
