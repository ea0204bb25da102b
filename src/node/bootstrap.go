package node

import (
	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/net"
	"github.com/rkanadev/raiblocks/src/types"
)

// BootstrapInitiator kicks off chain retrieval when the gap cache decides
// accumulated vote weight justifies one. The stream fetcher itself lives
// behind this seam.
type BootstrapInitiator interface {
	Initiate(ep types.Endpoint, required types.BlockHash)
}

// bulkPullInitiator is the default initiator: it signals the peer with a
// bulk_pull control message and records the attempt. Failed peers are
// reported through BootstrapFailed, feeding the candidates cooldown.
type bulkPullInitiator struct {
	node *Node
}

func (b *bulkPullInitiator) Initiate(ep types.Endpoint, required types.BlockHash) {
	if !b.node.on.Load() {
		return
	}

	b.node.logger.WithFields(logrus.Fields{
		"peer":     ep.String(),
		"required": required.String(),
	}).Info("Initiating bootstrap")

	message := net.NewBulkPull(b.node.conf.Profile, types.Account{}, required)
	b.node.network.SendBuffer(message.Serialize(), ep, func(err error, _ int) {
		if err != nil {
			b.node.peers.BootstrapFailed(ep)
		}
	})
}
