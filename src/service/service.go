// Package service exposes the node's stats, peer list, and prometheus
// metrics over HTTP.
package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rkanadev/raiblocks/src/metrics"
	"github.com/rkanadev/raiblocks/src/node"
)

// Service serves the node API from the default mux, so an application
// embedding the node in-process can share the endpoint.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	registry    *metrics.Registry
	logger      *logrus.Entry
}

// NewService creates the service and registers its handlers.
func NewService(bindAddress string, n *node.Node, registry *metrics.Registry, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		registry:    registry,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.Handle("/metrics", promhttp.HandlerFor(s.registry.Prometheus(), promhttp.HandlerOpts{}))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve blocks serving the API.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns the node stats snapshot.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetPeers returns the current peer list.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	type peerJSON struct {
		Endpoint    string `json:"endpoint"`
		LastContact string `json:"last_contact"`
		LastAttempt string `json:"last_attempt"`
	}

	list := s.node.Peers().List()
	out := make([]peerJSON, 0, len(list))
	for _, peer := range list {
		out = append(out, peerJSON{
			Endpoint:    peer.Endpoint.String(),
			LastContact: peer.LastContact.String(),
			LastAttempt: peer.LastAttempt.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
