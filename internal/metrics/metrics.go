// Package metrics exposes the node runtime's counters and gauges over
// Prometheus, following the promauto pattern used by the sibling nlb
// service rather than proxy-rtmp (which carries no metrics dependency at
// all).
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// NodeState mirrors a node's current lifecycle as a gauge (1 for the
	// active state, 0 otherwise), labeled by handle and state name.
	NodeState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "node_state",
			Help: "Current lifecycle state of a node (1 for the active state)",
		},
		[]string{"handle", "state"},
	)

	// PollWaitTotal counts Worker wait-loop iterations (§4.4 step 4).
	PollWaitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_poll_wait_total",
			Help: "Total number of Worker poll-wait iterations",
		},
		[]string{"handle"},
	)

	// BuffersForwardedTotal counts successful HaveOutput forwards.
	BuffersForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_buffers_forwarded_total",
			Help: "Total number of buffers forwarded to a peer input on HaveOutput",
		},
		[]string{"handle"},
	)

	// ActiveLinks mirrors n_used_output_links/n_used_input_links.
	ActiveLinks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "node_active_links",
			Help: "Number of active links per node and direction",
		},
		[]string{"handle", "direction"},
	)
)

// SetNodeState records the single active state for a handle, clearing any
// previously-reported state for that handle first so stale gauges don't
// linger after a transition.
func SetNodeState(handle string, previous, current string) {
	if previous != "" && previous != current {
		NodeState.WithLabelValues(handle, previous).Set(0)
	}
	NodeState.WithLabelValues(handle, current).Set(1)
}

// Server serves the Prometheus /metrics endpoint.
type Server struct {
	host string
	port int
	srv  *http.Server
	log  *logrus.Entry
}

// New returns a metrics Server bound to host:port.
func New(host string, port int, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{host: host, port: port, log: log}
}

// Start serves /metrics in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.srv = &http.Server{Addr: addr, Handler: mux}

	s.log.WithField("address", addr).Info("metrics server started")
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the metrics listener, waiting for in-flight
// scrapes to finish until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
