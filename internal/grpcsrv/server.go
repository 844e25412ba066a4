// Package grpcsrv exposes the node registry over gRPC: a standard health
// service plus plain Go status/metrics methods (not yet proto-generated,
// mirroring the teacher's own placeholder ModuleService). This is the
// "object-registry/IPC exposure" named as an external collaborator in the
// core spec, built here as the daemon shell around that core.
package grpcsrv

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/registry"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Server wraps a grpc.Server serving the health check plus node status
// methods, sourced from a registry.Registry.
type Server struct {
	host      string
	port      int
	reg       registry.Registry
	startedAt time.Time

	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	log        *logrus.Entry
}

// New creates a Server bound to the given registry; it does not start
// listening until Start is called.
func New(host string, port int, reg registry.Registry, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{host: host, port: port, reg: reg, log: log}
}

// Start binds the listener, registers the health service, and serves in
// the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.startedAt = time.Now()

	s.grpcServer = grpc.NewServer()
	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	s.log.WithField("address", addr).Info("grpc status server started")

	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			s.log.WithError(err).Error("grpc server error")
		}
	}()

	return nil
}

// Stop gracefully drains the gRPC server.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	s.log.Info("grpc status server stopped")
}

// NodeStatus is one entry of GetStatus's per-node detail.
type NodeStatus struct {
	Handle       string
	Name         string
	State        string
	NInput       uint32
	MaxInput     uint32
	NOutput      uint32
	MaxOutput    uint32
	ActiveInput  int
	ActiveOutput int
	PollSize     int
}

// GetStatus returns a snapshot of every registered node (placeholder for
// a proto-generated ModuleService, matching the teacher's own
// not-yet-proto-generated status method).
func (s *Server) GetStatus(ctx context.Context) ([]NodeStatus, error) {
	nodes := s.reg.List()
	out := make([]NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		nIn, maxIn, nOut, maxOut := n.PortCounts()
		out = append(out, NodeStatus{
			Handle:       n.Handle(),
			Name:         n.Name(),
			State:        n.State().String(),
			NInput:       nIn,
			MaxInput:     maxIn,
			NOutput:      nOut,
			MaxOutput:    maxOut,
			ActiveInput:  n.ActiveLinks(spa.DirectionInput),
			ActiveOutput: n.ActiveLinks(spa.DirectionOutput),
			PollSize:     n.PollSize(),
		})
	}
	return out, nil
}

// GetMetrics returns the registry-wide summary used by the status plane
// (distinct from the Prometheus /metrics listener in internal/metrics,
// which is scraped rather than polled).
func (s *Server) GetMetrics(ctx context.Context) (registry.Stats, error) {
	return s.reg.Stats(), nil
}

// HealthCheck reports whether the server has an active listener.
func (s *Server) HealthCheck(ctx context.Context) (bool, error) {
	if s.listener == nil {
		return false, fmt.Errorf("grpc status server not started")
	}
	return true, nil
}

// Uptime reports how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
