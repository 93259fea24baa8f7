// Package control exposes optional operational endpoints alongside a
// scan: a Prometheus metrics handler and a gRPC health/reflection
// service an orchestrator (Kubernetes, a supervisor process) can poll
// to tell whether the scanner process is still alive.
package control

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServeMetrics starts a Prometheus /metrics HTTP endpoint. It blocks
// until ctx is canceled or the listener fails.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}

// GRPCHealth wraps a bare grpc.Server exposing only the standard
// health and server-reflection services — there is no scan-control RPC
// surface, just a liveness probe a supervisor can poll.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
}

// NewGRPCHealth builds the server and marks the overall service
// SERVING.
func NewGRPCHealth() *GRPCHealth {
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &GRPCHealth{server: s, health: h}
}

// Serve listens on addr and blocks until ctx is canceled.
func (g *GRPCHealth) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		g.server.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// SetNotServing flips the health status, e.g. once a scan completes
// and the process is winding down but still answering health checks.
func (g *GRPCHealth) SetNotServing() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}
