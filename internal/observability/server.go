// Package observability serves metrics and health endpoints.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "triadic.TalkShow"

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP endpoints for observability.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates the metrics HTTP server. ready may be nil.
func NewServer(addr string, gatherer prometheus.Gatherer, ready Pinger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready.Ping(ctx); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("Starting observability HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Observability HTTP server error", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down observability HTTP server")
	return s.server.Shutdown(ctx)
}

// HealthServer is a gRPC server exposing only the health and reflection services.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	addr   string
}

// NewHealthServer registers health and reflection, both reporting SERVING.
func NewHealthServer(addr string) *HealthServer {
	srv := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(srv)
	return &HealthServer{grpc: srv, health: hs, addr: addr}
}

// Start listens and serves in a goroutine.
func (h *HealthServer) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	go func() {
		slog.Info("Starting gRPC health server", "addr", lis.Addr().String())
		if err := h.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC health server error", "error", err)
		}
	}()
	return nil
}

// Stop flips health to NOT_SERVING and stops the server gracefully.
func (h *HealthServer) Stop() {
	h.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	h.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	h.grpc.GracefulStop()
}
