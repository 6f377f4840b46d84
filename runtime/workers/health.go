package workers

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthWorker serves grpc.health.v1.Health for the relay.
type HealthWorker struct {
	log     *slog.Logger
	address string
	service string
	bound   atomic.Value
}

func NewHealthWorker(log *slog.Logger, address, service string) *HealthWorker {
	return &HealthWorker{log: log, address: address, service: service}
}

// Addr returns the bound address once serving, empty before.
func (w *HealthWorker) Addr() string {
	if v, ok := w.bound.Load().(string); ok {
		return v
	}
	return ""
}

func (w *HealthWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.address, err)
	}

	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(w.service, healthpb.HealthCheckResponse_SERVING)
	w.bound.Store(listener.Addr().String())

	// Use an error channel to capture Serve() issues
	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting gRPC health server", "address", listener.Addr().String())
		if err := s.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		s.GracefulStop()
		w.log.Info("gRPC health server stopped")
		return nil
	case err := <-errChan:
		s.Stop()
		return err
	}
}
