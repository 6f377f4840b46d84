package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

const shutdownTimeout = 5 * time.Second

// ConnectionHandler is the WebSocket side of the relay.
type ConnectionHandler interface {
	http.Handler
	Shutdown(ctx context.Context) error
}

// RelayServerWorker serves the WebSocket endpoint on /ws and a JSON
// session count on /stats.
type RelayServerWorker struct {
	log     *slog.Logger
	address string
	handler ConnectionHandler
	hub     SessionCounter
	bound   atomic.Value
}

func NewRelayServerWorker(log *slog.Logger, address string, handler ConnectionHandler, hub SessionCounter) *RelayServerWorker {
	return &RelayServerWorker{log: log, address: address, handler: handler, hub: hub}
}

// Addr returns the bound address once serving, empty before.
func (w *RelayServerWorker) Addr() string {
	if v, ok := w.bound.Load().(string); ok {
		return v
	}
	return ""
}

func (w *RelayServerWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", w.handler)
	mux.HandleFunc("/stats", w.handleStats)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	w.bound.Store(listener.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting relay server", "address", listener.Addr().String(), "at", time.Now().UTC())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("relay server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked connections are not tracked by http.Server
	if err := w.handler.Shutdown(shutdownCtx); err != nil {
		w.log.Warn("WebSocket sessions did not end in time", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	w.log.Info("Relay server stopped")
	return nil
}

func (w *RelayServerWorker) handleStats(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]int{"sessions": w.hub.Sessions()})
}
