// Command relay serves the chat hub over WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chat-engine/hub"
	"chat-engine/runtime/workers"
	"chat-engine/transport/ws"

	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the hub and its workers and blocks until a signal arrives.
func run() error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	h := hub.NewHub(log, config.SinkTimeout)
	handler := ws.NewHandler(log, h)

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewRelayServerWorker(log, fmt.Sprintf("%s:%d", config.Host, config.Port), handler, h),
		workers.NewHealthWorker(log, fmt.Sprintf("%s:%d", config.Host, config.HealthPort), "relay"),
		workers.NewPresenceReaperWorker(log, h, config.ReapInterval, config.MaxIdle),
		workers.NewHeartbeatWorker(log, h, config.HeartbeatInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Relay starting", "port", config.Port, "health_port", config.HealthPort)
	sup.Run(ctx)
	log.Info("Program stopped cleanly")
	return nil
}
