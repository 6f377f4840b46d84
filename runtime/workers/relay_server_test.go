package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"chat-engine/hub"
	"chat-engine/transport/ws"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestRelayServerWorker_Serves_Clients(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	h := hub.NewHub(log, time.Second)
	worker := NewRelayServerWorker(log, "127.0.0.1:0", ws.NewHandler(log, h), h)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	req.Eventually(func() bool { return worker.Addr() != "" }, time.Second, 10*time.Millisecond)

	// Given a client connected to the relay
	client := ws.New(log, "ws://"+worker.Addr()+"/ws", "alice")
	req.NoError(client.Connect(context.Background()))
	req.Eventually(func() bool { return h.Sessions() == 1 }, time.Second, 10*time.Millisecond)

	// Then the stats endpoint counts it
	resp, err := http.Get("http://" + worker.Addr() + "/stats")
	req.NoError(err)
	var stats map[string]int
	req.NoError(json.NewDecoder(resp.Body).Decode(&stats))
	_ = resp.Body.Close()
	req.Equal(1, stats["sessions"])

	// When the worker stops, the session ends with it
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(6 * time.Second):
		req.Fail("relay server did not stop")
	}
	req.Zero(h.Sessions())
	req.NoError(client.Close())
}
