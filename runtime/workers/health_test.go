package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthWorker_Serving(t *testing.T) {
	req := require.New(t)
	worker := NewHealthWorker(slog.Default(), "127.0.0.1:0", "relay")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	req.Eventually(func() bool { return worker.Addr() != "" }, time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient(worker.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	req.NoError(err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	// When the relay service health is checked
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "relay"})

	// Then it is serving
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	// When the context ends the worker stops cleanly
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		req.Fail("health worker did not stop")
	}
}
