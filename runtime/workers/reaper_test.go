package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	calls   atomic.Int32
	maxIdle atomic.Int64
}

func (f *fakeExpirer) ExpireIdle(_ context.Context, maxIdle time.Duration) int {
	f.calls.Add(1)
	f.maxIdle.Store(int64(maxIdle))
	return 1
}

func TestPresenceReaperWorker_Expires_Periodically(t *testing.T) {
	req := require.New(t)
	expirer := &fakeExpirer{}
	worker := NewPresenceReaperWorker(slog.Default(), expirer, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// When the worker runs until its context ends
	err := worker.Run(ctx)

	// Then it returned cleanly after expiring several times
	req.NoError(err)
	req.GreaterOrEqual(expirer.calls.Load(), int32(2))
	req.Equal(int64(time.Minute), expirer.maxIdle.Load())
}
