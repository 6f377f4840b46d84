package workers

import (
	"context"
	"log/slog"
	"time"
)

// IdleExpirer drops sessions that stopped answering.
type IdleExpirer interface {
	ExpireIdle(ctx context.Context, maxIdle time.Duration) int
}

// PresenceReaperWorker expires idle hub sessions so their channels see a timeout.
type PresenceReaperWorker struct {
	log      *slog.Logger
	hub      IdleExpirer
	interval time.Duration
	maxIdle  time.Duration
}

func NewPresenceReaperWorker(log *slog.Logger, hub IdleExpirer, interval, maxIdle time.Duration) *PresenceReaperWorker {
	return &PresenceReaperWorker{log: log, hub: hub, interval: interval, maxIdle: maxIdle}
}

func (w *PresenceReaperWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping reaper")
			return nil
		case <-ticker.C:
			if n := w.hub.ExpireIdle(ctx, w.maxIdle); n > 0 {
				w.log.Info("Idle sessions expired", "count", n, "max_idle", w.maxIdle)
			}
		}
	}
}
