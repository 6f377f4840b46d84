package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// SessionCounter reports the open sessions of a hub.
type SessionCounter interface {
	Sessions() int
}

// HeartbeatWorker logs the relay's own health at a fixed interval.
type HeartbeatWorker struct {
	log      *slog.Logger
	hub      SessionCounter
	interval time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, hub SessionCounter, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, hub: hub, interval: interval}
}

// Run logs CPU, RAM, process status and open sessions every interval.
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, status, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Heartbeat",
				"pid", p.Pid,
				"status", status,
				"cpu_percent", cpu,
				"ram_bytes", rss,
				"sessions", w.hub.Sessions())
		}
	}
}

// getSelfStats retrieves technical metrics (Memory, CPU, and OS Status) for the given process.
func getSelfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
