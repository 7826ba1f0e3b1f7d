package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HealthMonitor periodically logs CPU and memory usage of the server
// process, the operational signal for spotting fan-out or badger pressure.
type HealthMonitor struct {
	log      *slog.Logger
	interval time.Duration
}

func NewHealthMonitor(log *slog.Logger, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{log: log, interval: interval}
}

func (h *HealthMonitor) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cpu, err := proc.CPUPercent()
			if err != nil {
				h.log.Debug("cpu sample failed", "error", err)
				continue
			}
			mem, err := proc.MemoryPercent()
			if err != nil {
				h.log.Debug("memory sample failed", "error", err)
				continue
			}
			h.log.Info("process health", "cpu_percent", cpu, "mem_percent", mem)
		}
	}
}
