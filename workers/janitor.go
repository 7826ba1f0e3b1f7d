package workers

import (
	"context"
	"log/slog"
	"time"

	"roomlink/ratelimit"
)

// LimiterJanitor sweeps idle subjects out of the in-process counter store.
// The shared badger store expires entries through TTLs and needs no sweep.
type LimiterJanitor struct {
	log      *slog.Logger
	store    *ratelimit.MemoryStore
	interval time.Duration
	maxIdle  time.Duration
}

func NewLimiterJanitor(log *slog.Logger, store *ratelimit.MemoryStore,
	interval, maxIdle time.Duration) *LimiterJanitor {
	return &LimiterJanitor{log: log, store: store, interval: interval, maxIdle: maxIdle}
}

func (j *LimiterJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := j.store.Sweep(time.Now().UTC().Add(-j.maxIdle)); removed > 0 {
				j.log.Debug("swept idle rate limit subjects", "removed", removed)
			}
		}
	}
}
