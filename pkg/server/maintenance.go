package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mevdschee/bincache/pkg/cache"
)

// maintenanceInterval is how often PendingTasks runs (C9). Both current
// engines implement PendingTasks as a no-op (otter does its own
// admission/eviction bookkeeping), but the tick still runs uniformly.
const maintenanceInterval = 100 * time.Millisecond

// maintenanceSlowThreshold logs a warning when a tick takes longer than
// this to run, a sign the engine is falling behind.
const maintenanceSlowThreshold = 2 * maintenanceInterval

// MaintenanceRunner periodically calls engine.PendingTasks on a fixed tick
// until its context is canceled.
type MaintenanceRunner struct {
	engine cache.Engine
	logger *zap.Logger
}

// NewMaintenanceRunner builds a runner for engine.
func NewMaintenanceRunner(engine cache.Engine, logger *zap.Logger) *MaintenanceRunner {
	return &MaintenanceRunner{engine: engine, logger: logger}
}

// Run blocks, ticking engine.PendingTasks every maintenanceInterval, until
// ctx is canceled.
func (r *MaintenanceRunner) Run(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	r.logger.Debug("maintenance runner starting")
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("maintenance runner stopping")
			return
		case <-ticker.C:
			start := time.Now()
			r.engine.PendingTasks()
			if elapsed := time.Since(start); elapsed > maintenanceSlowThreshold {
				r.logger.Warn("pending tasks tick ran slow", zap.Duration("elapsed", elapsed))
			}
		}
	}
}
