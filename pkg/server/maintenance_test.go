package server

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mevdschee/bincache/pkg/cache"
)

type countingEngine struct {
	cache.Engine
	calls chan struct{}
}

func (e *countingEngine) PendingTasks() {
	e.calls <- struct{}{}
}

func TestMaintenanceRunnerTicksAndStops(t *testing.T) {
	engine := &countingEngine{
		Engine: cache.NewShardedEngine(cache.NewManualClock(), 2),
		calls:  make(chan struct{}, 4),
	}
	runner := NewMaintenanceRunner(engine, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	select {
	case <-engine.calls:
	case <-time.After(time.Second):
		t.Fatal("PendingTasks was not called within 1s of starting the runner")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
