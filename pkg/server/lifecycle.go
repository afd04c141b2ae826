package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mevdschee/bincache/pkg/cache"
)

// drainTimeout bounds how long Run waits for in-flight pooled-runtime
// connections to finish after shutdown is requested, before returning.
const drainTimeout = 5 * time.Second

// RuntimeKind selects which listener backend services connections (C13).
type RuntimeKind string

const (
	// RuntimePooled is the shared-multi-threaded-pool backend (PooledListener).
	RuntimePooled RuntimeKind = "pooled"
	// RuntimeEvent is the single-thread-per-worker backend (EventListener).
	RuntimeEvent RuntimeKind = "event"
)

// Config is everything the lifecycle needs to bring a server up.
type Config struct {
	Listener ListenerConfig
	Runtime  RuntimeKind
}

// Server ties together the clock, cache engine, maintenance runner, and
// listener backend for one running instance (C8 lifecycle wiring).
type Server struct {
	cfg        Config
	engine     cache.Engine
	clock      cache.Clock
	logger     *zap.Logger
	dispatcher *Dispatcher
	pooled     *PooledListener
}

// New builds a server ready to Run.
func New(cfg Config, engine cache.Engine, clock cache.Clock, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		engine:     engine,
		clock:      clock,
		logger:     logger,
		dispatcher: NewDispatcher(engine),
	}
}

// Run starts the clock ticker, the maintenance runner, and the selected
// listener backend, and blocks until ctx is canceled or one of them
// returns an error.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if sysClock, ok := s.clock.(*cache.SystemClock); ok {
		g.Go(func() error {
			sysClock.Run(ctx)
			return nil
		})
	}

	maintenance := NewMaintenanceRunner(s.engine, s.logger)
	g.Go(func() error {
		maintenance.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return s.runListener(ctx)
	})

	err := g.Wait()

	// The pooled runtime hands connections to a bounded worker pool; give
	// whatever's in flight a chance to finish before the process exits,
	// rather than cutting it off the instant the accept loop stops.
	if s.pooled != nil {
		if !s.pooled.waitForDrain(drainTimeout) {
			s.logger.Warn("shutdown: in-flight connections did not drain in time", zap.Duration("timeout", drainTimeout))
		}
	}

	return err
}

func (s *Server) runListener(ctx context.Context) error {
	switch s.cfg.Runtime {
	case RuntimeEvent:
		return NewEventListener(s.cfg.Listener, s.dispatcher, s.logger).Run(ctx)
	default:
		s.pooled = NewPooledListener(s.cfg.Listener, s.dispatcher, s.logger)
		return s.pooled.Run(ctx)
	}
}
