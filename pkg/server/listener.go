package server

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ListenerConfig controls the pooled net.Listener runtime (C8/C13's
// "shared-multi-threaded-pool" backend): a plain accept loop that admits
// connections through a weighted semaphore and runs each connection's
// Serve loop on a bounded goroutine pool rather than one raw goroutine per
// connection, the way the teacher's Server.Start/handleConnection did
// (spec.md's C8 connection-limit requirement, generalized past the
// teacher's bare atomic counter to something that also bounds concurrency
// of in-flight work, not just connection count).
type ListenerConfig struct {
	Addr           string
	MaxConnections int64
	WorkerPoolSize int
	Conn           ConnConfig
}

// PooledListener accepts connections on a TCP or Unix socket address and
// serves each one via a bounded ants worker pool.
type PooledListener struct {
	cfg        ListenerConfig
	dispatcher *Dispatcher
	logger     *zap.Logger
	admission  *semaphore.Weighted
}

// NewPooledListener builds a listener ready to Run.
func NewPooledListener(cfg ListenerConfig, dispatcher *Dispatcher, logger *zap.Logger) *PooledListener {
	return &PooledListener{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		admission:  semaphore.NewWeighted(cfg.MaxConnections),
	}
}

// Run listens and serves connections until ctx is canceled or an
// unrecoverable accept error occurs.
func (l *PooledListener) Run(ctx context.Context) error {
	network := "tcp"
	if len(l.cfg.Addr) > 0 && l.cfg.Addr[0] == '/' {
		network = "unix"
		os.Remove(l.cfg.Addr)
	}

	ln, err := net.Listen(network, l.cfg.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	pool, err := ants.NewPool(l.cfg.WorkerPoolSize, ants.WithNonblocking(false))
	if err != nil {
		return err
	}
	defer pool.Release()

	l.logger.Info("listening", zap.String("network", network), zap.String("addr", l.cfg.Addr),
		zap.Int64("max_connections", l.cfg.MaxConnections), zap.Int("worker_pool_size", l.cfg.WorkerPoolSize))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.logger.Warn("accept error", zap.Error(err))
			continue
		}

		if !l.admission.TryAcquire(1) {
			l.logger.Info("connection limit reached, rejecting", zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		c := NewConn(conn, l.dispatcher, l.cfg.Conn, l.logger)
		submitErr := pool.Submit(func() {
			defer l.admission.Release(1)
			c.Serve(ctx)
		})
		if submitErr != nil {
			l.logger.Warn("worker pool submit failed", zap.Error(submitErr))
			l.admission.Release(1)
			conn.Close()
		}
	}
}

// waitForDrain gives in-flight connections a chance to finish after ctx is
// canceled, up to timeout, by trying to reacquire the full admission
// weight (meaning every permit has been released).
func (l *PooledListener) waitForDrain(timeout time.Duration) bool {
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := l.admission.Acquire(drainCtx, l.cfg.MaxConnections); err != nil {
		return false
	}
	l.admission.Release(l.cfg.MaxConnections)
	return true
}
