// Command bincached runs the binary-protocol cache server (spec §§2-6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mevdschee/bincache/internal/config"
	"github.com/mevdschee/bincache/pkg/cache"
	"github.com/mevdschee/bincache/pkg/logging"
	"github.com/mevdschee/bincache/pkg/server"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	f := config.Register(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "bincached - memcached-binary-protocol-compatible in-memory cache\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(fs, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Verbosity: verbosityName(cfg.Verbosity),
		File:      cfg.LogFile,
		MaxSizeMB: 100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	clock := cache.NewSystemClock()
	engine := buildEngine(cfg, clock, logger)

	srv := server.New(server.Config{
		Runtime: runtimeKind(cfg.RuntimeType),
		Listener: server.ListenerConfig{
			Addr:           cfg.Addr(),
			MaxConnections: cfg.ConnectionLimit,
			WorkerPoolSize: cfg.WorkerThreads,
			Conn: server.ConnConfig{
				ItemSizeLimit: uint32(cfg.ItemSizeLimit),
				IdleTimeout:   60 * time.Second,
			},
		},
	}, engine, clock, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("bincached starting",
		zap.String("addr", cfg.Addr()),
		zap.String("runtime", cfg.RuntimeType),
		zap.String("store_engine", cfg.StoreEngine),
		zap.String("eviction_policy", cfg.EvictionPolicy),
		zap.Int64("connection_limit", cfg.ConnectionLimit),
		zap.Int("worker_threads", cfg.WorkerThreads),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("bincached shut down cleanly")
}

func buildEngine(cfg *config.Config, clock cache.Clock, logger *zap.Logger) cache.Engine {
	switch config.StoreEngine(cfg.StoreEngine) {
	case config.StoreTinyLFUCapacityBnd:
		maxEntries := estimateMaxEntries(cfg.MemoryLimit)
		policy := cache.PolicyTinyLFU
		if config.EvictionPolicy(cfg.EvictionPolicy) == config.EvictionLRU {
			policy = cache.PolicyLRU
		}
		logger.Info("using capacity-bounded store engine", zap.Int("max_entries", maxEntries), zap.String("policy", policy.String()))
		return cache.NewOtterEngine(clock, maxEntries, policy)
	default:
		return cache.NewShardedEngine(clock, cfg.WorkerThreads)
	}
}

// estimateMaxEntries converts an advisory byte budget into an entry-count
// cap for otter, whose Options take MaximumSize rather than a byte weight;
// 256 bytes/entry is a rough per-item overhead guess, not a measured figure.
func estimateMaxEntries(memoryLimitBytes int64) int {
	const avgEntryOverhead = 256
	n := int(memoryLimitBytes / avgEntryOverhead)
	if n < 1 {
		return 1
	}
	return n
}

func runtimeKind(rt string) server.RuntimeKind {
	if config.RuntimeType(rt) == config.RuntimePerWorker {
		return server.RuntimeEvent
	}
	return server.RuntimePooled
}

// verbosityName maps spec §6.2's verbosity knob onto a zap level name: 0 is
// InfoLevel, anything higher drops to DebugLevel.
func verbosityName(v uint8) string {
	if v == 0 {
		return "info"
	}
	return "debug"
}
