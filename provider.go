package main

import (
	"context"
	"log/slog"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/fx"
)

// ProvideWorkerPool creates the shared worker pool and closes it when the application stops.
func ProvideWorkerPool(lc fx.Lifecycle, cfg *Config, logger *slog.Logger, registry metrics.Registry) (WorkerPool, error) {
	poolCfg := cfg.Server.WorkerPool

	pool, err := NewWorkerPool(poolCfg.MaxWorkers, poolCfg.MaxQueue, poolCfg.ShutdownTimeout, logger, registry)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Worker pool stopping...", slog.Int("workers", pool.Size()), slog.Int("queued", pool.QueueLen()))
			pool.Close()

			return nil
		},
	})

	return pool, nil
}

// ProvideResponseCache creates a response cache if enabled in the configuration.
func ProvideResponseCache(cfg *Config) ResponseCache {
	if cfg.Server.ResponseCache.Enabled && cfg.Server.ResponseCache.TTL > 0 {
		return NewInMemoryResponseCache(cfg.Server.ResponseCache.TTL)
	}

	return nil
}

// ProvideServer assembles router, dispatcher and acceptor from the shared dependencies.
func ProvideServer(deps Deps) *MultiServer {
	router := NewRouter(deps.Store, deps.Cache)
	dispatcher := NewDispatcher(deps.Config, router, deps.Logger, deps.Registry)

	return NewServer(deps.Config, deps.Pool, dispatcher.ServeConn, deps.Logger)
}
