package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
)

// RunServer starts the server lifecycle managed by fx. The pool hook is registered before this one, so on
// shutdown the acceptor stops first and the pool drains afterwards.
func RunServer(lc fx.Lifecycle, srv *MultiServer, logger *slog.Logger) {
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Listen(); err != nil {
				return err
			}

			logger.Info("Starting server", slog.String("version", version))

			go func() {
				defer close(done)

				if err := srv.Start(); err != nil {
					logger.Error("Server error", slog.String("error", err.Error()))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Server stopping...")

			// Stop waits for the accept loop, which may be blocked handing a connection to a full pool.
			stopped := make(chan error, 1)

			go func() {
				err := srv.Stop()
				<-done
				stopped <- err
			}()

			select {
			case err := <-stopped:
				logger.Info("Server stopped", slog.String("version", version))

				return err
			case <-ctx.Done():
				logger.Error("Server did not stop in time", slog.String("error", ctx.Err().Error()))

				return multierr.Append(errors.New("accept loop still running"), ctx.Err())
			}
		},
	})
}

// RunMetricsReporter logs the registry periodically when an interval is configured.
func RunMetricsReporter(lc fx.Lifecycle, cfg *Config, registry metrics.Registry, pool WorkerPool, logger *slog.Logger) {
	interval := cfg.Server.Metrics.LogInterval
	if interval <= 0 {
		return
	}

	reporter := NewMetricsReporter(registry, pool, logger, interval)
	reportCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				reporter.Run(reportCtx)
			}()

			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			reporter.Report()

			return nil
		},
	})
}

// appOptions wires every component. cfg and logger are created before fx starts so that configuration errors
// are reported on the plain logger.
func appOptions(cfg *Config, logger *slog.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
		fx.Provide(
			NewMetricsRegistry,
			NewHTTPClient,
			NewDocumentStore,
			ProvideResponseCache,
			ProvideWorkerPool,
			ProvideServer,
		),
		fx.Invoke(RunServer, RunMetricsReporter),
	)
}

// NewApp creates the application. The stop timeout leaves room for the worker pool to drain.
func NewApp(cfg *Config, logger *slog.Logger) *fx.App {
	return fx.New(
		appOptions(cfg, logger),
		fx.StopTimeout(cfg.Server.WorkerPool.ShutdownTimeout+5*time.Second),
	)
}
