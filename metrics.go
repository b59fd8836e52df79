package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"MovieBridge/docstore"

	"github.com/rcrowley/go-metrics"
)

// NewMetricsRegistry returns the registry shared by the pool, the dispatcher and the backend.
func NewMetricsRegistry() metrics.Registry {
	return metrics.NewRegistry()
}

// MetricsReporter periodically logs a snapshot of all registered metrics.
type MetricsReporter struct {
	registry metrics.Registry
	pool     WorkerPool
	logger   *slog.Logger
	interval time.Duration
	queue    metrics.Gauge
}

// NewMetricsReporter creates a reporter. A non-positive interval disables periodic logging.
func NewMetricsReporter(registry metrics.Registry, pool WorkerPool, logger *slog.Logger, interval time.Duration) *MetricsReporter {
	return &MetricsReporter{
		registry: registry,
		pool:     pool,
		logger:   logger,
		interval: interval,
		queue:    metrics.GetOrRegisterGauge("pool.queue", registry),
	}
}

// Run logs until ctx is cancelled.
func (r *MetricsReporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report writes one log line per metric.
func (r *MetricsReporter) Report() {
	if r.pool != nil {
		r.queue.Update(int64(r.pool.QueueLen()))
	}

	names := make([]string, 0)
	values := make(map[string]any)

	r.registry.Each(func(name string, metric any) {
		names = append(names, name)
		values[name] = metric
	})

	sort.Strings(names)

	for _, name := range names {
		switch m := values[name].(type) {
		case metrics.Counter:
			r.logger.Info("Metric", slog.String("name", name), slog.Int64("count", m.Snapshot().Count()))
		case metrics.Gauge:
			r.logger.Info("Metric", slog.String("name", name), slog.Int64("value", m.Snapshot().Value()))
		case metrics.Meter:
			s := m.Snapshot()
			r.logger.Info("Metric", slog.String("name", name), slog.Int64("count", s.Count()), slog.Float64("rate1", s.Rate1()))
		case metrics.Timer:
			s := m.Snapshot()
			r.logger.Info(
				"Metric",
				slog.String("name", name),
				slog.Int64("count", s.Count()),
				slog.Duration("mean", time.Duration(s.Mean())),
				slog.Duration("p99", time.Duration(s.Percentile(0.99))),
			)
		}
	}
}

// instrumentedStore records the latency and the failures of every backend call.
type instrumentedStore struct {
	next     docstore.Store
	registry metrics.Registry
}

// NewInstrumentedStore wraps next so each operation feeds a backend.<op> timer and a backend.errors counter.
func NewInstrumentedStore(next docstore.Store, registry metrics.Registry) docstore.Store {
	return &instrumentedStore{next: next, registry: registry}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	metrics.GetOrRegisterTimer("backend."+op, s.registry).UpdateSince(start)

	if err != nil {
		metrics.GetOrRegisterCounter("backend.errors", s.registry).Inc(1)
	}
}

func (s *instrumentedStore) Get(ctx context.Context, path string) (raw json.RawMessage, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()

	raw, err = s.next.Get(ctx, path)

	return raw, err
}

func (s *instrumentedStore) Set(ctx context.Context, path string, doc any) (key string, err error) {
	start := time.Now()
	defer func() { s.observe("set", start, err) }()

	key, err = s.next.Set(ctx, path, doc)

	return key, err
}

func (s *instrumentedStore) Update(ctx context.Context, path string, doc any) (err error) {
	start := time.Now()
	defer func() { s.observe("update", start, err) }()

	return s.next.Update(ctx, path, doc)
}

func (s *instrumentedStore) Delete(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()

	return s.next.Delete(ctx, path)
}

var _ docstore.Store = (*instrumentedStore)(nil)
