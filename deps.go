package main

import (
	"log/slog"

	"MovieBridge/docstore"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/fx"
)

// Deps bundles all shared application dependencies for injection via UberFX.
type Deps struct {
	fx.In

	Config   *Config
	Logger   *slog.Logger
	Registry metrics.Registry
	Store    docstore.Store
	Pool     WorkerPool
	Cache    ResponseCache
}
