// Package cliapp wires configuration, telemetry, the database and the model
// catalog together for the preloadcounts command.
package cliapp

import (
	"database/sql"
	"fmt"
	"sync"

	"preloadcounts/internal/catalog"
	"preloadcounts/internal/config"
	"preloadcounts/internal/dbexec"
	"preloadcounts/internal/logging"
	"preloadcounts/internal/observability"
)

// Options controls which runtime resources Init acquires.
type Options struct {
	// Offline skips the database. Only explain runs work offline, and models
	// must declare their columns for scope checks to apply.
	Offline bool
}

// App owns runtime resources for one preloadcounts invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	opts   Options

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	preloadMetrics *observability.PreloadMetrics

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	executor   dbexec.Querier

	catalog *catalog.Catalog

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger, opts: opts}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Catalog returns the built catalog, or nil before Init.
func (a *App) Catalog() *catalog.Catalog {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.catalog
}
