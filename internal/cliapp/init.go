package cliapp

import (
	"context"
	"fmt"
	"log/slog"

	"preloadcounts/internal/catalog"
	"preloadcounts/internal/dbexec"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, preloadMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			meterProvider.LogSummary(shutdownCtx, a.logger.Logger)
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	var columns map[string][]string
	var executor dbexec.Querier
	if !a.opts.Offline {
		a.logger.Info("connecting to database",
			slog.String("host", a.cfg.Database.Host),
			slog.Int("port", a.cfg.Database.Port),
			slog.Bool("dsn_present", a.cfg.Database.ConnectionString != ""),
		)

		db, dbStatsReg, err := connectDB(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(_ context.Context) error {
			if dbStatsReg != nil {
				if err := dbStatsReg.Unregister(); err != nil {
					a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
				}
			}
			return db.Close()
		})

		if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
			return fmt.Errorf("failed to verify database connection: %w", err)
		}
		executor = dbexec.NewStandardExecutor(db)

		columns, err = introspectColumns(ctx, a.cfg, a.logger, executor)
		if err != nil {
			return err
		}

		a.stateMu.Lock()
		a.db = db
		a.dbStatsReg = dbStatsReg
		a.stateMu.Unlock()
	}

	cat, err := catalog.Build(catalog.BuildConfig{
		Models:  a.cfg.Models,
		Naming:  a.cfg.Naming,
		Columns: columns,
		Logger:  a.logger.Logger,
		Metrics: preloadMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build model catalog: %w", err)
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.preloadMetrics = preloadMetrics
	a.tracerProvider = tracerProvider
	a.executor = executor
	a.catalog = cat
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
