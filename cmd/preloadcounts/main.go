package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"preloadcounts/internal/cliapp"
	"preloadcounts/internal/config"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("preloadcounts error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("preloadcounts", pflag.ContinueOnError)
	fs.Bool("version", false, "Print version and exit")
	entity := fs.String("entity", "", "Model whose rows are loaded")
	relationships := fs.StringSlice("preload", nil, "Relationship whose counts are preloaded (repeatable; default: all declared)")
	limit := fs.Uint64("limit", 0, "Maximum rows to load (0 loads all)")
	explain := fs.Bool("explain", false, "Print the preload query instead of running it")
	config.DefineFlags(fs)

	cfg, err := config.Load(fs, args)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "preloadcounts %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	if *entity == "" {
		return fmt.Errorf("--entity is required")
	}

	logger, loggerProvider, err := cliapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	// Explain only renders SQL, so it never opens a connection.
	app, err := cliapp.New(cfg, logger, cliapp.Options{Offline: *explain})
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
	}()

	if err := app.Init(ctx); err != nil {
		return err
	}

	return app.Run(ctx, cliapp.RunOptions{
		Entity:        *entity,
		Relationships: *relationships,
		Limit:         *limit,
		Explain:       *explain,
		Out:           stdout,
	})
}
