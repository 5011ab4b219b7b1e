package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"asamblea/internal/app"
	"asamblea/internal/backend"
	"asamblea/internal/cache"
	"asamblea/internal/config"
	"asamblea/internal/domain"
	"asamblea/internal/metrics"
	httpTransport "asamblea/internal/transport/http"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "asamblea",
		Short:         "Live voting session coordinator for condominium assemblies",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	return cmd
}

func run(cfg *config.Config) error {
	// Set up logger
	var logger *slog.Logger
	logOpts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, logOpts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, logOpts))
	}

	slog.SetDefault(logger)

	logger.Info("starting assembly session server",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"backend", cfg.Backend.BaseURL,
	)

	// Open local cache
	store, err := cache.Open(cache.Config{
		Path:     cfg.Cache.Dir,
		InMemory: cfg.Cache.InMemory,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		return err
	}
	defer store.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	factory := func(identity domain.Identity) backend.Backend {
		return backend.NewClient(cfg.Backend.BaseURL,
			backend.WithTimeout(cfg.Backend.Timeout),
			backend.WithTokenSource(backend.StaticToken(cfg.Backend.Token)),
			backend.WithIdentity(identity),
			backend.WithLogger(logger),
		)
	}

	// Create session hub
	hub := app.NewSessionHub(app.HubConfig{
		TickInterval:    cfg.Session.TickInterval,
		RefreshInterval: cfg.Session.RefreshInterval,
		StaleTimeout:    cfg.Session.StaleTimeout,
	}, factory, store, logger, m)
	defer hub.Close()

	// Create HTTP server
	server := httpTransport.NewServer(cfg, hub, reg, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
