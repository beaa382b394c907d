// Package main is the entry point for the aihub gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/howard-nolan/aihub/internal/config"
	"github.com/howard-nolan/aihub/internal/logging"
	"github.com/howard-nolan/aihub/internal/metrics"
	"github.com/howard-nolan/aihub/internal/observability"
	"github.com/howard-nolan/aihub/internal/paramstore"
	"github.com/howard-nolan/aihub/internal/provider"
	"github.com/howard-nolan/aihub/internal/router"
	"github.com/howard-nolan/aihub/internal/server"
	"github.com/howard-nolan/aihub/internal/store"
)

func main() {
	configPath := flag.String("config", envOr("AIHUB_CONFIG", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("aihub exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := context.Background()

	// API keys of the form ssm:/path are fetched once, here, and never
	// again. Nothing talks to AWS unless a key asks for it.
	if cfg.NeedsSecrets() {
		params, err := paramstore.NewFromEnvironment(ctx, os.Getenv("AWS_REGION"))
		if err != nil {
			return err
		}
		if err := config.ResolveSecrets(ctx, cfg, params); err != nil {
			return err
		}
	}

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	deps := server.Deps{Logger: logger}

	if cfg.Storage.Driver != "" {
		st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		if cfg.Storage.PromptsFile != "" {
			prompts, err := store.LoadPromptsFile(cfg.Storage.PromptsFile)
			if err != nil {
				return err
			}
			added, err := st.SeedPrompts(ctx, prompts)
			if err != nil {
				return err
			}
			logger.Info("seeded prompts", "file", cfg.Storage.PromptsFile, "added", added, "total", len(prompts))
		}

		deps.Records = st
		logger.Info("record store ready", "driver", cfg.Storage.Driver)
	} else {
		logger.Info("record store disabled")
	}

	// Build the provider registry: one adapter per configured provider, all
	// sharing a single outbound HTTP client (and so a single connection
	// pool). The map key is the provider name, validated by config.Load.
	client := provider.NewHTTPClient(cfg.Upstream.Timeout)
	var adapters []provider.Provider
	for name, pc := range cfg.Providers {
		kind, err := provider.ParseKind(name)
		if err != nil {
			return err
		}
		if pc.APIKey == "" {
			logger.Warn("provider has no api key, requests to it will be rejected upstream", "provider", kind)
		}
		p, err := provider.New(kind, provider.Options{
			APIKey:      pc.APIKey,
			BaseURL:     pc.BaseURL,
			Model:       pc.Model,
			Client:      client,
			IdleTimeout: cfg.Upstream.IdleTimeout,
		})
		if err != nil {
			return err
		}
		adapters = append(adapters, p)
		logger.Info("registered provider", "provider", kind, "base_url", pc.BaseURL, "model", pc.Model)
	}
	deps.Registry = router.NewRegistry(adapters...)
	if len(adapters) == 0 {
		logger.Warn("no providers configured, every chat request will fail")
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	srv := server.New(cfg, deps)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     logging.StdLogger(logger, slog.LevelWarn),
	}

	// Handle graceful shutdown
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("aihub listening", "address", httpServer.Addr)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-idle
	logger.Info("server stopped gracefully")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
