package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ellachat/ella/config"
	"github.com/ellachat/ella/pkg/api"
	"github.com/ellachat/ella/pkg/companion"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/metrics"
	"github.com/ellachat/ella/pkg/telemetry/tracing"
	"github.com/ellachat/ella/pkg/version"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags.configPath, cfg)
		},
	}
}

func runServe(ctx context.Context, configPath string, cfg *config.Config) error {
	if cfg.App.Version == "dev" {
		cfg.App.Version = version.Version
	}
	log := newLogger(cfg)

	log.Info("Starting Ella",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.ServiceFromConfig(cfg.App), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	metricsManager := metrics.NewManager(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	})

	svc, err := companion.Build(ctx, cfg, log, metricsManager)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return fmt.Errorf("build companion: %w", err)
	}
	metricsManager.WatchStats(svc)

	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	handlers := api.NewHandlers(cfg, log, svc, metricsManager)
	if metricsManager.Enabled() {
		handlers.Metrics = metricsManager
	}
	httpServer := api.NewHTTPServer(cfg, log, handlers)

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = startWatcher(ctx, configPath, cfg, log, svc)
		if err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	log.Info("Ella is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case runErr = <-serverErr:
		if runErr != nil {
			log.Error("HTTP server error", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, runErr)
	if watcher != nil {
		errs = append(errs, watcher.Stop())
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	log.Info("Draining memory writes", "pending", svc.PendingWrites())
	if err := svc.Close(); err != nil {
		log.Error("Error closing companion", "error", err)
		errs = append(errs, err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
		errs = append(errs, err)
	}

	log.Info("Ella stopped gracefully")
	return errors.Join(errs...)
}

// startWatcher applies log level and generation settings whenever the config
// file changes. Other settings need a restart.
func startWatcher(ctx context.Context, path string, cfg *config.Config, log logger.Logger, svc *companion.Service) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(path, config.NewLoader(), config.WithLogger(log))
	if err != nil {
		return nil, err
	}

	current := config.ExtractHotReloadable(cfg)
	watcher.OnChange(func(next *config.Config) {
		hot := config.ExtractHotReloadable(next)
		if !current.Changed(hot) {
			return
		}
		if hot.LogLevel != current.LogLevel {
			log.SetLevel(logger.ParseLevel(hot.LogLevel))
		}
		if err := svc.ApplyHotReload(ctx, hot); err != nil {
			log.Warn("Rejected reloaded settings", "error", err)
			return
		}
		log.Info("Configuration reloaded", "model", hot.Model, "temperature", hot.Temperature, "log_level", hot.LogLevel)
		current = hot
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()
	return watcher, nil
}
