package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/nfs4cb/internal/logger"
	"github.com/marmos91/nfs4cb/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Load configuration, wire the callback engine, and serve metrics",
	Long: `Start loads nfs4cbd's configuration, applies the callback tuning
to the engine's package-level knobs, and (if enabled) serves Prometheus
metrics over HTTP until interrupted.

This binary does not itself accept NFS connections: the callback
engine is a library a forward-path NFSv4 server drives directly
(RunCB, ProbeCallback, ChangeCallback, ShutdownCallback). Start exists
to demonstrate the config-to-engine wiring and host the metrics
registry a real server would expose alongside its own endpoints.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := initLogger(cfg); err != nil {
		return err
	}

	cfg.ApplyToEngine()
	logger.Info("Callback engine tuning applied",
		"max_slots", cfg.Callback.MaxSlots,
		"max_retries", cfg.Callback.MaxRetries,
		"min_timeout", cfg.Callback.MinTimeout,
		"delay_retry_interval", cfg.Callback.DelayRetryInterval)

	var metricsSrv *http.Server
	serveErr := make(chan error, 1)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}

		go func() {
			logger.Info("Metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErr <- err
			}
		}()
	} else {
		logger.Info("Metrics collection disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("nfs4cbd is running. Press Ctrl+C to stop.")
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		signal.Stop(sigChan)
		logger.Error("Metrics server failed", "error", err)
		return fmt.Errorf("metrics server: %w", err)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	}

	return nil
}

func initLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
