// Package main is the entry point for the pulse binary.
// It provides a CLI for running the telemetry pipeline server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/observa/pulse/pkg/config"
	"github.com/observa/pulse/pkg/logging"
	"github.com/observa/pulse/pkg/pipeline"
	"github.com/observa/pulse/pkg/telemetry"
)

const (
	defaultListen   = ":8090"
	defaultLogLevel = "info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for pulse
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Bounded in-memory telemetry pipeline",
		Long: `A telemetry pipeline that captures structured debug events and request
traces in bounded in-memory buffers, fans them out to live subscribers, and
exports batches to external observability back ends.

Example:
  pulse --config /etc/pulse/pulse.yaml --listen :8090`,
		RunE: runPipeline,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("listen", "a", "", "Listen address, overrides config file")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

// buildConfig loads the config file and applies flag overrides.
func buildConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}
	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get listen flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, "", err
		}
	}

	// CLI flags override config file values
	if listen != "" {
		cfg.Listen = listen
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	return cfg, configPath, nil
}

// runPipeline is the main entry point for the pulse command
func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("Failed to set up tracing", "error", err)
		return err
	}

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to build pipeline", "error", err)
		return err
	}

	logger.Info("Starting pulse",
		"listen", cfg.Listen,
		"destinations", len(cfg.Destinations),
		"log_level", cfg.Logging.Level,
	)

	// SIGHUP reloads destination config; the fsnotify watcher covers file
	// edits in between.
	reload := func(path string) error {
		next, err := config.Load(path)
		if err != nil {
			return err
		}
		return p.ReloadDestinations(next.Destinations)
	}

	var watcher *config.DestinationWatcher
	if configPath != "" {
		watcher, err = config.NewDestinationWatcher(configPath, reload, logger)
		if err != nil {
			logger.Error("Failed to create destination watcher", "error", err)
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			logger.Error("Failed to start destination watcher", "error", err)
			return err
		}
		defer func() { _ = watcher.Stop() }()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sighupChan := make(chan os.Signal, 1)
	signal.Notify(sighupChan, syscall.SIGHUP)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				logger.Info("Received shutdown signal", "signal", sig.String())
				cancel()
				return
			case <-sighupChan:
				if configPath == "" {
					logger.Info("Received SIGHUP, no config file to reload")
					continue
				}
				logger.Info("Received SIGHUP, reloading destinations")
				if err := reload(configPath); err != nil {
					logger.Error("Destination reload failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := p.Start(ctx)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Pipeline error", "error", err)
			return err
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := p.Stop(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Error flushing traces", "error", err)
		}
	}

	logger.Info("Pulse stopped")
	return nil
}
