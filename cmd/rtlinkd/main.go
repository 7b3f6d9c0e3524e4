// Package main implements rtlinkd, the rtlink node daemon. It loads a
// deployment configuration, creates the configured components and ports,
// wires the configured connections and serves metrics, health and the live
// event monitor until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/rtlink/config"
	"github.com/c360/rtlink/manager"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/monitor"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "rtlinkd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Platform.LogLevel, cfg.Platform.LogFormat, cfg.Platform.ID)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid",
			"components", len(cfg.Components),
			"connections", len(cfg.Connections))
		return nil
	}

	logger.Info("Starting rtlinkd", "build_time", BuildTime, "config_path", cliCfg.ConfigPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := metric.NewMetricsRegistry()
	mgr := manager.New(manager.OptionsFromConfig(cfg, logger, metrics))
	if err := mgr.Init(ctx); err != nil {
		return fmt.Errorf("init manager: %w", err)
	}

	if cliCfg.Publish {
		err := publishConfig(ctx, mgr, cfg)
		if shutdownErr := mgr.Shutdown(context.Background()); shutdownErr != nil {
			logger.Warn("Shutdown after publish failed", "error", shutdownErr)
		}
		return err
	}

	hub := monitor.NewHub(monitor.WithLogger(logger))
	if cfg.HTTP.Monitor {
		mgr.AddTap(hub.TapConnector)
	}

	if err := mgr.Deploy(ctx, cfg, relayHooks); err != nil {
		_ = mgr.Shutdown(context.Background())
		return fmt.Errorf("deploy: %w", err)
	}

	var server *metric.Server
	if cfg.HTTP.Addr != "" {
		server = metric.NewServer(cfg.HTTP.Addr, "/metrics", metrics)
		server.SetHealthCheck(mgr.Health)
		server.Handle("/health", healthHandler(mgr))
		if cfg.HTTP.Monitor {
			server.Handle("/events", hub)
		}
		if err := server.Start(); err != nil {
			_ = mgr.Shutdown(context.Background())
			return fmt.Errorf("start http server: %w", err)
		}
		logger.Info("HTTP server listening", "addr", server.Address(), "monitor", cfg.HTTP.Monitor)
	}

	logger.Info("rtlinkd started",
		"components", len(mgr.Components()),
		"connections", len(mgr.Connections()))

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	return shutdown(mgr, server, hub, cliCfg.ShutdownTimeout)
}

// loadConfig loads the config file and applies flag overrides
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.AddLayer(cliCfg.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Platform.LogLevel = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Platform.LogFormat = cliCfg.LogFormat
	}
	if cliCfg.MetricsPort > 0 {
		cfg.HTTP.Addr = fmt.Sprintf(":%d", cliCfg.MetricsPort)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func publishConfig(ctx context.Context, mgr *manager.Manager, cfg *config.Config) error {
	client := mgr.NATS()
	if client == nil {
		return fmt.Errorf("publish requires nats.urls in the configuration")
	}
	store, err := config.NewStore(ctx, client, "")
	if err != nil {
		return err
	}
	rev, err := store.Push(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("Configuration published", "platform", cfg.Platform.ID, "revision", rev)
	return nil
}

// shutdown stops the HTTP side first so no client observes a half torn down node
func shutdown(mgr *manager.Manager, server *metric.Server, hub *monitor.Hub, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if server != nil {
		if err := server.Stop(timeout); err != nil {
			slog.Warn("HTTP server stop failed", "error", err)
		}
	}
	_ = hub.Close()

	if err := mgr.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	slog.Info("rtlinkd shutdown complete")
	return nil
}
