// Package main implements the entry point for the TritonCAN bridge.
// TritonCAN connects CAN bus channels to NATS: frames decoded through a
// DBC schema are published as JSON envelopes, and published payloads are
// encoded back onto the bus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/evm100/TritonCAN/bridge"
	"github.com/evm100/TritonCAN/component"
	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/metric"
	"github.com/evm100/TritonCAN/natsbridge"
	"github.com/evm100/TritonCAN/natsclient"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "tritoncan"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid",
			"channels", len(cfg.Channels), "path", cfg.Path)
		return nil
	}

	ctx := context.Background()

	natsClient, metricsRegistry, err := setupInfrastructure(ctx, cliCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(ctx) }()

	metricsServer := startMetricsServer(cliCfg, metricsRegistry)
	if metricsServer != nil {
		defer stopMetricsServer(metricsServer)
	}

	b, err := bridge.New(bridge.Deps{
		Config:          cfg,
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
	})
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	// Bindings must attach before Start; services reject registration
	// once their receive loop is running.
	attachment, err := natsbridge.Attach(b, natsClient, natsbridge.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("attach messaging: %w", err)
	}
	defer func() { _ = attachment.Close() }()

	return runWithSignalHandling(ctx, b, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags()
	if err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat, cliCfg.LogFile)
	slog.SetDefault(logger)

	slog.Info("Starting TritonCAN bridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// setupInfrastructure creates the NATS client and metrics registry and
// establishes the broker connection.
func setupInfrastructure(
	ctx context.Context,
	cliCfg *CLIConfig,
	logger *slog.Logger,
) (*natsclient.Client, *metric.MetricsRegistry, error) {
	metricsRegistry := metric.NewMetricsRegistry()

	natsClient, err := natsclient.NewClient(cliCfg.NATSURL,
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metricsRegistry.CoreMetrics()))
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cliCfg.NATSURL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	// Shipping logs to the broker rides on the same connection, so it
	// can only be wired after Connect.
	if cliCfg.LogSubject {
		slog.SetDefault(withNATSLogging(logger, natsClient, cliCfg.LogLevel))
	}

	return natsClient, metricsRegistry, nil
}

func startMetricsServer(cliCfg *CLIConfig, registry *metric.MetricsRegistry) *metric.Server {
	if cliCfg.MetricsPort == 0 {
		slog.Info("Metrics server disabled")
		return nil
	}

	server := metric.NewServer(cliCfg.MetricsPort, "/metrics", registry)
	if err := server.Start(); err != nil {
		slog.Error("Metrics server failed to start", "port", cliCfg.MetricsPort, "error", err)
		return nil
	}

	slog.Info("Metrics server started", "port", cliCfg.MetricsPort)
	return server
}

func stopMetricsServer(server *metric.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		slog.Warn("Metrics server stop failed", "error", err)
	}
}

// runWithSignalHandling starts the bridge and blocks until SIGINT or
// SIGTERM, then stops it within the shutdown timeout.
func runWithSignalHandling(ctx context.Context, b *bridge.Bridge, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := b.Start(signalCtx); err != nil {
		// A channel that cannot open its bus is fatal for that channel
		// only. Give up only when nothing came up at all.
		if runningChannels(b) == 0 {
			return fmt.Errorf("start bridge: %w", err)
		}
		slog.Error("Some channels failed to start", "error", err)
	}
	slog.Info("TritonCAN started", "channels", b.Names())

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := b.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("TritonCAN shutdown complete")
	return nil
}

func runningChannels(b *bridge.Bridge) int {
	n := 0
	for _, name := range b.Names() {
		if svc, ok := b.Channel(name); ok && svc.State() == component.StateRunning {
			n++
		}
	}
	return n
}
