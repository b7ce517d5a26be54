package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	NATSURL         string
	LogLevel        string
	LogFormat       string
	LogFile         string
	LogSubject      bool
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// envOverrides mirrors CLIConfig for the environment. Flags default to
// these values, so explicit flags always win over the environment.
type envOverrides struct {
	ConfigPath      string        `env:"TRITONCAN_CONFIG" envDefault:"configs/tritoncan.yaml"`
	NATSURL         string        `env:"TRITONCAN_NATS_URL" envDefault:"nats://localhost:4222"`
	LogLevel        string        `env:"TRITONCAN_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"TRITONCAN_LOG_FORMAT" envDefault:"json"`
	LogFile         string        `env:"TRITONCAN_LOG_FILE"`
	LogSubject      bool          `env:"TRITONCAN_LOG_SUBJECT"`
	MetricsPort     int           `env:"TRITONCAN_METRICS_PORT" envDefault:"9090"`
	ShutdownTimeout time.Duration `env:"TRITONCAN_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func parseFlags() (*CLIConfig, error) {
	var defaults envOverrides
	if err := env.Parse(&defaults); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config", defaults.ConfigPath,
		"Path to configuration file (env: TRITONCAN_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c", defaults.ConfigPath,
		"Path to configuration file (env: TRITONCAN_CONFIG)")

	flag.StringVar(&cfg.NATSURL, "nats-url", defaults.NATSURL,
		"NATS server URL (env: TRITONCAN_NATS_URL)")

	flag.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel,
		"Log level: debug, info, warn, error (env: TRITONCAN_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format", defaults.LogFormat,
		"Log format: json, text (env: TRITONCAN_LOG_FORMAT)")

	flag.StringVar(&cfg.LogFile, "log-file", defaults.LogFile,
		"Log file with rotation, empty for stdout (env: TRITONCAN_LOG_FILE)")

	flag.BoolVar(&cfg.LogSubject, "log-subject", defaults.LogSubject,
		"Also publish logs to the broker (env: TRITONCAN_LOG_SUBJECT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port", defaults.MetricsPort,
		"Prometheus metrics port, 0 to disable (env: TRITONCAN_METRICS_PORT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", defaults.ShutdownTimeout,
		"Graceful shutdown timeout (env: TRITONCAN_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - CAN to NATS bridge

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom config
  %s --config=/etc/tritoncan/bridge.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run with environment variables
  export TRITONCAN_CONFIG=/etc/tritoncan/bridge.yaml
  export TRITONCAN_LOG_LEVEL=debug
  %s

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
