package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	LogLevel        string
	LogFormat       string
	Workers         int
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("RULEBRIDGE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: RULEBRIDGE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RULEBRIDGE_LOG_FORMAT", "json"),
		"Log format: json, text (env: RULEBRIDGE_LOG_FORMAT)")

	flag.IntVar(&cfg.Workers, "workers",
		getEnvInt("RULEBRIDGE_WORKERS", 8),
		"Queue consumer worker count (env: RULEBRIDGE_WORKERS)")

	flag.DurationVar(&cfg.HealthInterval, "health-interval",
		getEnvDuration("RULEBRIDGE_HEALTH_INTERVAL", 15*time.Second),
		"Dependency health probe interval (env: RULEBRIDGE_HEALTH_INTERVAL)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("RULEBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: RULEBRIDGE_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}

	return nil
}

func printHelp() {
	fmt.Printf(`%s — detection-rule translation orchestrator

Usage: %s [flags]

Flags:
`, appName, appName)
	flag.PrintDefaults()
	fmt.Println(`
Configuration is read from the environment (see config package docs);
a .env file in the working directory is merged in.`)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
