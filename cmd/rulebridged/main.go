// Package main implements the entry point for the rulebridge daemon:
// the request-orchestration core that admits, queues, validates, and
// translates security-detection rules between vendor formats.
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

	"github.com/redis/go-redis/v9"

	"github.com/rulebridge/rulebridge/cache"
	"github.com/rulebridge/rulebridge/config"
	"github.com/rulebridge/rulebridge/health"
	"github.com/rulebridge/rulebridge/metric"
	"github.com/rulebridge/rulebridge/pkg/breaker"
	"github.com/rulebridge/rulebridge/queue"
	"github.com/rulebridge/rulebridge/ratelimit"
	"github.com/rulebridge/rulebridge/remote"
	"github.com/rulebridge/rulebridge/service"
	"github.com/rulebridge/rulebridge/validation"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "rulebridged"
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

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting rulebridge (detection-rule translation orchestrator)",
		"version", Version,
		"build_time", BuildTime)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()

	gate, gateCleanup := setupGate(cfg, rdb, core)
	defer gateCleanup()

	guards := newGuards(cfg, core, logger)
	defer guards.close()

	store, err := setupCache(rdb, guards.cache, cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}

	dispatch := queue.NewDispatch(queue.Config{
		URL:           cfg.Queue.URL,
		MaxReconnects: cfg.Queue.MaxReconnects,
		MessageTTL:    cfg.Queue.MessageTTL,
		MaxLen:        cfg.Queue.MaxLen,
		MaxDeliver:    cfg.Queue.MaxDeliver,
	}, queue.WithDispatchLogger(logger), queue.WithDispatchMetrics(core))

	slog.Info("Connecting to NATS", "url", cfg.Queue.URL)
	if err := dispatch.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer dispatch.Close(context.Background())

	translator, err := setupTranslator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create translation backend: %w", err)
	}

	pipeline := validation.NewPipeline(
		setupValidator(cfg),
		guards.validator,
		validation.WithLogger(logger),
		validation.WithMetrics(core))

	svc := service.NewService(gate, pipeline, translator, guards.translator,
		service.WithCache(store),
		service.WithDispatch(dispatch),
		service.WithMinConfidence(cfg.Cache.MinConfidence),
		service.WithCacheTTL(cfg.Cache.TTL),
		service.WithCacheEncryption(cfg.Cache.EncryptionKey != ""),
		service.WithBatchLimits(cfg.Batch.MaxSize, cfg.Batch.MaxConcurrent),
		service.WithServiceLogger(logger),
		service.WithServiceMetrics(core),
		service.WithMetricsRegistry(registry))

	consumers, err := svc.StartConsumers(ctx, cliCfg.Workers)
	if err != nil {
		return fmt.Errorf("start consumers: %w", err)
	}
	defer func() {
		if err := consumers.Stop(); err != nil {
			slog.Warn("Consumer shutdown incomplete", "error", err)
		}
	}()

	monitor := setupHealth(dispatch, store, core)
	go monitor.Watch(ctx, cliCfg.HealthInterval)

	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				slog.Warn("Metrics server shutdown incomplete", "error", err)
			}
		}()
		slog.Info("Metrics exposition started", "addr", metricsServer.Address(), "path", cfg.Metrics.Path)
	}

	slog.Info("rulebridge ready", "workers", cliCfg.Workers)

	<-ctx.Done()
	slog.Info("Shutdown signal received", "timeout", cliCfg.ShutdownTimeout)

	// Deferred cleanups run inside this budget; a stuck dependency should
	// not hold the process hostage. The timer is never stopped because
	// the process exits normally before it fires.
	time.AfterFunc(cliCfg.ShutdownTimeout, func() {
		slog.Error("Graceful shutdown timed out, exiting hard")
		os.Exit(3)
	})

	return nil
}

// setupLogger builds the process-wide slog handler.
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// setupGate builds the admission gate on either the shared Redis
// fixed-window counter or in-process token buckets.
func setupGate(cfg *config.Config, rdb redis.UniversalClient, core *metric.Metrics) (*ratelimit.Gate, func()) {
	var counter ratelimit.Counter
	cleanup := func() {}

	if cfg.Rates.UseRedis {
		counter = ratelimit.NewRedisCounter(rdb)
	} else {
		local := ratelimit.NewLocalCounter(10 * time.Minute)
		counter = local
		cleanup = local.Close
	}

	gate := ratelimit.NewGate(counter,
		ratelimit.WithLimits(cfg.Rates.Limits),
		ratelimit.WithGateMetrics(core))
	return gate, cleanup
}

// guards bundles the per-dependency circuit breakers.
type guards struct {
	translator *breaker.Breaker
	validator  *breaker.Breaker
	cache      *breaker.Breaker
}

func newGuards(cfg *config.Config, core *metric.Metrics, logger *slog.Logger) *guards {
	mk := func(name string) *breaker.Breaker {
		return breaker.New(breaker.Config{
			Name:               name,
			ErrorRateThreshold: cfg.Breaker.ErrorRate,
			MinimumVolume:      cfg.Breaker.MinVolume,
			ResetTimeout:       cfg.Breaker.ResetTimeout,
			CallTimeout:        cfg.Breaker.CallTimeout,
			Logger:             slogBreakerLogger{logger.With("breaker", name)},
			Metrics:            core,
		})
	}
	return &guards{
		translator: mk("translator"),
		validator:  mk("validator"),
		cache:      mk("cache"),
	}
}

func (g *guards) close() {
	g.translator.Close()
	g.validator.Close()
	g.cache.Close()
}

// slogBreakerLogger adapts slog to the breaker's printf-style logger.
type slogBreakerLogger struct {
	l *slog.Logger
}

func (s slogBreakerLogger) Printf(format string, args ...any) {
	s.l.Info(fmt.Sprintf(format, args...))
}

func (s slogBreakerLogger) Errorf(format string, args ...any) {
	s.l.Error(fmt.Sprintf(format, args...))
}

func (s slogBreakerLogger) Debugf(format string, args ...any) {
	s.l.Debug(fmt.Sprintf(format, args...))
}

// setupCache builds the breaker-guarded Redis result cache.
func setupCache(rdb redis.UniversalClient, guard *breaker.Breaker, cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*cache.RedisCache, error) {
	opts := []cache.RedisOption{
		cache.WithCacheLogger(logger),
		cache.WithCacheMetrics(registry),
	}
	if cfg.Cache.EncryptionKey != "" {
		opts = append(opts, cache.WithEncryptionKey([]byte(cfg.Cache.EncryptionKey)))
	}
	return cache.NewRedisCache(rdb, guard, opts...)
}

// setupTranslator selects the Lambda backend when a function name is
// configured, otherwise the HTTP backend.
func setupTranslator(ctx context.Context, cfg *config.Config) (remote.TranslationBackend, error) {
	if cfg.Backends.TranslatorLambda != "" {
		return remote.NewLambdaTranslator(ctx, cfg.Backends.TranslatorLambda)
	}
	return remote.NewHTTPTranslator(cfg.Backends.TranslatorURL, cfg.Backends.RequestTimeout), nil
}

// setupValidator returns nil when no validator is configured; the
// pipeline then skips the remote stage.
func setupValidator(cfg *config.Config) remote.ValidationBackend {
	if cfg.Backends.ValidatorURL == "" {
		return nil
	}
	return remote.NewHTTPValidator(cfg.Backends.ValidatorURL, cfg.Backends.RequestTimeout)
}

// setupHealth registers dependency probes on the readiness monitor.
func setupHealth(dispatch *queue.Dispatch, store *cache.RedisCache, core *metric.Metrics) *health.Monitor {
	monitor := health.NewMonitor()
	monitor.SetRecorder(core)

	monitor.RegisterCheck("queue", func(context.Context) error {
		if !dispatch.IsConnected() {
			return fmt.Errorf("dispatch queue connection down")
		}
		return nil
	})
	monitor.RegisterCheck("cache", store.Ping)

	return monitor
}
