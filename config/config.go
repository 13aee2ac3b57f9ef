// Package config loads and validates service configuration from the
// environment. An optional .env file is honored for local development;
// real deployments set variables directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/ratelimit"
)

// Config is the full service configuration.
type Config struct {
	Queue    QueueConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Rates    RateConfig
	Breaker  BreakerConfig
	Batch    BatchConfig
	Backends BackendConfig
	Metrics  MetricsConfig
}

// QueueConfig covers the dispatch queue connection and stream limits.
type QueueConfig struct {
	URL           string
	MaxReconnects int
	MessageTTL    time.Duration
	MaxLen        int64
	MaxDeliver    int
}

// RedisConfig covers the shared Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// CacheConfig covers the translation result cache.
type CacheConfig struct {
	TTL time.Duration
	// EncryptionKey, when non-empty, must be a 16, 24, or 32 byte value;
	// it enables sealing of cached translations.
	EncryptionKey string
	// MinConfidence gates caching: results scoring below it are not
	// stored.
	MinConfidence float64
}

// RateConfig is the per-class admission policy.
type RateConfig struct {
	Limits map[ratelimit.OperationClass]ratelimit.ClassLimit
	// UseRedis selects the shared fixed-window backend over in-process
	// token buckets.
	UseRedis bool
}

// BreakerConfig covers every circuit breaker in the service.
type BreakerConfig struct {
	ErrorRate    float64
	MinVolume    int
	ResetTimeout time.Duration
	CallTimeout  time.Duration
}

// BatchConfig covers the batch orchestrator.
type BatchConfig struct {
	MaxSize       int
	MaxConcurrent int
}

// BackendConfig locates the downstream translation and validation
// services. TranslatorLambda, when set, selects the Lambda backend over
// TranslatorURL.
type BackendConfig struct {
	TranslatorURL    string
	TranslatorLambda string
	ValidatorURL     string
	RequestTimeout   time.Duration
}

// MetricsConfig covers the exposition endpoint.
type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// Load reads configuration from the environment, applying defaults for
// everything unset. A .env file in the working directory is merged in
// without overriding already-set variables.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Queue: QueueConfig{
			URL:           envString("NATS_URL", "nats://localhost:4222"),
			MaxReconnects: envInt("QUEUE_MAX_RECONNECTS", 5),
			MessageTTL:    envDuration("QUEUE_MESSAGE_TTL", time.Hour),
			MaxLen:        int64(envInt("QUEUE_MAX_LEN", 100_000)),
			MaxDeliver:    envInt("QUEUE_MAX_DELIVER", 5),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", "localhost:6379"),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			PoolSize: envInt("REDIS_POOL_SIZE", 100),
		},
		Cache: CacheConfig{
			TTL:           envDuration("CACHE_TTL", time.Hour),
			EncryptionKey: envString("CACHE_ENCRYPTION_KEY", ""),
			MinConfidence: envFloat("MIN_CONFIDENCE", 0.85),
		},
		Rates: RateConfig{
			Limits:   rateLimits(),
			UseRedis: envBool("RATE_USE_REDIS", false),
		},
		Breaker: BreakerConfig{
			ErrorRate:    envFloat("BREAKER_ERROR_RATE", 0.5),
			MinVolume:    envInt("BREAKER_MIN_VOLUME", 10),
			ResetTimeout: envDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			CallTimeout:  envDuration("BREAKER_CALL_TIMEOUT", 10*time.Second),
		},
		Batch: BatchConfig{
			MaxSize:       envInt("BATCH_MAX_SIZE", 50),
			MaxConcurrent: envInt("BATCH_MAX_CONCURRENT", 10),
		},
		Backends: BackendConfig{
			TranslatorURL:    envString("TRANSLATOR_URL", ""),
			TranslatorLambda: envString("TRANSLATOR_LAMBDA", ""),
			ValidatorURL:     envString("VALIDATOR_URL", ""),
			RequestTimeout:   envDuration("BACKEND_REQUEST_TIMEOUT", 30*time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: envBool("METRICS_ENABLED", true),
			Port:    envInt("METRICS_PORT", 9090),
			Path:    envString("METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// rateLimits builds the per-class policy from RATE_<CLASS>_* variables,
// falling back to the stock limits.
func rateLimits() map[ratelimit.OperationClass]ratelimit.ClassLimit {
	limits := ratelimit.DefaultLimits()
	overrides := map[ratelimit.OperationClass]string{
		ratelimit.ClassSingleTranslate: "RATE_SINGLE_TRANSLATE",
		ratelimit.ClassBatchTranslate:  "RATE_BATCH_TRANSLATE",
		ratelimit.ClassSyncOperation:   "RATE_SYNC_OPERATION",
		ratelimit.ClassRead:            "RATE_READ",
	}
	for class, prefix := range overrides {
		lim := limits[class]
		lim.Limit = envInt(prefix+"_LIMIT", lim.Limit)
		lim.Window = envDuration(prefix+"_WINDOW", lim.Window)
		lim.Burst = envInt(prefix+"_BURST", lim.Burst)
		limits[class] = lim
	}
	return limits
}

// Validate checks cross-field consistency. All violations are collected
// so an operator can fix the whole configuration in one pass.
func (c *Config) Validate() error {
	var problems []string

	if c.Queue.URL == "" {
		problems = append(problems, "NATS_URL is required")
	}
	if c.Queue.MaxReconnects < 1 {
		problems = append(problems, "QUEUE_MAX_RECONNECTS must be at least 1")
	}
	if c.Queue.MaxDeliver < 1 {
		problems = append(problems, "QUEUE_MAX_DELIVER must be at least 1")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "REDIS_ADDR is required")
	}
	if c.Redis.PoolSize < 1 {
		problems = append(problems, "REDIS_POOL_SIZE must be at least 1")
	}
	if k := len(c.Cache.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		problems = append(problems, "CACHE_ENCRYPTION_KEY must be 16, 24, or 32 bytes")
	}
	if c.Cache.MinConfidence < 0 || c.Cache.MinConfidence > 1 {
		problems = append(problems, "MIN_CONFIDENCE must be between 0 and 1")
	}
	if c.Breaker.ErrorRate <= 0 || c.Breaker.ErrorRate > 1 {
		problems = append(problems, "BREAKER_ERROR_RATE must be in (0, 1]")
	}
	if c.Breaker.MinVolume < 1 {
		problems = append(problems, "BREAKER_MIN_VOLUME must be at least 1")
	}
	if c.Batch.MaxSize < 1 {
		problems = append(problems, "BATCH_MAX_SIZE must be at least 1")
	}
	if c.Batch.MaxConcurrent < 1 {
		problems = append(problems, "BATCH_MAX_CONCURRENT must be at least 1")
	}
	if c.Backends.TranslatorURL == "" && c.Backends.TranslatorLambda == "" {
		problems = append(problems, "one of TRANSLATOR_URL or TRANSLATOR_LAMBDA is required")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		problems = append(problems, "METRICS_PORT must be a valid port")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInput(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
		"config", "Validate", "check configuration")
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
