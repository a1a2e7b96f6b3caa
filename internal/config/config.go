package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Server configuration
	Server ServerConfig

	// Template catalog configuration
	Catalog CatalogConfig

	// Per-tenant quota configuration
	RateLimit RateLimitConfig

	// Lineage recording configuration
	Lineage LineageConfig

	// Analytics database executor configuration
	Executor ExecutorConfig

	LogLevel string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	GinMode         string
	ShutdownTimeout time.Duration
	TrustedProxies  []string
}

// CatalogConfig selects the metric template catalog. An empty Path uses the
// built-in templates.
type CatalogConfig struct {
	Path            string
	DefaultRowLimit int
}

// RateLimitConfig holds default per-tenant limits. A zero limit disables that dimension.
type RateLimitConfig struct {
	Daily         int
	Hourly        int
	Concurrent    int
	ConcurrentTTL time.Duration
	KeyPrefix     string
}

// LineageConfig holds complexity breakpoints and cache settings
type LineageConfig struct {
	// Persist graphs to postgres; when false lineage is still built per response
	Persist          bool
	ComplexityLow    int
	ComplexityMedium int
	CacheTTL         time.Duration
}

// ExecutorConfig bounds queries sent to the analytics database
type ExecutorConfig struct {
	StatementTimeout time.Duration
	MaxRows          int
	BreakerInterval  time.Duration
	BreakerTimeout   time.Duration
	BreakerFailures  int
}

// Loader handles loading configuration from various sources
type Loader struct {
	provider SecretProvider
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{
		provider: provider,
	}
}

// DefaultSecretsDir is where the deployment mounts secret volumes. It can be
// moved with NLQ_SECRETS_DIR.
const DefaultSecretsDir = "/var/run/secrets/nlq"

// EnvPrefix marks service-specific overrides of shared environment variables
const EnvPrefix = "NLQ_"

// NewDefaultLoader creates a loader that reads mounted database and Redis
// secrets first and falls back to the environment.
func NewDefaultLoader() *Loader {
	root := os.Getenv(EnvPrefix + "SECRETS_DIR")
	if root == "" {
		root = DefaultSecretsDir
	}

	return &Loader{
		provider: NewChainProvider(
			NewFileProvider(DefaultSecretMounts(root)...),
			NewEnvProvider(EnvPrefix),
		),
	}
}

// Sources reports which provider supplied each key read so far. It is empty
// unless the loader was built over a ChainProvider.
func (l *Loader) Sources() map[string]string {
	if chain, ok := l.provider.(*ChainProvider); ok {
		return chain.Sources()
	}
	return map[string]string{}
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	// Load Database config
	cfg.Database = DatabaseConfig{
		Host:     l.getString(ctx, "DB_HOST", "localhost"),
		Port:     l.getString(ctx, "DB_PORT", "5432"),
		Database: l.getString(ctx, "DB_NAME", "analytics_nlq"),
		Username: l.getString(ctx, "DB_USER", "nlq"),
		Password: l.getString(ctx, "DB_PASSWORD", ""),
		SSLMode:  l.getString(ctx, "DB_SSLMODE", "disable"),
	}

	// Load Redis config
	cfg.Redis = RedisConfig{
		Addr:     l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password: l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:       l.getInt(ctx, "REDIS_DB", 0),
	}

	// Load Server config
	cfg.Server = ServerConfig{
		Port:            l.getString(ctx, "PORT", "8080"),
		GinMode:         l.getString(ctx, "GIN_MODE", "debug"),
		ShutdownTimeout: l.getDuration(ctx, "SHUTDOWN_TIMEOUT", 15*time.Second),
		TrustedProxies:  l.getSlice(ctx, "TRUSTED_PROXIES", []string{}),
	}

	cfg.Catalog = CatalogConfig{
		Path:            l.getString(ctx, "CATALOG_PATH", ""),
		DefaultRowLimit: l.getInt(ctx, "DEFAULT_ROW_LIMIT", 1000),
	}

	// Load RateLimit config
	cfg.RateLimit = RateLimitConfig{
		Daily:         l.getInt(ctx, "RATE_LIMIT_DAILY", 1000),
		Hourly:        l.getInt(ctx, "RATE_LIMIT_HOURLY", 100),
		Concurrent:    l.getInt(ctx, "RATE_LIMIT_CONCURRENT", 5),
		ConcurrentTTL: l.getDuration(ctx, "RATE_LIMIT_CONCURRENT_TTL", time.Hour),
		KeyPrefix:     l.getString(ctx, "RATE_LIMIT_KEY_PREFIX", "ratelimit"),
	}

	cfg.Lineage = LineageConfig{
		Persist:          l.getBool(ctx, "LINEAGE_PERSIST", true),
		ComplexityLow:    l.getInt(ctx, "LINEAGE_COMPLEXITY_LOW", 2),
		ComplexityMedium: l.getInt(ctx, "LINEAGE_COMPLEXITY_MEDIUM", 8),
		CacheTTL:         l.getDuration(ctx, "LINEAGE_CACHE_TTL", 24*time.Hour),
	}

	// Load Executor config
	cfg.Executor = ExecutorConfig{
		StatementTimeout: l.getDuration(ctx, "EXECUTOR_STATEMENT_TIMEOUT", 30*time.Second),
		MaxRows:          l.getInt(ctx, "EXECUTOR_MAX_ROWS", 10000),
		BreakerInterval:  l.getDuration(ctx, "EXECUTOR_BREAKER_INTERVAL", 10*time.Second),
		BreakerTimeout:   l.getDuration(ctx, "EXECUTOR_BREAKER_TIMEOUT", 30*time.Second),
		BreakerFailures:  l.getInt(ctx, "EXECUTOR_BREAKER_FAILURES", 5),
	}

	cfg.LogLevel = l.getString(ctx, "LOG_LEVEL", "info")

	return cfg, nil
}

// Helper methods for retrieving and parsing configuration values

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func (l *Loader) getSlice(ctx context.Context, key string, defaultValue []string) []string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	// Split by comma and trim whitespace
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// MustLoad loads configuration and panics on error
// Useful for application startup
func (l *Loader) MustLoad(ctx context.Context) *Config {
	cfg, err := l.Load(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
