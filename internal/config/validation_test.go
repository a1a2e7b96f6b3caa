package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			Database: "analytics_nlq",
			Username: "nlq",
			Password: "testpass",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Server: ServerConfig{
			Port:            "8080",
			GinMode:         "debug",
			ShutdownTimeout: 15 * time.Second,
		},
		Catalog: CatalogConfig{
			DefaultRowLimit: 1000,
		},
		RateLimit: RateLimitConfig{
			Daily:         1000,
			Hourly:        100,
			Concurrent:    5,
			ConcurrentTTL: time.Hour,
			KeyPrefix:     "ratelimit",
		},
		Lineage: LineageConfig{
			Persist:          true,
			ComplexityLow:    2,
			ComplexityMedium: 8,
			CacheTTL:         24 * time.Hour,
		},
		Executor: ExecutorConfig{
			StatementTimeout: 30 * time.Second,
			MaxRows:          10000,
			BreakerInterval:  10 * time.Second,
			BreakerTimeout:   30 * time.Second,
			BreakerFailures:  5,
		},
		LogLevel: "info",
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("valid config passes validation", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Errorf("expected no validation errors, got: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing database host", func(c *Config) { c.Database.Host = "" }, "Database.Host"},
		{"unknown ssl mode", func(c *Config) { c.Database.SSLMode = "sometimes" }, "Database.SSLMode"},
		{"missing redis address", func(c *Config) { c.Redis.Addr = "" }, "Redis.Addr"},
		{"negative redis db", func(c *Config) { c.Redis.DB = -1 }, "Redis.DB"},
		{"invalid gin mode", func(c *Config) { c.Server.GinMode = "production" }, "Server.GinMode"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "Server.ShutdownTimeout"},
		{"zero row limit", func(c *Config) { c.Catalog.DefaultRowLimit = 0 }, "Catalog.DefaultRowLimit"},
		{"negative daily limit", func(c *Config) { c.RateLimit.Daily = -1 }, "RateLimit.Daily"},
		{"negative concurrent limit", func(c *Config) { c.RateLimit.Concurrent = -3 }, "RateLimit.Concurrent"},
		{"concurrency limit without slot TTL", func(c *Config) { c.RateLimit.ConcurrentTTL = 0 }, "RateLimit.ConcurrentTTL"},
		{"missing key prefix", func(c *Config) { c.RateLimit.KeyPrefix = "" }, "RateLimit.KeyPrefix"},
		{"inverted complexity breakpoints", func(c *Config) { c.Lineage.ComplexityMedium = 2 }, "Lineage.ComplexityMedium"},
		{"negative lineage cache TTL", func(c *Config) { c.Lineage.CacheTTL = -time.Second }, "Lineage.CacheTTL"},
		{"zero statement timeout", func(c *Config) { c.Executor.StatementTimeout = 0 }, "Executor.StatementTimeout"},
		{"zero max rows", func(c *Config) { c.Executor.MaxRows = 0 }, "Executor.MaxRows"},
		{"zero breaker failures", func(c *Config) { c.Executor.BreakerFailures = 0 }, "Executor.BreakerFailures"},
	}

	for _, tt := range tests {
		t.Run(tt.name+" fails validation", func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error about %s, got: %v", tt.field, err)
			}
		})
	}

	t.Run("disabled limits are valid without a slot TTL", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.Concurrent = 0
		cfg.RateLimit.ConcurrentTTL = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no validation errors, got: %v", err)
		}
	})

	t.Run("collects every error", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Host = ""
		cfg.Redis.Addr = ""
		cfg.Executor.MaxRows = 0

		err := cfg.Validate()
		errs, ok := err.(ValidationErrors)
		if !ok {
			t.Fatalf("expected ValidationErrors, got %T", err)
		}
		if len(errs) != 3 {
			t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
		}
		if !strings.Contains(err.Error(), "3 validation error(s)") {
			t.Errorf("unexpected error message: %v", err)
		}
	})
}

func productionConfig() *Config {
	cfg := validConfig()
	cfg.Database.Password = "secure-random-password-123"
	cfg.Database.SSLMode = "require"
	cfg.Redis.Password = "secure-redis-password"
	cfg.Server.GinMode = "release"
	return cfg
}

func TestProductionValidation(t *testing.T) {
	t.Run("production config with secure values passes", func(t *testing.T) {
		if err := productionConfig().ValidateProduction(); err != nil {
			t.Errorf("expected no production validation errors, got: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"default database password", func(c *Config) { c.Database.Password = "changeme" }, "Database.Password"},
		{"empty database password", func(c *Config) { c.Database.Password = "" }, "Database.Password"},
		{"tls disabled", func(c *Config) { c.Database.SSLMode = "disable" }, "Database.SSLMode"},
		{"empty redis password", func(c *Config) { c.Redis.Password = "" }, "Redis.Password"},
		{"debug gin mode", func(c *Config) { c.Server.GinMode = "debug" }, "Server.GinMode"},
		{"no rate limits", func(c *Config) {
			c.RateLimit.Daily = 0
			c.RateLimit.Hourly = 0
			c.RateLimit.Concurrent = 0
		}, "RateLimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name+" fails production validation", func(t *testing.T) {
			cfg := productionConfig()
			tt.mutate(cfg)

			err := cfg.ValidateProduction()
			if err == nil {
				t.Fatalf("expected production validation error for %s", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error about %s, got: %v", tt.field, err)
			}
		})
	}
}

func TestValidateWithContext(t *testing.T) {
	t.Run("debug mode skips production checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Password = ""
		if err := cfg.ValidateWithContext(); err != nil {
			t.Errorf("expected no errors outside production, got: %v", err)
		}
	})

	t.Run("release mode runs production checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.GinMode = "release"

		err := cfg.ValidateWithContext()
		if err == nil {
			t.Fatal("expected production validation failure")
		}
		if !strings.Contains(err.Error(), "production validation failed") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		name     string
		ginMode  string
		expected bool
	}{
		{"release mode is production", "release", true},
		{"debug mode is not production", "debug", false},
		{"test mode is not production", "test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server: ServerConfig{
					GinMode: tt.ginMode,
				},
			}

			if cfg.IsProduction() != tt.expected {
				t.Errorf("expected IsProduction() = %v, got %v", tt.expected, cfg.IsProduction())
			}
		})
	}
}
