package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation error(s):\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate performs comprehensive validation on the configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	// Validate Database config
	errors = append(errors, c.validateDatabase()...)

	// Validate Redis config
	errors = append(errors, c.validateRedis()...)

	// Validate Server config
	errors = append(errors, c.validateServer()...)

	errors = append(errors, c.validateCatalog()...)

	// Validate RateLimit config
	errors = append(errors, c.validateRateLimit()...)

	errors = append(errors, c.validateLineage()...)

	// Validate Executor config
	errors = append(errors, c.validateExecutor()...)

	if errors.HasErrors() {
		return errors
	}

	return nil
}

func (c *Config) validateDatabase() []ValidationError {
	var errors []ValidationError

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "Database.Host",
			Message: "database host is required",
		})
	}

	if c.Database.Port == "" {
		errors = append(errors, ValidationError{
			Field:   "Database.Port",
			Message: "database port is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "Database.Database",
			Message: "database name is required",
		})
	}

	if c.Database.Username == "" {
		errors = append(errors, ValidationError{
			Field:   "Database.Username",
			Message: "database username is required",
		})
	}

	switch c.Database.SSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		errors = append(errors, ValidationError{
			Field:   "Database.SSLMode",
			Message: fmt.Sprintf("invalid ssl mode: %s", c.Database.SSLMode),
		})
	}

	return errors
}

func (c *Config) validateRedis() []ValidationError {
	var errors []ValidationError

	if c.Redis.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "Redis.Addr",
			Message: "redis address is required",
		})
	}

	if c.Redis.DB < 0 {
		errors = append(errors, ValidationError{
			Field:   "Redis.DB",
			Message: "redis database index must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port == "" {
		errors = append(errors, ValidationError{
			Field:   "Server.Port",
			Message: "server port is required",
		})
	}

	// Validate GinMode
	validModes := []string{"debug", "release", "test"}
	isValid := false
	for _, mode := range validModes {
		if c.Server.GinMode == mode {
			isValid = true
			break
		}
	}
	if !isValid {
		errors = append(errors, ValidationError{
			Field:   "Server.GinMode",
			Message: fmt.Sprintf("invalid gin mode: %s (must be 'debug', 'release', or 'test')", c.Server.GinMode),
		})
	}

	if c.Server.ShutdownTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Server.ShutdownTimeout",
			Message: "shutdown timeout must be positive",
		})
	}

	return errors
}

func (c *Config) validateCatalog() []ValidationError {
	var errors []ValidationError

	if c.Catalog.DefaultRowLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Catalog.DefaultRowLimit",
			Message: "default row limit must be positive",
		})
	}

	return errors
}

func (c *Config) validateRateLimit() []ValidationError {
	var errors []ValidationError

	limits := []struct {
		field string
		value int
	}{
		{"RateLimit.Daily", c.RateLimit.Daily},
		{"RateLimit.Hourly", c.RateLimit.Hourly},
		{"RateLimit.Concurrent", c.RateLimit.Concurrent},
	}
	for _, limit := range limits {
		if limit.value < 0 {
			errors = append(errors, ValidationError{
				Field:   limit.field,
				Message: "limit must be non-negative (0 disables it)",
			})
		}
	}

	if c.RateLimit.Concurrent > 0 && c.RateLimit.ConcurrentTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "RateLimit.ConcurrentTTL",
			Message: "concurrent slot TTL must be positive when a concurrency limit is set",
		})
	}

	if c.RateLimit.KeyPrefix == "" {
		errors = append(errors, ValidationError{
			Field:   "RateLimit.KeyPrefix",
			Message: "rate limit key prefix is required",
		})
	}

	return errors
}

func (c *Config) validateLineage() []ValidationError {
	var errors []ValidationError

	if c.Lineage.ComplexityLow < 0 {
		errors = append(errors, ValidationError{
			Field:   "Lineage.ComplexityLow",
			Message: "complexity breakpoint must be non-negative",
		})
	}

	if c.Lineage.ComplexityMedium <= c.Lineage.ComplexityLow {
		errors = append(errors, ValidationError{
			Field:   "Lineage.ComplexityMedium",
			Message: fmt.Sprintf("medium breakpoint (%d) must be greater than low breakpoint (%d)", c.Lineage.ComplexityMedium, c.Lineage.ComplexityLow),
		})
	}

	if c.Lineage.CacheTTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "Lineage.CacheTTL",
			Message: "cache TTL must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if c.Executor.StatementTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Executor.StatementTimeout",
			Message: "statement timeout must be positive",
		})
	}

	if c.Executor.MaxRows <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Executor.MaxRows",
			Message: "max rows must be positive",
		})
	}

	if c.Executor.BreakerInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Executor.BreakerInterval",
			Message: "breaker interval must be positive",
		})
	}

	if c.Executor.BreakerTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Executor.BreakerTimeout",
			Message: "breaker timeout must be positive",
		})
	}

	if c.Executor.BreakerFailures <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Executor.BreakerFailures",
			Message: "breaker failure threshold must be positive",
		})
	}

	return errors
}

// ValidateProduction performs additional validation for production environments
// It checks for insecure default values that should not be used in production
func (c *Config) ValidateProduction() error {
	var errors ValidationErrors

	// Check for insecure database passwords
	if c.Database.Password == "" || c.Database.Password == "changeme" {
		errors = append(errors, ValidationError{
			Field:   "Database.Password",
			Message: "production deployment must not use default or empty database password",
		})
	}

	if c.Database.SSLMode == "disable" {
		errors = append(errors, ValidationError{
			Field:   "Database.SSLMode",
			Message: "production deployment should not disable TLS to postgres",
		})
	}

	// Check for insecure Redis passwords
	if c.Redis.Password == "" || c.Redis.Password == "changeme" {
		errors = append(errors, ValidationError{
			Field:   "Redis.Password",
			Message: "production deployment must not use default or empty Redis password",
		})
	}

	// Ensure Gin is in release mode for production
	if c.Server.GinMode != "release" {
		errors = append(errors, ValidationError{
			Field:   "Server.GinMode",
			Message: "production deployment should use 'release' mode",
		})
	}

	// An unlimited tenant can exhaust the analytics database
	if c.RateLimit.Daily == 0 && c.RateLimit.Hourly == 0 && c.RateLimit.Concurrent == 0 {
		errors = append(errors, ValidationError{
			Field:   "RateLimit",
			Message: "production deployment should enforce at least one rate limit",
		})
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// IsProduction determines if the current environment is production
// based on the GinMode setting
func (c *Config) IsProduction() bool {
	return c.Server.GinMode == "release"
}

// ValidateWithContext validates configuration and runs production checks if appropriate
func (c *Config) ValidateWithContext() error {
	// Always run basic validation
	if err := c.Validate(); err != nil {
		return err
	}

	// Run production validation if in production mode
	if c.IsProduction() {
		if err := c.ValidateProduction(); err != nil {
			return fmt.Errorf("production validation failed: %w", err)
		}
	}

	return nil
}
