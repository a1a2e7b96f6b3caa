package config

import (
	"context"
	"os"
)

// EnvProvider reads configuration from the process environment. With a prefix
// set, PREFIX+KEY wins over KEY, so NLQ_DB_HOST can override a DB_HOST that
// other tooling in the same pod also reads.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider; prefix may be empty
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (e *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if e.prefix != "" {
		if value, ok := os.LookupEnv(e.prefix + key); ok && value != "" {
			return value, nil
		}
	}
	return os.Getenv(key), nil
}

func (e *EnvProvider) Name() string {
	return "env"
}

func (e *EnvProvider) IsAvailable(ctx context.Context) bool {
	return true
}
