package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// SecretProvider resolves a configuration key to its value. An empty value
// with a nil error means the provider has nothing for that key.
type SecretProvider interface {
	GetSecret(ctx context.Context, key string) (string, error)

	// Name identifies the provider in logs; it never carries secret material
	Name() string

	IsAvailable(ctx context.Context) bool
}

// ChainProvider asks each available provider in turn and returns the first
// non-empty value. It remembers which provider answered each key so startup
// can log where configuration came from without logging the values.
type ChainProvider struct {
	providers []SecretProvider

	mu      sync.Mutex
	sources map[string]string
}

// NewChainProvider creates a chain that tries providers in order
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{
		providers: providers,
		sources:   make(map[string]string),
	}
}

// GetSecret returns the first non-empty value for key. Provider errors are
// skipped over and only reported when no provider produced a value.
func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	var failed []string
	tried := 0

	for _, provider := range c.providers {
		if !provider.IsAvailable(ctx) {
			continue
		}
		tried++

		value, err := provider.GetSecret(ctx, key)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", provider.Name(), err))
			continue
		}
		if value != "" {
			c.mu.Lock()
			c.sources[key] = provider.Name()
			c.mu.Unlock()
			return value, nil
		}
	}

	if len(failed) > 0 {
		return "", fmt.Errorf("no value for %s (%s)", key, strings.Join(failed, "; "))
	}
	if tried == 0 {
		return "", fmt.Errorf("no available provider for %s", key)
	}
	return "", nil
}

// Sources maps every key resolved so far to the provider that supplied it
func (c *ChainProvider) Sources() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.sources))
	for k, v := range c.sources {
		out[k] = v
	}
	return out
}

func (c *ChainProvider) Name() string {
	return "chain"
}

// IsAvailable reports whether any provider in the chain is available
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, provider := range c.providers {
		if provider.IsAvailable(ctx) {
			return true
		}
	}
	return false
}
