package lineage

import (
	"context"

	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/seanankenbruck/analytics-nlq/internal/observability"
)

// CachedStore reads through a RedisCache in front of a durable Store.
// Cache failures are logged and never fail the call.
type CachedStore struct {
	store  Store
	cache  *RedisCache
	logger *observability.Logger
}

// NewCachedStore wraps store with cache
func NewCachedStore(store Store, cache *RedisCache) *CachedStore {
	return &CachedStore{
		store:  store,
		cache:  cache,
		logger: observability.NewLogger("lineage"),
	}
}

// WithLogger replaces the store's logger
func (s *CachedStore) WithLogger(logger *observability.Logger) *CachedStore {
	s.logger = logger
	return s
}

func (s *CachedStore) cacheError(ctx context.Context, code errors.ErrorCode, err error, queryID string) {
	observability.GetGlobalMetrics().Inc(observability.MetricLineageStoreErrors, map[string]string{"code": string(code)})
	s.logger.Warn(ctx, "Lineage cache unavailable", map[string]interface{}{
		"query_id": queryID,
		"code":     string(code),
		"error":    err.Error(),
	})
}

// Save writes to the durable store, then warms the cache
func (s *CachedStore) Save(ctx context.Context, g *Graph) error {
	if err := s.store.Save(ctx, g); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, g); err != nil {
		s.cacheError(ctx, errors.ErrCodeCacheWrite, err, g.Metadata.QueryID)
	}
	return nil
}

// Get serves from the cache when possible
func (s *CachedStore) Get(ctx context.Context, tenantID, queryID string) (*Graph, error) {
	g, ok, err := s.cache.Get(ctx, tenantID, queryID)
	if err != nil {
		s.cacheError(ctx, errors.ErrCodeCacheRead, err, queryID)
	}
	if ok {
		return g, nil
	}

	g, err = s.store.Get(ctx, tenantID, queryID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, g); err != nil {
		s.cacheError(ctx, errors.ErrCodeCacheWrite, err, queryID)
	}
	return g, nil
}

// List always reads the durable store
func (s *CachedStore) List(ctx context.Context, tenantID string, limit int) ([]*Graph, error) {
	return s.store.List(ctx, tenantID, limit)
}
