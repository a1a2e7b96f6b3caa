package quota

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value    int64
	expireAt time.Time
}

// MemoryStore is a single-process Store with an injectable clock.
// It serves tests and deployments without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the clock used for expiry
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// live returns the entry for key, dropping it if expired. Caller holds mu.
func (s *MemoryStore) live(key string) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// Increment adds one to every counter under a single lock
func (s *MemoryStore) Increment(ctx context.Context, counters ...Counter) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]int64, len(counters))
	for i, c := range counters {
		e := s.live(c.Key)
		if e == nil {
			e = &memoryEntry{}
			s.entries[c.Key] = e
		}
		e.value++
		e.expireAt = c.ExpireAt
		values[i] = e.value
	}
	return values, nil
}

// Decrement lowers every key by one, floored at zero
func (s *MemoryStore) Decrement(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if e := s.live(key); e != nil && e.value > 0 {
			e.value--
		}
	}
	return nil
}

// Get reads the current values
func (s *MemoryStore) Get(ctx context.Context, keys ...string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]int64, len(keys))
	for i, key := range keys {
		if e := s.live(key); e != nil {
			values[i] = e.value
		}
	}
	return values, nil
}

// Set overwrites a counter, for seeding state in tests
func (s *MemoryStore) Set(key string, value int64, expireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{value: value, expireAt: expireAt}
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
