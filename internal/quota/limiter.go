package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/seanankenbruck/analytics-nlq/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Dimension names one of the three independent quota windows
type Dimension string

const (
	DimensionDaily      Dimension = "daily"
	DimensionHourly     Dimension = "hourly"
	DimensionConcurrent Dimension = "concurrent"
)

// Limits are the per-tenant thresholds. A non-positive value disables that dimension.
type Limits struct {
	Daily      int `json:"daily"`
	Hourly     int `json:"hourly"`
	Concurrent int `json:"concurrent"`
}

// Config controls limiter behaviour
type Config struct {
	Limits Limits

	// ConcurrentTTL bounds how long a leaked concurrency slot survives in the store
	ConcurrentTTL time.Duration

	// ConcurrentRetryAfter is the retry hint given when only the concurrency limit is hit
	ConcurrentRetryAfter time.Duration

	// ReleaseTimeout bounds the store call made when a slot is released
	ReleaseTimeout time.Duration

	KeyPrefix string
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Limits:               Limits{Daily: 1000, Hourly: 100, Concurrent: 5},
		ConcurrentTTL:        time.Hour,
		ConcurrentRetryAfter: 5 * time.Second,
		ReleaseTimeout:       2 * time.Second,
		KeyPrefix:            "ratelimit",
	}
}

// Usage is a count per dimension
type Usage struct {
	Daily      int64 `json:"daily"`
	Hourly     int64 `json:"hourly"`
	Concurrent int64 `json:"concurrent"`
}

// Quota describes a tenant's position against its limits. Remaining is -1 for
// a disabled dimension.
type Quota struct {
	TenantID      string    `json:"tenant_id"`
	Limits        Limits    `json:"limits"`
	Used          Usage     `json:"used"`
	Remaining     Usage     `json:"remaining"`
	DailyResetAt  time.Time `json:"daily_reset_at"`
	HourlyResetAt time.Time `json:"hourly_reset_at"`

	// Counted is false when the store was unreachable and the request was admitted without accounting
	Counted bool `json:"counted"`
}

// Admission is the guard held by an admitted request. Release must run on every
// exit path; calling it more than once is harmless.
type Admission struct {
	RequestID string
	TenantID  string
	Quota     Quota

	limiter *Limiter
	once    sync.Once
}

// Release frees the concurrency slot exactly once
func (a *Admission) Release(ctx context.Context) {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.limiter.Release(ctx, a.TenantID, a.RequestID)
	})
}

type inflightSlot struct {
	counted       bool
	concurrentKey string
	admittedAt    time.Time
}

// Limiter gates requests against per-tenant quotas held in a Store
type Limiter struct {
	store  Store
	config Config
	logger *observability.Logger
	now    func() time.Time

	mu        sync.Mutex
	inflight  map[string]map[string]*inflightSlot // tenant -> request id -> slot
	overrides map[string]Limits
}

// NewLimiter creates a limiter over store
func NewLimiter(store Store, config Config) *Limiter {
	defaults := DefaultConfig()
	if config.ConcurrentTTL <= 0 {
		config.ConcurrentTTL = defaults.ConcurrentTTL
	}
	if config.ConcurrentRetryAfter <= 0 {
		config.ConcurrentRetryAfter = defaults.ConcurrentRetryAfter
	}
	if config.ReleaseTimeout <= 0 {
		config.ReleaseTimeout = defaults.ReleaseTimeout
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}

	return &Limiter{
		store:     store,
		config:    config,
		logger:    observability.NewLogger("quota"),
		now:       time.Now,
		inflight:  make(map[string]map[string]*inflightSlot),
		overrides: make(map[string]Limits),
	}
}

// WithClock replaces the clock used for window boundaries
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// WithLogger replaces the limiter's logger
func (l *Limiter) WithLogger(logger *observability.Logger) *Limiter {
	l.logger = logger
	return l
}

// SetTenantLimits overrides the default limits for one tenant
func (l *Limiter) SetTenantLimits(tenantID string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[tenantID] = limits
}

// LimitsFor returns the limits that apply to tenantID
func (l *Limiter) LimitsFor(tenantID string) Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limits, ok := l.overrides[tenantID]; ok {
		return limits
	}
	return l.config.Limits
}

type windows struct {
	dailyKey      string
	hourlyKey     string
	concurrentKey string
	dailyReset    time.Time
	hourlyReset   time.Time
}

func (l *Limiter) windowsAt(tenantID string, now time.Time) windows {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	hour := now.Truncate(time.Hour)
	base := fmt.Sprintf("%s:%s", l.config.KeyPrefix, tenantID)

	return windows{
		dailyKey:      fmt.Sprintf("%s:daily:%s", base, day.Format("2006-01-02")),
		hourlyKey:     fmt.Sprintf("%s:hourly:%s", base, hour.Format("2006-01-02T15")),
		concurrentKey: base + ":concurrent",
		dailyReset:    day.AddDate(0, 0, 1),
		hourlyReset:   hour.Add(time.Hour),
	}
}

func remaining(limit int, used int64) int64 {
	if limit <= 0 {
		return -1
	}
	if r := int64(limit) - used; r > 0 {
		return r
	}
	return 0
}

func (l *Limiter) quotaFor(tenantID string, limits Limits, w windows, used Usage, counted bool) Quota {
	return Quota{
		TenantID: tenantID,
		Limits:   limits,
		Used:     used,
		Remaining: Usage{
			Daily:      remaining(limits.Daily, used.Daily),
			Hourly:     remaining(limits.Hourly, used.Hourly),
			Concurrent: remaining(limits.Concurrent, used.Concurrent),
		},
		DailyResetAt:  w.dailyReset,
		HourlyResetAt: w.hourlyReset,
		Counted:       counted,
	}
}

// CheckAndAdmit counts a new request against tenantID's quota. On success the
// returned Admission must be released when the request finishes. When any
// dimension is exhausted the counters are rolled back and a RATE_LIMIT_EXCEEDED
// error cites the first exhausted dimension (daily, then hourly, then concurrent).
// A store failure admits the request uncounted; a request whose ctx is already
// done is refused with ctx's error and never reaches the store.
func (l *Limiter) CheckAndAdmit(ctx context.Context, tenantID string) (*Admission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := l.now()
	limits := l.LimitsFor(tenantID)
	w := l.windowsAt(tenantID, now)
	requestID := uuid.New().String()

	values, err := l.store.Increment(ctx,
		Counter{Key: w.dailyKey, ExpireAt: w.dailyReset},
		Counter{Key: w.hourlyKey, ExpireAt: w.hourlyReset},
		Counter{Key: w.concurrentKey, ExpireAt: now.Add(l.config.ConcurrentTTL)},
	)
	if err != nil {
		l.logger.Error(ctx, "Quota store unavailable, admitting request without accounting", err, map[string]interface{}{
			"tenant_id": tenantID,
			"fail_open": true,
		})
		observability.GetGlobalMetrics().Inc(observability.MetricRateLimitStoreError, map[string]string{"operation": "increment"})
		return l.track(tenantID, requestID, w, l.quotaFor(tenantID, limits, w, Usage{}, false)), nil
	}

	used := Usage{Daily: values[0], Hourly: values[1], Concurrent: values[2]}
	if dim, exceeded := firstExceeded(limits, used); exceeded {
		l.rollback(ctx, tenantID, w)

		resetAt := w.dailyReset
		switch dim {
		case DimensionHourly:
			resetAt = w.hourlyReset
		case DimensionConcurrent:
			resetAt = now.Add(l.config.ConcurrentRetryAfter)
		}

		observability.GetGlobalMetrics().Inc(observability.MetricRateLimitRejections, map[string]string{"reason": string(dim)})
		l.logger.Warn(ctx, "Tenant quota exceeded", map[string]interface{}{
			"tenant_id": tenantID,
			"reason":    string(dim),
			"reset_at":  resetAt.UTC().Format(time.RFC3339),
		})
		return nil, errors.NewRateLimitExceededError(string(dim), resetAt, resetAt.Sub(now))
	}

	observability.GetGlobalMetrics().Inc(observability.MetricRateLimitAdmitted, nil)
	return l.track(tenantID, requestID, w, l.quotaFor(tenantID, limits, w, used, true)), nil
}

func firstExceeded(limits Limits, used Usage) (Dimension, bool) {
	switch {
	case limits.Daily > 0 && used.Daily > int64(limits.Daily):
		return DimensionDaily, true
	case limits.Hourly > 0 && used.Hourly > int64(limits.Hourly):
		return DimensionHourly, true
	case limits.Concurrent > 0 && used.Concurrent > int64(limits.Concurrent):
		return DimensionConcurrent, true
	}
	return "", false
}

// rollback undoes a rejected increment. Like a release it must outlive the
// request, otherwise a client that disconnects mid-admission leaks its slot.
func (l *Limiter) rollback(ctx context.Context, tenantID string, w windows) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.ReleaseTimeout)
	defer cancel()

	if err := l.store.Decrement(rollbackCtx, w.dailyKey, w.hourlyKey, w.concurrentKey); err != nil {
		l.logger.Error(ctx, "Failed to roll back rejected admission", err, map[string]interface{}{
			"tenant_id": tenantID,
		})
		observability.GetGlobalMetrics().Inc(observability.MetricRateLimitStoreError, map[string]string{"operation": "rollback"})
	}
}

func (l *Limiter) track(tenantID, requestID string, w windows, q Quota) *Admission {
	l.mu.Lock()
	slots, ok := l.inflight[tenantID]
	if !ok {
		slots = make(map[string]*inflightSlot)
		l.inflight[tenantID] = slots
	}
	slots[requestID] = &inflightSlot{
		counted:       q.Counted,
		concurrentKey: w.concurrentKey,
		admittedAt:    l.now(),
	}
	total := l.inflightCountLocked()
	l.mu.Unlock()

	observability.GetGlobalMetrics().Set(observability.MetricInflightRequests, float64(total), nil)

	return &Admission{
		RequestID: requestID,
		TenantID:  tenantID,
		Quota:     q,
		limiter:   l,
	}
}

func (l *Limiter) inflightCountLocked() int {
	total := 0
	for _, slots := range l.inflight {
		total += len(slots)
	}
	return total
}

// Release frees the concurrency slot held by requestID. It reports whether a
// slot was found; repeated calls for the same request return false and touch nothing.
// The store call ignores cancellation of ctx so aborted requests still give their slot back.
func (l *Limiter) Release(ctx context.Context, tenantID, requestID string) bool {
	l.mu.Lock()
	slots, ok := l.inflight[tenantID]
	if !ok {
		l.mu.Unlock()
		return false
	}
	slot, ok := slots[requestID]
	if !ok {
		l.mu.Unlock()
		return false
	}
	delete(slots, requestID)
	if len(slots) == 0 {
		delete(l.inflight, tenantID)
	}
	total := l.inflightCountLocked()
	l.mu.Unlock()

	observability.GetGlobalMetrics().Set(observability.MetricInflightRequests, float64(total), nil)

	if slot.counted {
		l.decrementSlot(ctx, tenantID, slot)
	}
	return true
}

func (l *Limiter) decrementSlot(ctx context.Context, tenantID string, slot *inflightSlot) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.ReleaseTimeout)
	defer cancel()

	if err := l.store.Decrement(releaseCtx, slot.concurrentKey); err != nil {
		l.logger.Error(ctx, "Failed to release concurrency slot", err, map[string]interface{}{
			"tenant_id": tenantID,
		})
		observability.GetGlobalMetrics().Inc(observability.MetricRateLimitStoreError, map[string]string{"operation": "release"})
		return err
	}
	return nil
}

// Usage reads tenantID's current counters without admitting anything
func (l *Limiter) Usage(ctx context.Context, tenantID string) (*Quota, error) {
	limits := l.LimitsFor(tenantID)
	w := l.windowsAt(tenantID, l.now())

	values, err := l.store.Get(ctx, w.dailyKey, w.hourlyKey, w.concurrentKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRateLimitStore, "Failed to read tenant quota")
	}

	q := l.quotaFor(tenantID, limits, w, Usage{Daily: values[0], Hourly: values[1], Concurrent: values[2]}, true)
	return &q, nil
}

// Stats returns a snapshot of in-flight requests per tenant
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	tenants := make([]map[string]interface{}, 0, len(l.inflight))
	for tenantID, slots := range l.inflight {
		var oldest time.Time
		for _, s := range slots {
			if oldest.IsZero() || s.admittedAt.Before(oldest) {
				oldest = s.admittedAt
			}
		}
		tenants = append(tenants, map[string]interface{}{
			"tenant_id":       tenantID,
			"inflight":        len(slots),
			"oldest_admitted": oldest,
		})
	}

	return map[string]interface{}{
		"total_tenants":  len(l.inflight),
		"total_inflight": l.inflightCountLocked(),
		"tenants":        tenants,
	}
}

// Shutdown releases every tracked in-flight slot, one decrement per request.
// Tenants are drained concurrently; the first store error is returned after all
// tenants have been attempted.
func (l *Limiter) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	pending := l.inflight
	l.inflight = make(map[string]map[string]*inflightSlot)
	l.mu.Unlock()

	observability.GetGlobalMetrics().Set(observability.MetricInflightRequests, 0, nil)

	var g errgroup.Group
	released := 0
	for tenantID, slots := range pending {
		tenantID, slots := tenantID, slots
		released += len(slots)
		g.Go(func() error {
			var firstErr error
			for _, slot := range slots {
				if !slot.counted {
					continue
				}
				if err := l.decrementSlot(ctx, tenantID, slot); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		})
	}

	err := g.Wait()
	l.logger.Info(ctx, "Released in-flight quota slots", map[string]interface{}{
		"tenants":  len(pending),
		"requests": released,
	})
	if err != nil {
		return fmt.Errorf("failed to release in-flight slots: %w", err)
	}
	return nil
}

// Ping checks the backing store
func (l *Limiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
