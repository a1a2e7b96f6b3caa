package executor

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/seanankenbruck/analytics-nlq/internal/observability"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig defines circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests   uint32        // Max requests allowed in half-open state
	Interval      time.Duration // Window for counting failures
	Timeout       time.Duration // Duration circuit stays open before trying recovery
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig trips after five consecutive failures, or a 60%
// failure ratio once at least three requests were seen in the interval
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && (counts.ConsecutiveFailures >= 5 || failureRatio >= 0.6)
		},
	}
}

// CircuitBreakerExecutor stops sending queries to a failing database
type CircuitBreakerExecutor struct {
	next    Executor
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerExecutor wraps next with circuit breaker protection
func NewCircuitBreakerExecutor(next Executor, name string, config CircuitBreakerConfig) *CircuitBreakerExecutor {
	logger := observability.NewLogger("executor")

	onStateChange := config.OnStateChange
	if onStateChange == nil {
		onStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		}
	}

	settings := gobreaker.Settings{
		Name:          name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   config.ReadyToTrip,
		OnStateChange: onStateChange,
		// a caller hanging up says nothing about database health
		IsSuccessful: func(err error) bool {
			return err == nil || stderrors.Is(err, context.Canceled)
		},
	}

	return &CircuitBreakerExecutor{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs sql through the breaker
func (cb *CircuitBreakerExecutor) Execute(ctx context.Context, sql string) (*Result, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.next.Execute(ctx, sql)
	})

	if err != nil {
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.NewExecutionError(err).
				WithDetails("The analytics database is temporarily unavailable").
				WithMetadata("circuit_state", cb.breaker.State().String())
		}
		return nil, err
	}

	return result.(*Result), nil
}

// State returns the breaker state as "closed", "half-open" or "open"
func (cb *CircuitBreakerExecutor) State() string {
	return cb.breaker.State().String()
}

// Counts returns the current failure counts
func (cb *CircuitBreakerExecutor) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
