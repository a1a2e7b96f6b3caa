package quota

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/seanankenbruck/analytics-nlq/internal/observability"
)

type admissionKey struct{}

// WithAdmission stores an admission in ctx so downstream stages do not admit again
func WithAdmission(ctx context.Context, a *Admission) context.Context {
	return context.WithValue(ctx, admissionKey{}, a)
}

// AdmissionFromContext returns the admission stored by WithAdmission
func AdmissionFromContext(ctx context.Context) (*Admission, bool) {
	if ctx == nil {
		return nil, false
	}
	a, ok := ctx.Value(admissionKey{}).(*Admission)
	return a, ok && a != nil
}

// TenantFromRequest reads and validates the tenant header
func TenantFromRequest(c *gin.Context) (uuid.UUID, error) {
	raw := c.GetHeader(observability.TenantIDHeader)
	if raw == "" {
		return uuid.Nil, errors.New(errors.ErrCodeMissingRequired, "Missing tenant").
			WithDetails("The " + observability.TenantIDHeader + " header is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewInvalidInputError(observability.TenantIDHeader, "must be a UUID")
	}
	return id, nil
}

// SetHeaders writes X-RateLimit-* headers describing q
func SetHeaders(c *gin.Context, q Quota) {
	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit-Daily", strconv.Itoa(q.Limits.Daily))
	h.Set("X-RateLimit-Remaining-Daily", strconv.FormatInt(q.Remaining.Daily, 10))
	h.Set("X-RateLimit-Limit-Hourly", strconv.Itoa(q.Limits.Hourly))
	h.Set("X-RateLimit-Remaining-Hourly", strconv.FormatInt(q.Remaining.Hourly, 10))
	h.Set("X-RateLimit-Limit-Concurrent", strconv.Itoa(q.Limits.Concurrent))
	h.Set("X-RateLimit-Remaining-Concurrent", strconv.FormatInt(q.Remaining.Concurrent, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(q.DailyResetAt.Unix(), 10))
}

// RetryAfterSeconds extracts the retry hint from a RATE_LIMIT_EXCEEDED error
func RetryAfterSeconds(err error) (int64, bool) {
	enhanced, ok := errors.AsEnhanced(err)
	if !ok || enhanced.Code != errors.ErrCodeRateLimitExceeded {
		return 0, false
	}
	seconds, ok := enhanced.Metadata["retry_after_seconds"].(int64)
	return seconds, ok
}

// Middleware admits each request against its tenant's quota and releases the
// slot when the handler chain returns, whether it succeeded, failed or panicked.
func Middleware(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := TenantFromRequest(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errors.Response(err))
			return
		}

		ctx := observability.WithTenantID(c.Request.Context(), tenantID.String())
		admission, err := l.CheckAndAdmit(ctx, tenantID.String())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.AbortWithStatusJSON(http.StatusRequestTimeout, errors.Response(
					errors.Wrap(ctxErr, errors.ErrCodeRequestCancelled, "Request cancelled before admission")))
				return
			}
			if seconds, ok := RetryAfterSeconds(err); ok {
				c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errors.Response(err))
			return
		}
		defer admission.Release(ctx)

		SetHeaders(c, admission.Quota)
		c.Request = c.Request.WithContext(WithAdmission(ctx, admission))
		c.Next()
	}
}
