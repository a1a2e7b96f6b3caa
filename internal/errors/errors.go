// Package errors provides enhanced error types with helpful context and suggestions
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Slot validation errors
	ErrCodeUnknownMetric            ErrorCode = "UNKNOWN_METRIC"
	ErrCodeTimeRangeNotAllowed      ErrorCode = "TIME_RANGE_NOT_ALLOWED"
	ErrCodeInvalidTimeRange         ErrorCode = "INVALID_TIME_RANGE"
	ErrCodeWindowTooLarge           ErrorCode = "WINDOW_TOO_LARGE"
	ErrCodeGroupByNotAllowed        ErrorCode = "GROUP_BY_NOT_ALLOWED"
	ErrCodeFilterValueNotAllowed    ErrorCode = "FILTER_VALUE_NOT_ALLOWED"
	ErrCodeComparisonTypeNotAllowed ErrorCode = "COMPARISON_TYPE_NOT_ALLOWED"
	ErrCodeSlotValidation           ErrorCode = "SLOT_VALIDATION_FAILED"

	// Render and safety gate errors
	ErrCodeMissingParameter   ErrorCode = "MISSING_PARAMETER"
	ErrCodeInvalidUUID        ErrorCode = "INVALID_UUID"
	ErrCodeInvalidDate        ErrorCode = "INVALID_DATE"
	ErrCodeInvalidNumber      ErrorCode = "INVALID_NUMBER"
	ErrCodeInvalidEnum        ErrorCode = "INVALID_ENUM"
	ErrCodeIncompleteRender   ErrorCode = "INCOMPLETE_RENDERING"
	ErrCodeUnexpectedTableSet ErrorCode = "UNEXPECTED_TABLE_SET"
	ErrCodeInjectionDetected  ErrorCode = "INJECTION_DETECTED"

	// Quota errors
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeRateLimitStore    ErrorCode = "RATE_LIMIT_STORE_FAILED"

	// Execution and lineage errors
	ErrCodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
	ErrCodeLineageNotFound ErrorCode = "LINEAGE_NOT_FOUND"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY_FAILED"

	// Input validation errors
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED_FIELD"
	ErrCodeRequestCancelled ErrorCode = "REQUEST_CANCELLED"

	// Cache errors
	ErrCodeCacheRead  ErrorCode = "CACHE_READ_FAILED"
	ErrCodeCacheWrite ErrorCode = "CACHE_WRITE_FAILED"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code          ErrorCode              `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}

	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}

	if e.Documentation != "" {
		sb.WriteString(fmt.Sprintf("\n\nLearn more: %s", e.Documentation))
	}

	return sb.String()
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// AsEnhanced returns the first EnhancedError in err's chain
func AsEnhanced(err error) (*EnhancedError, bool) {
	var enhanced *EnhancedError
	if stderrors.As(err, &enhanced) {
		return enhanced, true
	}
	return nil, false
}

// CodeOf returns the code of the first EnhancedError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	if enhanced, ok := AsEnhanced(err); ok {
		return enhanced.Code
	}
	return ""
}

// HasCode reports whether err, or any error it aggregates, carries code.
func HasCode(err error, code ErrorCode) bool {
	var verrs *ValidationErrors
	if stderrors.As(err, &verrs) {
		return verrs.Has(code)
	}
	return CodeOf(err) == code
}

// ValidationErrors aggregates every slot validation failure found in a single pass.
// Warnings are carried alongside but never make the value an error on their own.
type ValidationErrors struct {
	Failures []*EnhancedError `json:"failures"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Error implements the error interface
func (v *ValidationErrors) Error() string {
	if len(v.Failures) == 0 {
		return "no validation errors"
	}
	return fmt.Sprintf("[%s] %d slot validation error(s): %s",
		ErrCodeSlotValidation, len(v.Failures), strings.Join(v.Messages(), "; "))
}

// Add appends a failure
func (v *ValidationErrors) Add(err *EnhancedError) {
	v.Failures = append(v.Failures, err)
}

// Warn appends a non-fatal warning
func (v *ValidationErrors) Warn(format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if any failure was recorded
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Failures) > 0
}

// Has reports whether a failure with the given code was recorded
func (v *ValidationErrors) Has(code ErrorCode) bool {
	for _, f := range v.Failures {
		if f.Code == code {
			return true
		}
	}
	return false
}

// Messages returns the human-readable failure messages in the order they were found
func (v *ValidationErrors) Messages() []string {
	msgs := make([]string, 0, len(v.Failures))
	for _, f := range v.Failures {
		if f.Details != "" {
			msgs = append(msgs, f.Details)
		} else {
			msgs = append(msgs, f.Message)
		}
	}
	return msgs
}

// Common error constructors with pre-configured messages

// NewUnknownMetricError creates an error for a metric with no template
func NewUnknownMetricError(metric string) *EnhancedError {
	return New(ErrCodeUnknownMetric, "Unknown metric").
		WithDetails(fmt.Sprintf("No query template is registered for metric '%s'", metric)).
		WithSuggestion("Ask about one of the supported metrics, for example revenue, active users or churn rate.").
		WithMetadata("metric", metric)
}

// NewTimeRangeNotAllowedError creates an error for a time range the template does not accept
func NewTimeRangeNotAllowedError(token, metric string, allowed []string) *EnhancedError {
	return New(ErrCodeTimeRangeNotAllowed, "Time range not allowed for metric").
		WithDetails(fmt.Sprintf("Time range '%s' is not allowed for metric '%s'", token, metric)).
		WithSuggestion(fmt.Sprintf("Use one of: %s", strings.Join(allowed, ", "))).
		WithMetadata("time_range", token)
}

// NewInvalidTimeRangeError creates an error for a time range that cannot be normalized
func NewInvalidTimeRangeError(token, reason string) *EnhancedError {
	return New(ErrCodeInvalidTimeRange, "Invalid time range").
		WithDetails(fmt.Sprintf("Time range '%s' could not be resolved: %s", token, reason)).
		WithSuggestion("Use a relative range such as last_30d, or supply both start and end dates in YYYY-MM-DD form for a custom range.").
		WithMetadata("time_range", token)
}

// NewWindowTooLargeError creates an error for a time window longer than the template allows
func NewWindowTooLargeError(days, maxDays int) *EnhancedError {
	return New(ErrCodeWindowTooLarge, "Time window exceeds maximum allowed").
		WithDetails(fmt.Sprintf("The requested window spans %d days, which exceeds the maximum of %d days", days, maxDays)).
		WithSuggestion(fmt.Sprintf("Reduce the time range to %d days or less.", maxDays)).
		WithMetadata("window_days", days).
		WithMetadata("max_window_days", maxDays)
}

// NewGroupByNotAllowedError creates an error for an unsupported group-by dimension
func NewGroupByNotAllowedError(groupBy string, allowed []string) *EnhancedError {
	return New(ErrCodeGroupByNotAllowed, "Group-by dimension not allowed").
		WithDetails(fmt.Sprintf("Grouping by '%s' is not supported for this metric", groupBy)).
		WithSuggestion(fmt.Sprintf("Group by one of: %s", strings.Join(allowed, ", "))).
		WithMetadata("group_by", groupBy)
}

// NewFilterValueNotAllowedError creates an error for a filter value outside the allowed set
func NewFilterValueNotAllowedError(key, value string, allowed []string) *EnhancedError {
	return New(ErrCodeFilterValueNotAllowed, "Filter value not allowed").
		WithDetails(fmt.Sprintf("Value '%s' is not allowed for filter '%s'", value, key)).
		WithSuggestion(fmt.Sprintf("Allowed values for '%s': %s", key, strings.Join(allowed, ", "))).
		WithMetadata("filter", key).
		WithMetadata("value", value)
}

// NewComparisonTypeNotAllowedError creates an error for an unsupported benchmark comparison
func NewComparisonTypeNotAllowedError(comparison string, allowed []string) *EnhancedError {
	err := New(ErrCodeComparisonTypeNotAllowed, "Comparison type not allowed").
		WithDetails(fmt.Sprintf("Comparison type '%s' is not supported for this metric", comparison)).
		WithMetadata("comparison_type", comparison)
	if len(allowed) == 0 {
		return err.WithSuggestion("This metric does not support benchmark comparisons.")
	}
	return err.WithSuggestion(fmt.Sprintf("Compare by one of: %s", strings.Join(allowed, ", ")))
}

// NewMissingParameterError creates an error for a placeholder with no parameter
func NewMissingParameterError(name string) *EnhancedError {
	return New(ErrCodeMissingParameter, "Template parameter missing").
		WithDetails(fmt.Sprintf("The template references '{{%s}}' but no value was supplied", name)).
		WithSuggestion("This is an internal error in query construction. Please report it.").
		WithMetadata("parameter", name)
}

// NewInvalidParameterError creates an error for a parameter that fails its type check
func NewInvalidParameterError(code ErrorCode, name, reason string) *EnhancedError {
	return New(code, "Invalid template parameter").
		WithDetails(fmt.Sprintf("Parameter '%s' %s", name, reason)).
		WithMetadata("parameter", name)
}

// NewSafetyGateError creates an error for rendered SQL rejected by the safety gate
func NewSafetyGateError(code ErrorCode, details string) *EnhancedError {
	return New(code, "Rendered query rejected by safety gate").
		WithDetails(details).
		WithSuggestion("The query was blocked before execution. If you believe this is a mistake, contact your administrator.")
}

// NewRateLimitExceededError creates an error for an exhausted tenant quota
func NewRateLimitExceededError(dimension string, resetAt time.Time, retryAfter time.Duration) *EnhancedError {
	seconds := int64(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return New(ErrCodeRateLimitExceeded, "Query quota exceeded").
		WithDetails(fmt.Sprintf("The %s query limit for this tenant has been reached", dimension)).
		WithSuggestion(fmt.Sprintf("Try again in %d seconds.", seconds)).
		WithMetadata("reason", dimension).
		WithMetadata("reset_at", resetAt.UTC().Format(time.RFC3339)).
		WithMetadata("retry_after_seconds", seconds)
}

// NewExecutionError creates an error for a failed downstream SQL execution
func NewExecutionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeExecutionFailed, "Query execution failed").
		WithDetails("The analytics database could not execute the query").
		WithSuggestion("This is typically a temporary issue. Please try your question again in a moment.").
		WithMetadata("retryable", true)
}

// NewLineageNotFoundError creates an error for an unknown query id
func NewLineageNotFoundError(queryID string) *EnhancedError {
	return New(ErrCodeLineageNotFound, "Lineage not found").
		WithDetails(fmt.Sprintf("No lineage is recorded for query %s", queryID)).
		WithMetadata("query_id", queryID)
}

// NewInvalidInputError creates an error for invalid input
func NewInvalidInputError(field string, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input").
		WithDetails(fmt.Sprintf("Field '%s' is invalid: %s", field, reason)).
		WithSuggestion("Please check the API documentation for the expected format and try again.")
}

// NewDatabaseConnectionError creates an error for database connection failures
func NewDatabaseConnectionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseConnection, "Database connection failed").
		WithDetails("Unable to connect to the database").
		WithSuggestion("This is an internal server error. The service may be experiencing issues. Please try again in a moment.").
		WithMetadata("retryable", true)
}

// NewDatabaseQueryError creates an error for database query failures
func NewDatabaseQueryError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseQuery, "Database query failed").
		WithDetails(fmt.Sprintf("Failed to execute database operation: %s", operation)).
		WithSuggestion("This is an internal server error. If the problem persists, contact support.").
		WithMetadata("retryable", true)
}

func enhancedBody(e *EnhancedError) map[string]interface{} {
	body := map[string]interface{}{
		"code":    e.Code,
		"message": e.Message,
	}
	if e.Details != "" {
		body["details"] = e.Details
	}
	if e.Suggestion != "" {
		body["suggestion"] = e.Suggestion
	}
	if e.Documentation != "" {
		body["documentation"] = e.Documentation
	}
	if len(e.Metadata) > 0 {
		body["metadata"] = e.Metadata
	}
	return body
}

// Response renders err as the JSON error body every HTTP surface returns:
// {"error": {"code", "message", ...}}, with slot failures listed under "failures".
func Response(err error) map[string]interface{} {
	var verrs *ValidationErrors
	if stderrors.As(err, &verrs) {
		failures := make([]map[string]interface{}, 0, len(verrs.Failures))
		for _, f := range verrs.Failures {
			failures = append(failures, enhancedBody(f))
		}
		response := map[string]interface{}{
			"error": map[string]interface{}{
				"code":     ErrCodeSlotValidation,
				"message":  "Slot validation failed",
				"failures": failures,
			},
		}
		if len(verrs.Warnings) > 0 {
			response["warnings"] = verrs.Warnings
		}
		return response
	}

	if enhanced, ok := AsEnhanced(err); ok {
		return map[string]interface{}{"error": enhancedBody(enhanced)}
	}

	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	}
}
