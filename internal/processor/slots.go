package processor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seanankenbruck/analytics-nlq/internal/catalog"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
)

// Intent types understood by the validator
const (
	IntentMetric    = "metric"
	IntentBenchmark = "benchmark"
)

// IntentSlots are the loosely typed slots produced by the external intent classifier
type IntentSlots struct {
	Metric         string                 `json:"metric"`
	TimeRange      string                 `json:"time_range"`
	StartDate      string                 `json:"start_date,omitempty"`
	EndDate        string                 `json:"end_date,omitempty"`
	GroupBy        string                 `json:"group_by,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`
	ComparisonType string                 `json:"comparison_type,omitempty"`
}

// ValidatedSlots are slots that satisfy every constraint of their template.
// Filter values are normalized to strings once here and never re-inspected downstream.
type ValidatedSlots struct {
	Metric         string              `json:"metric"`
	TemplateID     string              `json:"template_id"`
	TimeRange      NormalizedTimeRange `json:"time_range"`
	GroupBy        string              `json:"group_by,omitempty"`
	Filters        map[string][]string `json:"filters,omitempty"`
	ComparisonType string              `json:"comparison_type,omitempty"`
}

// SlotValidator checks intent slots against the template catalog
type SlotValidator struct {
	catalog *catalog.Catalog
	now     func() time.Time
}

// NewSlotValidator creates a validator anchored to the wall clock
func NewSlotValidator(c *catalog.Catalog) *SlotValidator {
	return &SlotValidator{catalog: c, now: time.Now}
}

// WithClock replaces the clock used to anchor relative time ranges
func (v *SlotValidator) WithClock(now func() time.Time) *SlotValidator {
	v.now = now
	return v
}

// Validate checks slots against the template registered for slots.Metric.
// Every failure is collected; the returned error is a *errors.ValidationErrors
// carrying both the failures and any warnings. Warnings are also returned on success.
func (v *SlotValidator) Validate(slots IntentSlots, intentType string) (*ValidatedSlots, []string, error) {
	verrs := &errors.ValidationErrors{}

	tmpl, ok := v.catalog.Get(slots.Metric)
	if !ok {
		verrs.Add(errors.NewUnknownMetricError(slots.Metric))
		return nil, nil, verrs
	}

	validated := &ValidatedSlots{
		Metric:     slots.Metric,
		TemplateID: tmpl.ID,
	}

	// Time range
	timeRange, rangeErr := NormalizeTimeRange(slots.TimeRange, slots.StartDate, slots.EndDate, v.now())
	if rangeErr != nil {
		verrs.Add(rangeErr)
	}
	if !tmpl.AllowsTimeRange(catalog.TimeRangeToken(slots.TimeRange)) {
		verrs.Add(errors.NewTimeRangeNotAllowedError(slots.TimeRange, slots.Metric, tmpl.AllowedTimeRangeNames()))
	}
	if rangeErr == nil {
		if days := timeRange.Days(); days > tmpl.MaxTimeWindowDays {
			verrs.Add(errors.NewWindowTooLargeError(days, tmpl.MaxTimeWindowDays))
		}
		validated.TimeRange = timeRange
	}

	// Group-by
	if slots.GroupBy != "" {
		switch {
		case len(tmpl.AllowedGroupBy) == 0:
			verrs.Warn("group_by '%s' ignored: metric '%s' does not support grouping", slots.GroupBy, slots.Metric)
		case !tmpl.AllowsGroupBy(slots.GroupBy):
			verrs.Add(errors.NewGroupByNotAllowedError(slots.GroupBy, tmpl.AllowedGroupBy))
		default:
			validated.GroupBy = slots.GroupBy
		}
	}

	// Filters, in key order so repeated calls report identically
	if len(slots.Filters) > 0 {
		keys := make([]string, 0, len(slots.Filters))
		for k := range slots.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			allowed, declared := tmpl.FilterValues(key)
			if !declared {
				verrs.Warn("filter '%s' ignored: not supported for metric '%s'", key, slots.Metric)
				continue
			}
			values := filterValues(slots.Filters[key])
			if len(values) == 0 {
				verrs.Warn("filter '%s' ignored: no values supplied", key)
				continue
			}
			accepted := true
			for _, value := range values {
				if !containsString(allowed, value) {
					verrs.Add(errors.NewFilterValueNotAllowedError(key, value, allowed))
					accepted = false
				}
			}
			if accepted {
				if validated.Filters == nil {
					validated.Filters = make(map[string][]string)
				}
				validated.Filters[key] = values
			}
		}
	}

	// Comparison type
	if slots.ComparisonType != "" {
		if intentType == IntentBenchmark {
			if len(tmpl.AllowedComparisonTypes) == 0 || !tmpl.AllowsComparison(slots.ComparisonType) {
				verrs.Add(errors.NewComparisonTypeNotAllowedError(slots.ComparisonType, tmpl.AllowedComparisonTypes))
			} else {
				validated.ComparisonType = slots.ComparisonType
			}
		} else {
			verrs.Warn("comparison_type '%s' ignored: only benchmark questions compare against cohorts", slots.ComparisonType)
		}
	}

	if verrs.HasErrors() {
		return nil, verrs.Warnings, verrs
	}
	return validated, verrs.Warnings, nil
}

// filterValues flattens a scalar or array slot value into strings
func filterValues(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return []string{strings.TrimSpace(v)}
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, strings.TrimSpace(s))
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
