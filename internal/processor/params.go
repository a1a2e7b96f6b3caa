package processor

import (
	"time"

	"github.com/google/uuid"
	"github.com/seanankenbruck/analytics-nlq/internal/catalog"
)

// DefaultRowLimit caps every rendered query unless configured otherwise
const DefaultRowLimit = 1000

// TypeTag identifies how a parameter is checked and encoded during rendering
type TypeTag string

const (
	TypeUUID      TypeTag = "uuid"
	TypeDate      TypeTag = "date"
	TypeNumber    TypeTag = "number"
	TypeEnum      TypeTag = "enum"
	TypeRawString TypeTag = "raw_string"
)

// TypedValue is a tagged parameter value. Only the fields relevant to Type are set.
type TypedValue struct {
	Type    TypeTag  `json:"type"`
	Text    string   `json:"text,omitempty"`
	Number  float64  `json:"number,omitempty"`
	Values  []string `json:"values,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// UUIDValue wraps an identifier that must be a canonical UUID
func UUIDValue(id string) TypedValue {
	return TypedValue{Type: TypeUUID, Text: id}
}

// DateValue wraps a calendar date
func DateValue(t time.Time) TypedValue {
	return TypedValue{Type: TypeDate, Text: t.UTC().Format(DateLayout)}
}

// DateString wraps a date that must parse as YYYY-MM-DD
func DateString(s string) TypedValue {
	return TypedValue{Type: TypeDate, Text: s}
}

// NumberValue wraps a finite number
func NumberValue(n float64) TypedValue {
	return TypedValue{Type: TypeNumber, Number: n}
}

// EnumValue wraps one or more values that must each belong to allowed.
// Multiple values render as a comma separated list of literals.
func EnumValue(allowed []string, values ...string) TypedValue {
	return TypedValue{Type: TypeEnum, Values: values, Allowed: allowed}
}

// RawValue wraps free text; quotes are escaped at render time
func RawValue(s string) TypedValue {
	return TypedValue{Type: TypeRawString, Text: s}
}

// QueryParams maps placeholder names to typed values
type QueryParams map[string]TypedValue

// ParamBuilder turns validated slots into render parameters
type ParamBuilder struct {
	catalog      *catalog.Catalog
	defaultLimit int
}

// NewParamBuilder creates a builder; a non-positive limit falls back to DefaultRowLimit
func NewParamBuilder(c *catalog.Catalog, defaultLimit int) *ParamBuilder {
	if defaultLimit <= 0 {
		defaultLimit = DefaultRowLimit
	}
	return &ParamBuilder{catalog: c, defaultLimit: defaultLimit}
}

// Build converts validated slots and the tenant identity into query parameters.
// Template defaults fill group-by and comparison slots the caller left empty, and
// declared filters that were not supplied expand to their full allowed set. A
// template with dimensions but no default group-by gets catalog.NoGroupBy.
func (b *ParamBuilder) Build(validated *ValidatedSlots, tenantID uuid.UUID) QueryParams {
	params := QueryParams{
		"companyId": UUIDValue(tenantID.String()),
		"startDate": DateValue(validated.TimeRange.StartDate),
		"endDate":   DateValue(validated.TimeRange.EndDate),
		"limit":     NumberValue(float64(b.defaultLimit)),
	}

	tmpl, ok := b.catalog.Get(validated.TemplateID)
	if !ok {
		return params
	}

	groupBy := validated.GroupBy
	if groupBy == "" {
		groupBy = tmpl.DefaultGroupBy
	}
	switch {
	case groupBy != "":
		params["groupBy"] = EnumValue(tmpl.AllowedGroupBy, groupBy)
	case len(tmpl.AllowedGroupBy) > 0:
		allowed := append(append([]string(nil), tmpl.AllowedGroupBy...), catalog.NoGroupBy)
		params["groupBy"] = EnumValue(allowed, catalog.NoGroupBy)
	}

	for key, allowed := range tmpl.AllowedFilters {
		if values, supplied := validated.Filters[key]; supplied {
			params[key] = EnumValue(allowed, values...)
		} else {
			params[key] = EnumValue(allowed, allowed...)
		}
	}

	comparison := validated.ComparisonType
	if comparison == "" {
		comparison = tmpl.DefaultComparisonType
	}
	if comparison != "" {
		params["cohortType"] = EnumValue(tmpl.AllowedComparisonTypes, comparison)
	}

	return params
}
