// Package catalog holds the registry of pre-authored metric query templates.
//
// Templates are loaded once at startup and never mutated afterwards, so a
// *Catalog can be shared by every request goroutine without locking.
package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TimeRangeToken is a relative or custom time range understood by the slot validator
type TimeRangeToken string

const (
	Last7Days   TimeRangeToken = "last_7d"
	Last30Days  TimeRangeToken = "last_30d"
	Last90Days  TimeRangeToken = "last_90d"
	YearToDate  TimeRangeToken = "ytd"
	LastQuarter TimeRangeToken = "last_quarter"
	LastYear    TimeRangeToken = "last_year"
	Custom      TimeRangeToken = "custom"
)

// KnownTimeRanges lists every token the validator can normalize
var KnownTimeRanges = []TimeRangeToken{Last7Days, Last30Days, Last90Days, YearToDate, LastQuarter, LastYear, Custom}

// IsKnown reports whether the token is one the validator can normalize
func (t TimeRangeToken) IsKnown() bool {
	for _, k := range KnownTimeRanges {
		if k == t {
			return true
		}
	}
	return false
}

// NoGroupBy is bound to {{groupBy}} when a template declares dimensions but the
// caller picked none and the template has no default. Bodies fold it into a
// single segment, typically with CASE ... ELSE 'all'.
const NoGroupBy = "none"

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// MetricTemplate declares one metric's SQL body and the constraints its slots must satisfy.
// A nil AllowedGroupBy or AllowedFilters means the template accepts none. Every
// declared slot must be consumed by the body: {{groupBy}} for dimensions, one
// {{key}} per filter and {{cohortType}} for comparisons.
type MetricTemplate struct {
	ID                     string              `yaml:"id" json:"id"`
	Description            string              `yaml:"description" json:"description,omitempty"`
	AllowedTimeRanges      []TimeRangeToken    `yaml:"allowed_time_ranges" json:"allowed_time_ranges"`
	MaxTimeWindowDays      int                 `yaml:"max_time_window_days" json:"max_time_window_days"`
	AllowedGroupBy         []string            `yaml:"allowed_group_by" json:"allowed_group_by,omitempty"`
	DefaultGroupBy         string              `yaml:"default_group_by" json:"default_group_by,omitempty"`
	AllowedFilters         map[string][]string `yaml:"allowed_filters" json:"allowed_filters,omitempty"`
	AllowedComparisonTypes []string            `yaml:"allowed_comparison_types" json:"allowed_comparison_types,omitempty"`
	DefaultComparisonType  string              `yaml:"default_comparison_type" json:"default_comparison_type,omitempty"`
	SQL                    string              `yaml:"sql" json:"sql"`
	ExpectedTables         []string            `yaml:"expected_tables" json:"expected_tables"`

	// Lineage hints describing what the SQL body does to its sources
	Transformations  []string `yaml:"transformations" json:"transformations,omitempty"`
	JoinCount        int      `yaml:"join_count" json:"join_count,omitempty"`
	AggregationCount int      `yaml:"aggregation_count" json:"aggregation_count,omitempty"`
}

// AllowsTimeRange reports whether token is in the template's allowed set
func (t *MetricTemplate) AllowsTimeRange(token TimeRangeToken) bool {
	for _, r := range t.AllowedTimeRanges {
		if r == token {
			return true
		}
	}
	return false
}

// AllowedTimeRangeNames returns the allowed tokens as strings
func (t *MetricTemplate) AllowedTimeRangeNames() []string {
	names := make([]string, len(t.AllowedTimeRanges))
	for i, r := range t.AllowedTimeRanges {
		names[i] = string(r)
	}
	return names
}

// FilterValues returns the allowed values for a filter key and whether the key is declared
func (t *MetricTemplate) FilterValues(key string) ([]string, bool) {
	if t.AllowedFilters == nil {
		return nil, false
	}
	values, ok := t.AllowedFilters[key]
	return values, ok
}

// FilterKeys returns the declared filter keys in sorted order
func (t *MetricTemplate) FilterKeys() []string {
	keys := make([]string, 0, len(t.AllowedFilters))
	for k := range t.AllowedFilters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AllowsComparison reports whether comparison is a declared comparison type
func (t *MetricTemplate) AllowsComparison(comparison string) bool {
	return contains(t.AllowedComparisonTypes, comparison)
}

// AllowsGroupBy reports whether groupBy is a declared dimension
func (t *MetricTemplate) AllowsGroupBy(groupBy string) bool {
	return contains(t.AllowedGroupBy, groupBy)
}

// Validate checks that the template is internally consistent
func (t *MetricTemplate) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template id is required")
	}
	if len(t.AllowedTimeRanges) == 0 {
		return fmt.Errorf("template %s: at least one allowed time range is required", t.ID)
	}
	for _, r := range t.AllowedTimeRanges {
		if !r.IsKnown() {
			return fmt.Errorf("template %s: unknown time range %q", t.ID, r)
		}
	}
	if t.MaxTimeWindowDays <= 0 {
		return fmt.Errorf("template %s: max_time_window_days must be positive", t.ID)
	}
	if strings.TrimSpace(t.SQL) == "" {
		return fmt.Errorf("template %s: sql body is required", t.ID)
	}
	if len(t.ExpectedTables) == 0 {
		return fmt.Errorf("template %s: at least one expected table is required", t.ID)
	}
	for _, table := range t.ExpectedTables {
		if !ReferencesTable(t.SQL, table) {
			return fmt.Errorf("template %s: expected table %q does not appear in sql body", t.ID, table)
		}
	}
	if t.DefaultGroupBy != "" && !t.AllowsGroupBy(t.DefaultGroupBy) {
		return fmt.Errorf("template %s: default group-by %q is not an allowed dimension", t.ID, t.DefaultGroupBy)
	}
	if t.DefaultComparisonType != "" && !t.AllowsComparison(t.DefaultComparisonType) {
		return fmt.Errorf("template %s: default comparison type %q is not allowed", t.ID, t.DefaultComparisonType)
	}
	for key, values := range t.AllowedFilters {
		if reservedParams[key] {
			return fmt.Errorf("template %s: filter %q collides with a reserved parameter name", t.ID, key)
		}
		if len(values) == 0 {
			return fmt.Errorf("template %s: filter %q declares no allowed values", t.ID, key)
		}
	}
	return t.validateSlotsConsumed()
}

// validateSlotsConsumed rejects declared slots the body never references
func (t *MetricTemplate) validateSlotsConsumed() error {
	used := t.Placeholders()

	if len(t.AllowedGroupBy) > 0 {
		if !used["groupBy"] {
			return fmt.Errorf("template %s: declares group-by dimensions but sql body has no {{groupBy}}", t.ID)
		}
		for _, dim := range t.AllowedGroupBy {
			if dim == NoGroupBy {
				return fmt.Errorf("template %s: group-by %q is reserved", t.ID, NoGroupBy)
			}
			if !strings.Contains(t.SQL, "'"+dim+"'") {
				return fmt.Errorf("template %s: group-by %q is not handled in sql body", t.ID, dim)
			}
		}
	}
	for _, key := range t.FilterKeys() {
		if !used[key] {
			return fmt.Errorf("template %s: filter %q has no {{%s}} in sql body", t.ID, key, key)
		}
	}
	if len(t.AllowedComparisonTypes) > 0 && !used["cohortType"] {
		return fmt.Errorf("template %s: declares comparison types but sql body has no {{cohortType}}", t.ID)
	}
	return nil
}

// Placeholders returns the set of parameter names the SQL body references
func (t *MetricTemplate) Placeholders() map[string]bool {
	names := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.SQL, -1) {
		names[m[1]] = true
	}
	return names
}

// ReferencesTable reports whether sql names table as a standalone identifier
func ReferencesTable(sql, table string) bool {
	re := regexp.MustCompile(`(?i)(^|\W)` + regexp.QuoteMeta(table) + `(\W|$)`)
	return re.MatchString(sql)
}

// Placeholder names filled by the parameter builder itself
var reservedParams = map[string]bool{
	"companyId":  true,
	"startDate":  true,
	"endDate":    true,
	"limit":      true,
	"groupBy":    true,
	"cohortType": true,
}

// Catalog is an immutable registry of metric templates keyed by metric id
type Catalog struct {
	templates map[string]*MetricTemplate
	ids       []string
}

// New builds a catalog from the given templates, rejecting invalid or duplicate entries
func New(templates ...MetricTemplate) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*MetricTemplate, len(templates))}
	for i := range templates {
		tmpl := templates[i]
		if err := tmpl.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.templates[tmpl.ID]; exists {
			return nil, fmt.Errorf("duplicate template id %q", tmpl.ID)
		}
		c.templates[tmpl.ID] = &tmpl
		c.ids = append(c.ids, tmpl.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Get returns the template registered for metric
func (c *Catalog) Get(metric string) (*MetricTemplate, bool) {
	t, ok := c.templates[metric]
	return t, ok
}

// IDs returns every registered metric id in sorted order
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Len returns the number of templates
func (c *Catalog) Len() int {
	return len(c.ids)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
