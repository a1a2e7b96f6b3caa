package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTemplate() MetricTemplate {
	return MetricTemplate{
		ID:                "signups",
		AllowedTimeRanges: []TimeRangeToken{Last7Days},
		MaxTimeWindowDays: 7,
		SQL:               "SELECT COUNT(*) FROM signups WHERE company_id = {{companyId}} LIMIT {{limit}}",
		ExpectedTables:    []string{"signups"},
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NotNil(t, c)
	assert.Equal(t, []string{"active_users", "benchmark", "churn_rate", "engagement_score", "revenue"}, c.IDs())

	for _, id := range c.IDs() {
		tmpl, ok := c.Get(id)
		require.True(t, ok)
		assert.Contains(t, tmpl.SQL, "{{companyId}}", "template %s must be tenant scoped", id)
		assert.Contains(t, tmpl.SQL, "{{limit}}", "template %s must be bounded", id)
	}

	_, ok := c.Get("does_not_exist")
	assert.False(t, ok)
}

func TestMetricTemplate_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*MetricTemplate)
		errContains string
	}{
		{name: "valid", mutate: func(*MetricTemplate) {}},
		{name: "missing id", mutate: func(m *MetricTemplate) { m.ID = " " }, errContains: "id is required"},
		{name: "no time ranges", mutate: func(m *MetricTemplate) { m.AllowedTimeRanges = nil }, errContains: "allowed time range"},
		{name: "unknown time range", mutate: func(m *MetricTemplate) { m.AllowedTimeRanges = []TimeRangeToken{"last_2d"} }, errContains: "unknown time range"},
		{name: "non-positive window", mutate: func(m *MetricTemplate) { m.MaxTimeWindowDays = 0 }, errContains: "must be positive"},
		{name: "empty sql", mutate: func(m *MetricTemplate) { m.SQL = "" }, errContains: "sql body"},
		{name: "no expected tables", mutate: func(m *MetricTemplate) { m.ExpectedTables = nil }, errContains: "expected table"},
		{name: "expected table absent", mutate: func(m *MetricTemplate) { m.ExpectedTables = []string{"orders"} }, errContains: "does not appear"},
		{name: "bad default group-by", mutate: func(m *MetricTemplate) { m.DefaultGroupBy = "plan" }, errContains: "default group-by"},
		{name: "bad default comparison", mutate: func(m *MetricTemplate) { m.DefaultComparisonType = "size" }, errContains: "default comparison"},
		{name: "reserved filter key", mutate: func(m *MetricTemplate) { m.AllowedFilters = map[string][]string{"limit": {"1"}} }, errContains: "reserved parameter"},
		{name: "filter without values", mutate: func(m *MetricTemplate) { m.AllowedFilters = map[string][]string{"plan": {}} }, errContains: "no allowed values"},
		{name: "filter not in body", mutate: func(m *MetricTemplate) { m.AllowedFilters = map[string][]string{"cohort": {"size"}} }, errContains: "no {{cohort}}"},
		{name: "group-by without placeholder", mutate: func(m *MetricTemplate) { m.AllowedGroupBy = []string{"channel"} }, errContains: "no {{groupBy}}"},
		{name: "comparison without placeholder", mutate: func(m *MetricTemplate) { m.AllowedComparisonTypes = []string{"size"} }, errContains: "no {{cohortType}}"},
		{name: "group-by dimension unhandled", mutate: func(m *MetricTemplate) {
			m.SQL = "SELECT CASE {{groupBy}} WHEN 'region' THEN region END FROM signups WHERE company_id = {{companyId}}"
			m.AllowedGroupBy = []string{"region", "channel"}
		}, errContains: `group-by "channel" is not handled`},
		{name: "reserved no-grouping dimension", mutate: func(m *MetricTemplate) {
			m.SQL = "SELECT CASE {{groupBy}} WHEN 'none' THEN 1 END FROM signups WHERE company_id = {{companyId}}"
			m.AllowedGroupBy = []string{NoGroupBy}
		}, errContains: "is reserved"},
		{name: "every declared slot consumed", mutate: func(m *MetricTemplate) {
			m.SQL = "SELECT CASE {{groupBy}} WHEN 'channel' THEN channel ELSE 'all' END, {{cohortType}} FROM signups WHERE company_id = {{companyId}} AND channel IN ({{channel}})"
			m.AllowedGroupBy = []string{"channel"}
			m.AllowedFilters = map[string][]string{"channel": {"web"}}
			m.AllowedComparisonTypes = []string{"size"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			tt.mutate(&tmpl)
			err := tmpl.Validate()
			if tt.errContains == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New(validTemplate(), validTemplate())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate template id")
}

func TestNew_CopiesTemplates(t *testing.T) {
	tmpl := validTemplate()
	c, err := New(tmpl)
	require.NoError(t, err)

	tmpl.SQL = "mutated"
	got, _ := c.Get("signups")
	assert.NotEqual(t, "mutated", got.SQL)
}

func TestReferencesTable(t *testing.T) {
	assert.True(t, ReferencesTable("SELECT * FROM users u", "users"))
	assert.True(t, ReferencesTable("select * from USERS", "users"))
	assert.True(t, ReferencesTable("JOIN users\n", "users"))
	assert.False(t, ReferencesTable("SELECT * FROM users_archive", "users"))
	assert.False(t, ReferencesTable("SELECT * FROM power_users", "users"))
}

func TestMetricTemplate_Lookups(t *testing.T) {
	tmpl, _ := Default().Get("benchmark")

	values, ok := tmpl.FilterValues("kpi")
	assert.True(t, ok)
	assert.Equal(t, []string{"revenue", "active_users", "churn_rate", "engagement_score"}, values)

	_, ok = tmpl.FilterValues("region")
	assert.False(t, ok)

	assert.True(t, tmpl.AllowsComparison("size"))
	assert.False(t, tmpl.AllowsComparison("revenue_band"))
	assert.True(t, tmpl.AllowsTimeRange(LastQuarter))
	assert.False(t, tmpl.AllowsTimeRange(Last7Days))
	assert.Equal(t, []string{"kpi"}, tmpl.FilterKeys())

	active, _ := Default().Get("active_users")
	_, ok = active.FilterValues("anything")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	doc := `
templates:
  - id: signups
    allowed_time_ranges: [last_7d, last_30d]
    max_time_window_days: 31
    allowed_group_by: [channel]
    allowed_filters:
      channel: [web, mobile]
    sql: |
      SELECT CASE {{groupBy}} WHEN 'channel' THEN s.channel ELSE 'all' END AS segment, COUNT(*)
      FROM signups s
      WHERE s.company_id = {{companyId}}
        AND s.channel IN ({{channel}})
      GROUP BY 1
      LIMIT {{limit}}
    expected_tables: [signups]
    transformations: [count signups]
    aggregation_count: 1
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	tmpl, ok := c.Get("signups")
	require.True(t, ok)
	assert.Equal(t, []TimeRangeToken{Last7Days, Last30Days}, tmpl.AllowedTimeRanges)
	assert.Equal(t, []string{"web", "mobile"}, tmpl.AllowedFilters["channel"])
	assert.Equal(t, 1, tmpl.AggregationCount)
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Len(), c.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Parse([]byte("templates: []"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares no templates")
}
