// internal/processor/renderer_test.go
package processor

import (
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/seanankenbruck/analytics-nlq/internal/catalog"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "3f1c2a9e-7b4d-4e8a-9c1f-0a2b3c4d5e6f"

func baseParams() QueryParams {
	return QueryParams{
		"companyId": UUIDValue(testTenant),
		"startDate": DateString("2025-01-08"),
		"endDate":   DateString("2025-01-15"),
		"limit":     NumberValue(100),
	}
}

func TestRender_EscapesRawString(t *testing.T) {
	params := baseParams()
	params["name"] = RawValue("O'Brien")

	q, err := Render("SELECT * FROM users WHERE name = {{name}} AND company_id = {{companyId}}", params, []string{"users"})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "name = 'O''Brien'")
	assert.True(t, q.Sanitized)
	assert.Equal(t, []TypeTag{TypeRawString, TypeUUID}, q.SubstitutedTypes)
}

func TestRender_MissingParameter(t *testing.T) {
	params := baseParams()
	delete(params, "limit")

	q, err := Render("SELECT * FROM users WHERE company_id = {{companyId}} LIMIT {{limit}}", params, []string{"users"})
	require.Error(t, err)
	assert.Nil(t, q)
	assert.Equal(t, errors.ErrCodeMissingParameter, errors.CodeOf(err))
}

func TestRender_Encoding(t *testing.T) {
	tests := []struct {
		name     string
		value    TypedValue
		want     string
		wantCode errors.ErrorCode
	}{
		{name: "uuid", value: UUIDValue(testTenant), want: "'" + testTenant + "'"},
		{name: "uuid malformed", value: UUIDValue("3f1c2a9e-7b4d-4e8a-9c1f"), wantCode: errors.ErrCodeInvalidUUID},
		{name: "uuid with injection", value: UUIDValue(testTenant + "' OR '1'='1"), wantCode: errors.ErrCodeInvalidUUID},
		{name: "date", value: DateString("2024-02-29"), want: "'2024-02-29'"},
		{name: "date impossible", value: DateString("2025-02-30"), wantCode: errors.ErrCodeInvalidDate},
		{name: "date wrong layout", value: DateString("01/15/2025"), wantCode: errors.ErrCodeInvalidDate},
		{name: "integer", value: NumberValue(500), want: "500"},
		{name: "fraction", value: NumberValue(0.25), want: "0.25"},
		{name: "negative", value: NumberValue(-3), want: "-3"},
		{name: "nan", value: NumberValue(math.NaN()), wantCode: errors.ErrCodeInvalidNumber},
		{name: "infinity", value: NumberValue(math.Inf(1)), wantCode: errors.ErrCodeInvalidNumber},
		{name: "enum", value: EnumValue([]string{"industry", "size"}, "size"), want: "'size'"},
		{name: "enum list", value: EnumValue([]string{"na", "emea", "apac"}, "na", "apac"), want: "'na', 'apac'"},
		{name: "enum outside set", value: EnumValue([]string{"industry", "size"}, "invalid_cohort"), wantCode: errors.ErrCodeInvalidEnum},
		{name: "enum empty", value: EnumValue([]string{"industry"}), wantCode: errors.ErrCodeInvalidEnum},
		{name: "raw", value: RawValue("plain"), want: "'plain'"},
		{name: "raw with quotes", value: RawValue("it's 'quoted'"), want: "'it''s ''quoted'''"},
		{name: "unknown type", value: TypedValue{Type: "blob"}, wantCode: errors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := baseParams()
			params["v"] = tt.value

			q, err := Render("SELECT {{v}} FROM facts WHERE company_id = {{companyId}}", params, []string{"facts"})
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Nil(t, q)
				assert.Equal(t, tt.wantCode, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SELECT "+tt.want+" FROM facts WHERE company_id = '"+testTenant+"'", q.SQL)
		})
	}
}

func TestRender_Normalization(t *testing.T) {
	template := `
-- header comment
SELECT  region,
        SUM(amount)   -- trailing comment
FROM    orders
WHERE   company_id = {{companyId}}
LIMIT   {{limit}}
`
	q, err := Render(template, baseParams(), []string{"orders"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT region, SUM(amount) FROM orders WHERE company_id = '"+testTenant+"' LIMIT 100", q.SQL)
}

func TestRender_PreservesLiteralContents(t *testing.T) {
	params := baseParams()
	params["note"] = RawValue("a  --b\n  c")

	q, err := Render("SELECT * FROM notes WHERE body = {{note}}", params, []string{"notes"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM notes WHERE body = 'a  --b\n  c'", q.SQL)
}

func TestRender_ForbiddenTextInsideLiteralIsInert(t *testing.T) {
	params := baseParams()
	params["name"] = RawValue("x'; DROP TABLE users; --")

	q, err := Render("SELECT * FROM users WHERE name = {{name}}", params, []string{"users"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE name = 'x''; DROP TABLE users; --'", q.SQL)
}

func TestRender_TemplateAuthoringMistakes(t *testing.T) {
	tests := []struct {
		name     string
		template string
		tables   []string
		wantCode errors.ErrorCode
	}{
		{
			name:     "union in template",
			template: "SELECT id FROM users WHERE company_id = {{companyId}} UNION SELECT id FROM admins",
			tables:   []string{"users"},
			wantCode: errors.ErrCodeInjectionDetected,
		},
		{
			name:     "lowercase delete",
			template: "delete from users where company_id = {{companyId}}",
			tables:   []string{"users"},
			wantCode: errors.ErrCodeInjectionDetected,
		},
		{
			name:     "wrong table",
			template: "SELECT * FROM invoices WHERE company_id = {{companyId}}",
			tables:   []string{"orders"},
			wantCode: errors.ErrCodeUnexpectedTableSet,
		},
		{
			name:     "block comment",
			template: "SELECT * FROM users /* hidden */ WHERE company_id = {{companyId}}",
			tables:   []string{"users"},
			wantCode: errors.ErrCodeInjectionDetected,
		},
		{
			name:     "unterminated literal",
			template: "SELECT * FROM users WHERE company_id = {{companyId}} AND note = 'open",
			tables:   []string{"users"},
			wantCode: errors.ErrCodeInjectionDetected,
		},
		{
			name:     "malformed placeholder survives substitution",
			template: "SELECT * FROM users WHERE company_id = {{companyId}} AND x = {{ bad-name }}",
			tables:   []string{"users"},
			wantCode: errors.ErrCodeIncompleteRender,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Render(tt.template, baseParams(), tt.tables)
			require.Error(t, err)
			assert.Nil(t, q)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
		})
	}
}

func TestSafetyGate(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		tables   []string
		wantCode errors.ErrorCode
	}{
		{name: "stacked drop", sql: "SELECT * FROM users; DROP TABLE users;", tables: []string{"users"}, wantCode: errors.ErrCodeInjectionDetected},
		{name: "trailing semicolon allowed", sql: "SELECT * FROM users;", tables: []string{"users"}},
		{name: "update keyword", sql: "UPDATE users SET plan = 'free'", tables: []string{"users"}, wantCode: errors.ErrCodeInjectionDetected},
		{name: "column containing keyword", sql: "SELECT updated_at, deleted FROM users", tables: []string{"users"}},
		{name: "unresolved placeholder", sql: "SELECT * FROM users WHERE id = {{id}}", tables: []string{"users"}, wantCode: errors.ErrCodeIncompleteRender},
		{name: "one of several tables", sql: "SELECT * FROM users", tables: []string{"user_events", "users"}},
		{name: "table only inside literal", sql: "SELECT * FROM logs WHERE t = 'users'", tables: []string{"users"}, wantCode: errors.ErrCodeUnexpectedTableSet},
		{name: "semicolon inside literal", sql: "SELECT * FROM users WHERE name = 'a;b'", tables: []string{"users"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafetyGate(tt.sql, tt.tables)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
		})
	}
}

// Distinct well-formed inputs never render to the same SQL.
func TestRender_Injective(t *testing.T) {
	template := "SELECT * FROM users WHERE company_id = {{companyId}} AND name = {{name}} AND region IN ({{region}}) LIMIT {{limit}}"
	regions := []string{"na", "emea", "apac"}

	inputs := []QueryParams{}
	for _, name := range []string{"a b", "a  b", "a\tb", "O'Brien", "O''Brien", "a--b", "a -- b", ""} {
		for _, region := range [][]string{{"na"}, {"emea"}, {"na", "emea"}, {"emea", "na"}} {
			for _, limit := range []float64{10, 100} {
				p := baseParams()
				p["name"] = RawValue(name)
				p["region"] = EnumValue(regions, region...)
				p["limit"] = NumberValue(limit)
				inputs = append(inputs, p)
			}
		}
	}

	seen := make(map[string]int)
	for i, p := range inputs {
		q, err := Render(template, p, []string{"users"})
		require.NoError(t, err)
		if prev, dup := seen[q.SQL]; dup {
			t.Fatalf("inputs %d and %d rendered identically: %s", prev, i, q.SQL)
		}
		seen[q.SQL] = i
	}
}

// Every built-in template renders cleanly from validated slots.
func TestBuildRender_RoundTrip(t *testing.T) {
	c := catalog.Default()
	v := NewSlotValidator(c).WithClock(fixedClock("2025-01-15"))
	b := NewParamBuilder(c, 0)
	tenant := uuid.MustParse(testTenant)

	cases := []struct {
		slots      IntentSlots
		intentType string
	}{
		{slots: IntentSlots{Metric: "revenue", TimeRange: "last_30d", GroupBy: "region", Filters: map[string]interface{}{"region": "emea"}}, intentType: IntentMetric},
		{slots: IntentSlots{Metric: "revenue", TimeRange: "custom", StartDate: "2024-10-01", EndDate: "2024-12-31"}, intentType: IntentMetric},
		{slots: IntentSlots{Metric: "active_users", TimeRange: "last_90d"}, intentType: IntentMetric},
		{slots: IntentSlots{Metric: "churn_rate", TimeRange: "last_quarter"}, intentType: IntentMetric},
		{slots: IntentSlots{Metric: "churn_rate", TimeRange: "ytd", GroupBy: "region", Filters: map[string]interface{}{"plan": []interface{}{"pro"}}}, intentType: IntentMetric},
		{slots: IntentSlots{Metric: "engagement_score", TimeRange: "last_7d"}, intentType: IntentMetric},
		{slots: IntentSlots{Metric: "benchmark", TimeRange: "last_year", ComparisonType: "size"}, intentType: IntentBenchmark},
		{slots: IntentSlots{Metric: "benchmark", TimeRange: "last_90d"}, intentType: IntentBenchmark},
	}

	for _, tc := range cases {
		t.Run(tc.slots.Metric+"/"+tc.slots.TimeRange, func(t *testing.T) {
			validated, _, err := v.Validate(tc.slots, tc.intentType)
			require.NoError(t, err)

			tmpl, ok := c.Get(validated.TemplateID)
			require.True(t, ok)

			q, err := Render(tmpl.SQL, b.Build(validated, tenant), tmpl.ExpectedTables)
			require.NoError(t, err)
			assert.True(t, q.Sanitized)
			assert.NotContains(t, q.SQL, "{{")
			assert.NotContains(t, q.SQL, "--")
			assert.Contains(t, q.SQL, "'"+testTenant+"'")
			assert.True(t, strings.HasSuffix(q.SQL, "LIMIT 1000"))
		})
	}
}
