package catalog

// Built-in analytics templates. Every body filters on {{companyId}} so rendered
// queries are always tenant scoped.
var defaultTemplates = []MetricTemplate{
	{
		ID:                "revenue",
		Description:       "Daily revenue and order volume",
		AllowedTimeRanges: []TimeRangeToken{Last7Days, Last30Days, Last90Days, YearToDate, LastQuarter, LastYear, Custom},
		MaxTimeWindowDays: 400,
		AllowedGroupBy:    []string{"region", "channel"},
		AllowedFilters: map[string][]string{
			"region": {"na", "emea", "apac", "latam"},
		},
		SQL: `
-- daily revenue for the tenant, one series per segment
SELECT date_trunc('day', o.created_at)::date AS period,
       CASE {{groupBy}} WHEN 'region' THEN o.region WHEN 'channel' THEN o.channel ELSE 'all' END AS segment,
       SUM(o.amount) AS revenue,
       COUNT(*) AS order_count
FROM orders o
WHERE o.company_id = {{companyId}}
  AND o.created_at >= {{startDate}}
  AND o.created_at < ({{endDate}}::date + 1)
  AND o.region IN ({{region}})
GROUP BY 1, 2
ORDER BY 1, 2
LIMIT {{limit}}`,
		ExpectedTables:   []string{"orders"},
		Transformations:  []string{"filter by tenant and window", "truncate to day", "sum amount"},
		AggregationCount: 2,
	},
	{
		ID:                "active_users",
		Description:       "Distinct active users per day",
		AllowedTimeRanges: []TimeRangeToken{Last7Days, Last30Days, Last90Days},
		MaxTimeWindowDays: 90,
		SQL: `
SELECT date_trunc('day', e.occurred_at)::date AS period,
       COUNT(DISTINCT e.user_id) AS active_users
FROM user_events e
WHERE e.company_id = {{companyId}}
  AND e.occurred_at >= {{startDate}}
  AND e.occurred_at < ({{endDate}}::date + 1)
GROUP BY 1
ORDER BY 1
LIMIT {{limit}}`,
		ExpectedTables:   []string{"user_events"},
		Transformations:  []string{"filter by tenant and window", "count distinct users"},
		AggregationCount: 1,
	},
	{
		ID:                "churn_rate",
		Description:       "Share of subscriptions cancelled in the window, by segment",
		AllowedTimeRanges: []TimeRangeToken{Last30Days, Last90Days, YearToDate, LastQuarter, LastYear},
		MaxTimeWindowDays: 366,
		AllowedGroupBy:    []string{"plan", "region"},
		DefaultGroupBy:    "plan",
		AllowedFilters: map[string][]string{
			"plan": {"free", "pro", "enterprise"},
		},
		SQL: `
-- segment label follows the requested group-by dimension
SELECT CASE {{groupBy}} WHEN 'plan' THEN s.plan WHEN 'region' THEN s.region END AS segment,
       COUNT(*) FILTER (WHERE s.cancelled_at BETWEEN {{startDate}} AND {{endDate}})::numeric
         / NULLIF(COUNT(*), 0) AS churn_rate
FROM subscriptions s
WHERE s.company_id = {{companyId}}
  AND s.started_at <= {{endDate}}
  AND s.plan IN ({{plan}})
GROUP BY 1
ORDER BY 2 DESC
LIMIT {{limit}}`,
		ExpectedTables:   []string{"subscriptions"},
		Transformations:  []string{"filter by tenant", "segment by dimension", "ratio of cancellations"},
		AggregationCount: 2,
	},
	{
		ID:                "engagement_score",
		Description:       "Average events per user by role",
		AllowedTimeRanges: []TimeRangeToken{Last7Days, Last30Days},
		MaxTimeWindowDays: 31,
		SQL: `
SELECT u.role,
       AVG(ev.events_per_user) AS engagement_score
FROM (
  SELECT e.user_id, COUNT(*) AS events_per_user
  FROM user_events e
  WHERE e.company_id = {{companyId}}
    AND e.occurred_at >= {{startDate}}
    AND e.occurred_at < ({{endDate}}::date + 1)
  GROUP BY e.user_id
) ev
JOIN users u ON u.id = ev.user_id AND u.company_id = {{companyId}}
GROUP BY u.role
ORDER BY 2 DESC
LIMIT {{limit}}`,
		ExpectedTables:   []string{"user_events", "users"},
		Transformations:  []string{"count events per user", "join user roles", "average by role"},
		JoinCount:        1,
		AggregationCount: 2,
	},
	{
		ID:                     "benchmark",
		Description:            "Company metrics against peer cohort percentiles",
		AllowedTimeRanges:      []TimeRangeToken{Last30Days, Last90Days, LastQuarter, LastYear},
		MaxTimeWindowDays:      366,
		AllowedComparisonTypes: []string{"industry", "size"},
		DefaultComparisonType:  "industry",
		AllowedFilters: map[string][]string{
			"kpi": {"revenue", "active_users", "churn_rate", "engagement_score"},
		},
		SQL: `
SELECT m.metric_name,
       m.value AS company_value,
       b.p50 AS cohort_median,
       b.p90 AS cohort_p90
FROM company_metrics m
JOIN benchmark_cohorts b
  ON b.metric_name = m.metric_name
 AND b.cohort_type = {{cohortType}}
WHERE m.company_id = {{companyId}}
  AND m.period_start >= {{startDate}}
  AND m.period_end <= {{endDate}}
  AND m.metric_name IN ({{kpi}})
ORDER BY m.metric_name
LIMIT {{limit}}`,
		ExpectedTables:  []string{"company_metrics", "benchmark_cohorts"},
		Transformations: []string{"filter by tenant and window", "match peer cohort"},
		JoinCount:       1,
	},
}

// Default returns the catalog of built-in templates
func Default() *Catalog {
	c, err := New(defaultTemplates...)
	if err != nil {
		// Built-in templates are static; failing here is a programming error
		panic("invalid built-in template catalog: " + err.Error())
	}
	return c
}
