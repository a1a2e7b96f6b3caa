package processor

import (
	"fmt"

	"github.com/seanankenbruck/analytics-nlq/internal/catalog"
	"github.com/seanankenbruck/analytics-nlq/internal/executor"
)

// ResultMetadata carries presentation hints for an executed query
type ResultMetadata struct {
	VisualizationType string   `json:"visualization_type"`
	Recommendation    string   `json:"recommendation"`
	NextSteps         []string `json:"next_steps"`
}

// periodColumn is the bucket column every time-bucketed template selects
const periodColumn = "period"

// MetadataGenerator generates visualization hints and recommendations for query results
type MetadataGenerator struct{}

// NewMetadataGenerator creates a new metadata generator
func NewMetadataGenerator() *MetadataGenerator {
	return &MetadataGenerator{}
}

// GenerateMetadata creates metadata with visualization hints and next steps
func (mg *MetadataGenerator) GenerateMetadata(tmpl *catalog.MetricTemplate, slots *ValidatedSlots, result *executor.Result) *ResultMetadata {
	metadata := &ResultMetadata{
		VisualizationType: mg.determineVisualizationType(result),
		NextSteps:         []string{},
	}

	switch metadata.VisualizationType {
	case "time_series":
		metadata.Recommendation = "This query works best as a graph showing the trend over time"
		if slots.GroupBy != "" {
			metadata.Recommendation = fmt.Sprintf("This query works best as one line per %s over time", slots.GroupBy)
		} else if len(tmpl.AllowedGroupBy) > 0 {
			metadata.NextSteps = append(metadata.NextSteps, fmt.Sprintf("Break down by %s", tmpl.AllowedGroupBy[0]))
		}

	case "stat":
		metadata.Recommendation = "This query returns a single value, perfect for a stat panel"
		if slots.ComparisonType == "" && len(tmpl.AllowedComparisonTypes) > 0 {
			metadata.NextSteps = append(metadata.NextSteps, fmt.Sprintf("Compare by %s", tmpl.AllowedComparisonTypes[0]))
		}

	case "table":
		metadata.Recommendation = "This query returns multiple rows, best viewed as a table"
		if result.RowCount > 20 {
			metadata.NextSteps = append(metadata.NextSteps, "Add a filter to reduce the number of rows")
		}
	}

	if result.Truncated {
		metadata.NextSteps = append(metadata.NextSteps,
			fmt.Sprintf("Only the first %d rows are shown; narrow the time range to see everything", result.RowCount))
	}

	// Warn if no data found
	if result.RowCount == 0 {
		metadata.Recommendation = "No data found for this query"
		metadata.NextSteps = []string{
			"Verify the time range includes data",
			"Confirm filters are not too restrictive",
		}
	}

	return metadata
}

// determineVisualizationType picks a panel from the result shape
func (mg *MetadataGenerator) determineVisualizationType(result *executor.Result) string {
	if result.RowCount == 1 {
		return "stat"
	}

	if result.RowCount > 1 {
		for _, col := range result.Columns {
			if col == periodColumn {
				return "time_series"
			}
		}
	}

	return "table"
}
