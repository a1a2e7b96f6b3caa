package lineage

import (
	"fmt"
	"time"
)

// Intent is the classified intent that selected the template
type Intent struct {
	Type   string `json:"type"`
	Metric string `json:"metric"`
}

// Source is a table or view the query read. Evidence, when present, is a
// short description of the rows it contributed.
type Source struct {
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Evidence string `json:"evidence,omitempty"`
}

// ExecutionRecord is everything known about one query once it has run
type ExecutionRecord struct {
	QueryID          string
	TenantID         string
	Question         string
	Intent           *Intent
	TemplateID       string
	SQL              string
	Sources          []Source
	Transformations  []string
	JoinCount        int
	AggregationCount int
	RowCount         int
	ExecutionTime    time.Duration
	TenantIsolated   bool
	SafetyChecked    bool
	Answer           string
	CreatedAt        time.Time
}

// Thresholds are the inclusive upper bounds of the low and medium bands
type Thresholds struct {
	Low    int `yaml:"low" json:"low"`
	Medium int `yaml:"medium" json:"medium"`
}

// DefaultThresholds classifies scores up to 2 as low and up to 8 as medium
var DefaultThresholds = Thresholds{Low: 2, Medium: 8}

// Builder turns execution records into lineage graphs
type Builder struct {
	thresholds Thresholds
}

// NewBuilder creates a builder. Zero thresholds fall back to the defaults.
func NewBuilder(thresholds Thresholds) *Builder {
	if thresholds.Low <= 0 && thresholds.Medium <= 0 {
		thresholds = DefaultThresholds
	}
	return &Builder{thresholds: thresholds}
}

// Score is sources + 2*joins + aggregations + transformations
func Score(record ExecutionRecord) int {
	return len(record.Sources) + 2*record.JoinCount + record.AggregationCount + len(record.Transformations)
}

// Classify maps a score onto a complexity band
func (b *Builder) Classify(score int) Complexity {
	switch {
	case score <= b.thresholds.Low:
		return ComplexityLow
	case score <= b.thresholds.Medium:
		return ComplexityMedium
	default:
		return ComplexityHigh
	}
}

// Build creates the graph for record. The result depends only on the record.
func (b *Builder) Build(record ExecutionRecord) (*Graph, error) {
	if record.QueryID == "" {
		return nil, fmt.Errorf("execution record has no query id")
	}
	if record.TemplateID == "" {
		return nil, fmt.Errorf("execution record %s has no template", record.QueryID)
	}

	g := &Graph{}
	add := func(n Node) string {
		g.Nodes = append(g.Nodes, n)
		return n.ID
	}
	link := func(from, to string) {
		g.Edges = append(g.Edges, Edge{From: from, To: to, Type: EdgeDataFlow})
	}

	question := add(Node{
		ID:    "question",
		Type:  NodeQuestion,
		Level: LevelQuestion,
		Label: record.Question,
	})

	upstream := question
	if record.Intent != nil {
		intent := add(Node{
			ID:    "intent",
			Type:  NodeIntent,
			Level: LevelIntent,
			Label: fmt.Sprintf("%s: %s", record.Intent.Type, record.Intent.Metric),
			Metadata: map[string]interface{}{
				"intent_type": record.Intent.Type,
				"metric":      record.Intent.Metric,
			},
		})
		link(upstream, intent)
		upstream = intent
	}

	template := add(Node{
		ID:    "template",
		Type:  NodeTemplate,
		Level: LevelTemplate,
		Label: record.TemplateID,
		Metadata: map[string]interface{}{
			"sql":               record.SQL,
			"join_count":        record.JoinCount,
			"aggregation_count": record.AggregationCount,
		},
	})
	link(upstream, template)

	// everything at the source level feeds the next stage
	var sourceLevel []string
	for i, src := range record.Sources {
		meta := map[string]interface{}{}
		if src.Kind != "" {
			meta["kind"] = src.Kind
		}
		source := add(Node{
			ID:       fmt.Sprintf("source_%d", i),
			Type:     NodeSource,
			Level:    LevelSource,
			Label:    src.Name,
			Metadata: meta,
		})
		link(template, source)
		sourceLevel = append(sourceLevel, source)

		if src.Evidence != "" {
			evidence := add(Node{
				ID:       fmt.Sprintf("evidence_%d", i),
				Type:     NodeEvidence,
				Level:    LevelSource,
				Label:    src.Evidence,
				Metadata: map[string]interface{}{"source": src.Name},
			})
			link(source, evidence)
			sourceLevel = append(sourceLevel, evidence)
		}
	}
	if len(sourceLevel) == 0 {
		sourceLevel = []string{template}
	}

	var transformations []string
	for i, t := range record.Transformations {
		transformations = append(transformations, add(Node{
			ID:    fmt.Sprintf("transformation_%d", i),
			Type:  NodeTransformation,
			Level: LevelTransformation,
			Label: t,
		}))
	}
	for _, from := range sourceLevel {
		for _, to := range transformations {
			link(from, to)
		}
	}

	answerLabel := record.Answer
	if answerLabel == "" {
		answerLabel = fmt.Sprintf("%d rows", record.RowCount)
	}
	answer := add(Node{
		ID:    "answer",
		Type:  NodeAnswer,
		Level: LevelAnswer,
		Label: answerLabel,
		Metadata: map[string]interface{}{
			"row_count":         record.RowCount,
			"execution_time_ms": record.ExecutionTime.Milliseconds(),
		},
	})
	feeders := transformations
	if len(feeders) == 0 {
		feeders = sourceLevel
	}
	for _, from := range feeders {
		link(from, answer)
	}

	score := Score(record)
	g.Metadata = GraphMetadata{
		QueryID:         record.QueryID,
		TenantID:        record.TenantID,
		TemplateID:      record.TemplateID,
		RowCount:        record.RowCount,
		ExecutionTimeMs: record.ExecutionTime.Milliseconds(),
		Complexity:      b.Classify(score),
		ComplexityScore: score,
		TenantIsolated:  record.TenantIsolated,
		SafetyChecked:   record.SafetyChecked,
		CreatedAt:       record.CreatedAt.UTC(),
	}

	return g, nil
}
