// Package lineage records how an answer was produced: which question, intent,
// template, sources and transformations it passed through.
package lineage

import (
	"time"
)

// NodeType identifies the pipeline stage a node represents
type NodeType string

const (
	NodeQuestion       NodeType = "question"
	NodeIntent         NodeType = "intent"
	NodeTemplate       NodeType = "template"
	NodeSource         NodeType = "source"
	NodeTransformation NodeType = "transformation"
	NodeEvidence       NodeType = "evidence"
	NodeAnswer         NodeType = "answer"
)

// Ordinal is the stable group number used by visual exports
func (t NodeType) Ordinal() int {
	switch t {
	case NodeQuestion:
		return 0
	case NodeIntent:
		return 1
	case NodeTemplate:
		return 2
	case NodeSource:
		return 3
	case NodeTransformation:
		return 4
	case NodeEvidence:
		return 5
	case NodeAnswer:
		return 6
	}
	return -1
}

// Stage levels, ascending along the data flow
const (
	LevelQuestion       = 0
	LevelIntent         = 1
	LevelTemplate       = 2
	LevelSource         = 3
	LevelTransformation = 4
	LevelAnswer         = 5
)

// EdgeType describes the relation between two nodes
type EdgeType string

const EdgeDataFlow EdgeType = "data_flow"

// Complexity is the coarse classification of a query's shape
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Node is one stage of the pipeline
type Node struct {
	ID       string                 `json:"id"`
	Type     NodeType               `json:"type"`
	Level    int                    `json:"level"`
	Label    string                 `json:"label"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Edge connects a stage to the stage it fed
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// GraphMetadata summarizes the execution the graph was built from
type GraphMetadata struct {
	QueryID         string     `json:"query_id"`
	TenantID        string     `json:"tenant_id"`
	TemplateID      string     `json:"template_id"`
	RowCount        int        `json:"row_count"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	Complexity      Complexity `json:"complexity"`
	ComplexityScore int        `json:"complexity_score"`
	TenantIsolated  bool       `json:"tenant_isolated"`
	SafetyChecked   bool       `json:"safety_checked"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Graph is the lineage of one completed query. It is not modified after Build.
type Graph struct {
	Nodes    []Node        `json:"nodes"`
	Edges    []Edge        `json:"edges"`
	Metadata GraphMetadata `json:"metadata"`
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodesOfType returns nodes of type t in graph order
func (g *Graph) NodesOfType(t NodeType) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

func labels(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Label)
	}
	return out
}
