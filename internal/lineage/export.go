package lineage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToJSON returns the node/edge document
func (g *Graph) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lineage graph: %w", err)
	}
	return data, nil
}

var mermaidStyles = []struct {
	class NodeType
	style string
}{
	{NodeQuestion, "fill:#e3f2fd,stroke:#1565c0"},
	{NodeIntent, "fill:#ede7f6,stroke:#4527a0"},
	{NodeTemplate, "fill:#fff3e0,stroke:#e65100"},
	{NodeSource, "fill:#e8f5e9,stroke:#2e7d32"},
	{NodeEvidence, "fill:#f1f8e9,stroke:#558b2f,stroke-dasharray:4"},
	{NodeTransformation, "fill:#fce4ec,stroke:#ad1457"},
	{NodeAnswer, "fill:#eceff1,stroke:#37474f"},
}

func mermaidLabel(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	return strings.ReplaceAll(s, "\n", " ")
}

// ToMermaid returns a top-down Mermaid flowchart of the graph
func (g *Graph) ToMermaid() string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", n.ID, mermaidLabel(n.Label))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "    %s --> %s\n", e.From, e.To)
	}
	for _, s := range mermaidStyles {
		nodes := g.NodesOfType(s.class)
		if len(nodes) == 0 {
			continue
		}
		ids := make([]string, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
		fmt.Fprintf(&sb, "    classDef %s %s\n", s.class, s.style)
		fmt.Fprintf(&sb, "    class %s %s\n", strings.Join(ids, ","), s.class)
	}
	return sb.String()
}

// ForceNode is a node of the force-directed document
type ForceNode struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group int    `json:"group"`
	Level int    `json:"level"`
}

// ForceLink is a link of the force-directed document
type ForceLink struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// ForceGraph is the node/link document consumed by force-directed layouts
type ForceGraph struct {
	Nodes []ForceNode `json:"nodes"`
	Links []ForceLink `json:"links"`
}

// ToForceGraph projects the graph with group set to the node type ordinal
func (g *Graph) ToForceGraph() ForceGraph {
	fg := ForceGraph{
		Nodes: make([]ForceNode, 0, len(g.Nodes)),
		Links: make([]ForceLink, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		fg.Nodes = append(fg.Nodes, ForceNode{ID: n.ID, Name: n.Label, Group: n.Type.Ordinal(), Level: n.Level})
	}
	for _, e := range g.Edges {
		fg.Links = append(fg.Links, ForceLink{Source: e.From, Target: e.To, Type: e.Type})
	}
	return fg
}

// Cell layout in pixels
const (
	cellWidth   = 180
	cellHeight  = 60
	cellSpacing = 220
	rowSpacing  = 120
)

// Point is a cell's top-left corner in the document's pixel grid
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size is an element cell's box in pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CellEnd names the element cell a link attaches to
type CellEnd struct {
	ID string `json:"id"`
}

// Cell is an element or link of the cell document. Elements carry position,
// size and attrs; links carry source and target.
type Cell struct {
	Type     string                 `json:"type"`
	ID       string                 `json:"id"`
	Position *Point                 `json:"position,omitempty"`
	Size     *Size                  `json:"size,omitempty"`
	Attrs    map[string]interface{} `json:"attrs,omitempty"`
	NodeType NodeType               `json:"nodeType,omitempty"`
	Source   *CellEnd               `json:"source,omitempty"`
	Target   *CellEnd               `json:"target,omitempty"`
}

// CellDocument is the JointJS-style graph document
type CellDocument struct {
	Cells []Cell `json:"cells"`
}

// ToCells lays nodes out in rows by level, left to right in graph order
func (g *Graph) ToCells() CellDocument {
	doc := CellDocument{Cells: make([]Cell, 0, len(g.Nodes)+len(g.Edges))}
	perLevel := map[int]int{}

	for _, n := range g.Nodes {
		idx := perLevel[n.Level]
		perLevel[n.Level]++
		doc.Cells = append(doc.Cells, Cell{
			Type:     "standard.Rectangle",
			ID:       n.ID,
			Position: &Point{X: idx * cellSpacing, Y: n.Level * rowSpacing},
			Size:     &Size{Width: cellWidth, Height: cellHeight},
			Attrs: map[string]interface{}{
				"label": map[string]interface{}{"text": n.Label},
			},
			NodeType: n.Type,
		})
	}
	for i, e := range g.Edges {
		doc.Cells = append(doc.Cells, Cell{
			Type:   "standard.Link",
			ID:     fmt.Sprintf("link_%d", i),
			Source: &CellEnd{ID: e.From},
			Target: &CellEnd{ID: e.To},
		})
	}
	return doc
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Summary returns a plain-text account of the query
func (g *Graph) Summary() string {
	list := func(items []string) string {
		if len(items) == 0 {
			return "none"
		}
		return strings.Join(items, ", ")
	}

	m := g.Metadata
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query %s (template %s, %s complexity)\n", m.QueryID, m.TemplateID, m.Complexity)
	fmt.Fprintf(&sb, "Sources: %s\n", list(labels(g.NodesOfType(NodeSource))))
	fmt.Fprintf(&sb, "Transformations: %s\n", list(labels(g.NodesOfType(NodeTransformation))))
	fmt.Fprintf(&sb, "Rows returned: %d\n", m.RowCount)
	fmt.Fprintf(&sb, "Execution time: %dms\n", m.ExecutionTimeMs)
	fmt.Fprintf(&sb, "Tenant isolated: %s\n", yesNo(m.TenantIsolated))
	fmt.Fprintf(&sb, "Safety checked: %s", yesNo(m.SafetyChecked))
	return sb.String()
}
