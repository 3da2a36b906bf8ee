package hierarchy

import "strings"

// OtherType labels items whose type is unknown, and the catch-all bucket that
// collects non-major roots.
const OtherType = "Other"

// WorkItem is a single tracked unit of work as delivered by a platform adapter.
// Values are never mutated after the adapter creates them.
type WorkItem struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	ParentID    string   `json:"parent_id,omitempty"`
	State       string   `json:"state"`
	Icon        string   `json:"icon,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// TypeName returns the item type, or OtherType when the platform gave none.
func (w WorkItem) TypeName() string {
	t := strings.TrimSpace(w.Type)
	if t == "" {
		return OtherType
	}
	return t
}

type SummarySource string

const (
	SummaryNone      SummarySource = ""
	SummaryGenerated SummarySource = "generated"
	SummaryCached    SummarySource = "cached"
)

// Node represents a work item placed in the hierarchy.
type Node struct {
	Item     WorkItem
	Children []*Node

	// Summary is written once by the summarization engine and is read-only
	// afterwards. Empty means no summary was produced.
	Summary       string
	SummarySource SummarySource
}

func (n *Node) ID() string { return n.Item.ID }

func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Text returns what a reader should see for this node: the summary when one
// exists, otherwise the description with whitespace collapsed.
func (n *Node) Text() string {
	if s := strings.TrimSpace(n.Summary); s != "" {
		return s
	}
	return CollapseSpace(n.Item.Description)
}

// Group holds the non-major roots of a single type.
type Group struct {
	Type  string
	Nodes []*Node
}

// Forest is the assembled hierarchy: major-type roots first, then the "Other"
// bucket partitioned by type.
type Forest struct {
	Roots []*Node
	Other []*Group
}

// Len returns the number of nodes in the forest, descendants included.
func (f *Forest) Len() int {
	if f == nil {
		return 0
	}
	count := 0
	f.Walk(func(*Node, int) { count++ })
	return count
}

// Walk visits every node in render order (pre-order, major roots first).
// Depth is 0 for roots and group members.
func (f *Forest) Walk(fn func(n *Node, depth int)) {
	if f == nil {
		return
	}
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	for _, r := range f.Roots {
		visit(r, 0)
	}
	for _, g := range f.Other {
		for _, n := range g.Nodes {
			visit(n, 0)
		}
	}
}

// TopLevel returns the major roots followed by every "Other" group member,
// in render order.
func (f *Forest) TopLevel() []*Node {
	if f == nil {
		return nil
	}
	out := make([]*Node, 0, len(f.Roots))
	out = append(out, f.Roots...)
	for _, g := range f.Other {
		out = append(out, g.Nodes...)
	}
	return out
}

// Find returns the node with the given id, or nil.
func (f *Forest) Find(id string) *Node {
	var found *Node
	f.Walk(func(n *Node, _ int) {
		if found == nil && n.Item.ID == id {
			found = n
		}
	})
	return found
}

type Stats struct {
	Nodes    int            `json:"nodes"`
	Roots    int            `json:"roots"`
	Orphans  int            `json:"orphans"`
	MaxDepth int            `json:"max_depth"`
	ByType   map[string]int `json:"by_type"`
}

func (f *Forest) Stats() Stats {
	st := Stats{ByType: make(map[string]int)}
	if f == nil {
		return st
	}
	st.Roots = len(f.Roots)
	for _, g := range f.Other {
		st.Orphans += len(g.Nodes)
	}
	f.Walk(func(n *Node, depth int) {
		st.Nodes++
		st.ByType[n.Item.TypeName()]++
		if depth > st.MaxDepth {
			st.MaxDepth = depth
		}
	})
	return st
}

// CollapseSpace trims s and folds every whitespace run into a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
