package hierarchy

import (
	"sort"
	"strconv"
	"strings"
)

// Classification decides which work-item types are "major" and stay at the
// top of the document. Every other root lands in the "Other" bucket.
type Classification struct {
	// Major lists major types in display order. Matching is case-insensitive.
	Major []string
}

func DefaultClassification() Classification {
	return Classification{Major: []string{"Epic"}}
}

func (c Classification) IsMajor(itemType string) bool {
	return c.rank(itemType) >= 0
}

func (c Classification) rank(itemType string) int {
	t := strings.TrimSpace(itemType)
	for i, m := range c.Major {
		if strings.EqualFold(strings.TrimSpace(m), t) {
			return i
		}
	}
	return -1
}

type Options struct {
	Classification Classification
	// Less overrides the default ascending-id ordering of siblings.
	Less func(a, b WorkItem) bool
}

// Build assembles the flat item list into a Forest. It never fails: duplicate
// ids, self references, dangling parents and cycles are resolved by policy and
// reported to sink, which may be nil.
func Build(items []WorkItem, opts Options, sink WarningSink) *Forest {
	warn := func(w Warning) {
		if sink != nil {
			sink.Warn(w)
		}
	}

	records, parents := dedupe(items, warn)

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return CompareIDs(ids[i], ids[j]) < 0 })

	nodes := make(map[string]*Node, len(records))
	for _, id := range ids {
		nodes[id] = &Node{Item: records[id]}
	}

	// attached holds accepted edges only and stays acyclic.
	attached := make(map[string]string, len(ids))
	var roots []*Node
	for _, id := range ids {
		parentID := parents[id]
		switch {
		case parentID == "":
			roots = append(roots, nodes[id])
			continue
		case parentID == id:
			warn(Warning{Kind: WarnSelfParent, ItemID: id, ParentID: parentID})
			roots = append(roots, nodes[id])
			continue
		case nodes[parentID] == nil:
			warn(Warning{Kind: WarnDanglingParent, ItemID: id, ParentID: parentID})
			roots = append(roots, nodes[id])
			continue
		}
		if closesCycle(id, parentID, attached) {
			warn(Warning{Kind: WarnCycleCut, ItemID: id, ParentID: parentID})
			roots = append(roots, nodes[id])
			continue
		}
		attached[id] = parentID
		parent := nodes[parentID]
		parent.Children = append(parent.Children, nodes[id])
	}

	less := opts.Less
	if less == nil {
		less = func(a, b WorkItem) bool { return CompareIDs(a.ID, b.ID) < 0 }
	}
	for _, n := range nodes {
		sortNodes(n.Children, less)
	}

	return group(roots, opts.Classification, less)
}

// dedupe keeps the last full record per id and the first-seen parent link.
func dedupe(items []WorkItem, warn func(Warning)) (map[string]WorkItem, map[string]string) {
	records := make(map[string]WorkItem, len(items))
	parents := make(map[string]string, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			warn(Warning{Kind: WarnMissingID})
			continue
		}
		it.ID = id
		it.ParentID = strings.TrimSpace(it.ParentID)
		if _, seen := records[id]; seen {
			warn(Warning{Kind: WarnDuplicateID, ItemID: id})
			first := parents[id]
			if it.ParentID != first {
				warn(Warning{Kind: WarnConflictingParent, ItemID: id, ParentID: first})
			}
			it.ParentID = first
			records[id] = it
			continue
		}
		records[id] = it
		parents[id] = it.ParentID
	}
	return records, parents
}

func closesCycle(id, parentID string, attached map[string]string) bool {
	visited := map[string]bool{}
	for cur := parentID; cur != ""; cur = attached[cur] {
		if cur == id {
			return true
		}
		if visited[cur] {
			return true
		}
		visited[cur] = true
	}
	return false
}

func group(roots []*Node, c Classification, less func(a, b WorkItem) bool) *Forest {
	f := &Forest{Roots: []*Node{}, Other: []*Group{}}
	byType := map[string]*Group{}
	for _, r := range roots {
		if c.IsMajor(r.Item.Type) {
			f.Roots = append(f.Roots, r)
			continue
		}
		key := strings.ToLower(r.Item.TypeName())
		g, ok := byType[key]
		if !ok {
			g = &Group{Type: r.Item.TypeName()}
			byType[key] = g
			f.Other = append(f.Other, g)
		}
		g.Nodes = append(g.Nodes, r)
	}

	sort.SliceStable(f.Roots, func(i, j int) bool {
		ri, rj := c.rank(f.Roots[i].Item.Type), c.rank(f.Roots[j].Item.Type)
		if ri != rj {
			return ri < rj
		}
		return less(f.Roots[i].Item, f.Roots[j].Item)
	})
	for _, g := range f.Other {
		sortNodes(g.Nodes, less)
	}
	sort.SliceStable(f.Other, func(i, j int) bool {
		oi := strings.EqualFold(f.Other[i].Type, OtherType)
		oj := strings.EqualFold(f.Other[j].Type, OtherType)
		if oi != oj {
			return oj
		}
		return strings.ToLower(f.Other[i].Type) < strings.ToLower(f.Other[j].Type)
	})
	return f
}

func sortNodes(nodes []*Node, less func(a, b WorkItem) bool) {
	sort.SliceStable(nodes, func(i, j int) bool { return less(nodes[i].Item, nodes[j].Item) })
}

// CompareIDs orders ids numerically when both are integers and lexically
// otherwise. Integer ids sort before non-integer ones.
func CompareIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na < nb {
			return -1
		}
		if na > nb {
			return 1
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// FilterEligible keeps items whose state is in states (case-insensitive; an
// empty list keeps everything) plus every ancestor of a kept item, so that
// closed children keep their structural parents. Input order is preserved.
func FilterEligible(items []WorkItem, states []string) []WorkItem {
	if len(states) == 0 {
		return append([]WorkItem(nil), items...)
	}
	allowed := make(map[string]bool, len(states))
	for _, s := range states {
		allowed[strings.ToLower(strings.TrimSpace(s))] = true
	}

	parentOf := make(map[string]string, len(items))
	keep := make(map[string]bool, len(items))
	var seeds []string
	for _, it := range items {
		if _, ok := parentOf[it.ID]; !ok {
			parentOf[it.ID] = strings.TrimSpace(it.ParentID)
		}
		if allowed[strings.ToLower(strings.TrimSpace(it.State))] && !keep[it.ID] {
			keep[it.ID] = true
			seeds = append(seeds, it.ID)
		}
	}

	for _, id := range seeds {
		visited := map[string]bool{id: true}
		for cur := parentOf[id]; cur != "" && !visited[cur]; cur = parentOf[cur] {
			visited[cur] = true
			if _, known := parentOf[cur]; !known {
				break
			}
			keep[cur] = true
		}
	}

	out := make([]WorkItem, 0, len(keep))
	for _, it := range items {
		if keep[it.ID] {
			out = append(out, it)
		}
	}
	return out
}
