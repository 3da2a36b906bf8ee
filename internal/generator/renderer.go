package generator

import (
	"fmt"
	"strings"

	"changeweave/internal/hierarchy"
)

const DefaultSummaryPlaceholder = "No release summary was generated for this version."

var defaultGlyphs = map[string]string{
	"epic":                 "🏔️",
	"feature":              "✨",
	"bug":                  "🐞",
	"defect":               "🐞",
	"issue":                "📌",
	"pull request":         "🔀",
	"backlog item":         "📘",
	"product backlog item": "📘",
	"user story":           "📘",
	"task":                 "🧩",
}

type RenderOptions struct {
	Project     string
	Version     string
	GeneratedAt string
	// Glyphs maps a lower-cased work-item type to the marker shown before it.
	Glyphs             map[string]string
	SummaryPlaceholder string
}

// Renderer turns a Forest into a Document. It holds no per-render state, so a
// single Renderer may be reused and called concurrently.
type Renderer struct {
	opts RenderOptions
}

func NewRenderer(opts RenderOptions) *Renderer {
	if opts.Glyphs == nil {
		opts.Glyphs = defaultGlyphs
	}
	if strings.TrimSpace(opts.SummaryPlaceholder) == "" {
		opts.SummaryPlaceholder = DefaultSummaryPlaceholder
	}
	return &Renderer{opts: opts}
}

// RenderContext assigns unique anchors and records the table of contents in
// the order headings are emitted. It lives for a single Render call.
type RenderContext struct {
	used map[string]bool
	toc  []TOCEntry
}

func newRenderContext() *RenderContext {
	return &RenderContext{used: make(map[string]bool)}
}

// Anchor returns a URL-safe anchor for label, suffixing -2, -3, ... on
// collision.
func (rc *RenderContext) Anchor(label string) string {
	base := Slugify(label)
	anchor := base
	for n := 2; rc.used[anchor]; n++ {
		anchor = fmt.Sprintf("%s-%d", base, n)
	}
	rc.used[anchor] = true
	return anchor
}

func (rc *RenderContext) add(title, anchor string, depth int) {
	rc.toc = append(rc.toc, TOCEntry{Title: title, Anchor: anchor, Depth: depth})
}

// Render walks the forest pre-order: major roots and their descendants first,
// then the "Other" bucket with one section per type. docSummary may be empty,
// in which case the placeholder is used.
func (r *Renderer) Render(forest *hierarchy.Forest, docSummary, coverage string) *Document {
	rc := newRenderContext()
	doc := &Document{
		SchemaVersion: documentSchemaVersion,
		Title:         r.title(),
		Coverage:      coverage,
		TOC:           []TOCEntry{},
		Blocks:        []Block{},
		Meta: DocumentMeta{
			Project:     r.opts.Project,
			Version:     r.opts.Version,
			GeneratedAt: r.opts.GeneratedAt,
			ItemCount:   forest.Len(),
		},
	}
	if s := strings.TrimSpace(docSummary); s != "" {
		doc.Summary = s
	} else {
		doc.Summary = r.opts.SummaryPlaceholder
		doc.SummaryPlaceholder = true
	}

	if forest != nil {
		for _, root := range forest.Roots {
			r.renderNode(doc, rc, root, 0, true)
		}
		if len(forest.Other) > 0 {
			r.structural(doc, rc, hierarchy.OtherType, 0)
			for _, g := range forest.Other {
				r.structural(doc, rc, Pluralize(g.Type), 1)
				for _, n := range g.Nodes {
					r.renderNode(doc, rc, n, 2, false)
				}
			}
		}
	}

	doc.TOC = append(doc.TOC, rc.toc...)
	return doc
}

func (r *Renderer) title() string {
	name := strings.TrimSpace(r.opts.Project)
	version := strings.TrimPrefix(strings.TrimSpace(r.opts.Version), "v")
	switch {
	case name == "":
		return "Release Notes"
	case version == "":
		return "Release Notes for " + name
	default:
		return fmt.Sprintf("Release Notes for %s version v%s", name, version)
	}
}

func (r *Renderer) structural(doc *Document, rc *RenderContext, label string, depth int) {
	anchor := rc.Anchor(label)
	doc.Blocks = append(doc.Blocks, Block{
		Kind:   BlockHeading,
		Depth:  depth,
		Level:  headingLevel(depth),
		Anchor: anchor,
		Title:  label,
	})
	rc.add(label, anchor, depth)
}

// renderNode emits n and its subtree. Sections (major roots) and nodes with
// children become headings; leaves become single-line entries.
func (r *Renderer) renderNode(doc *Document, rc *RenderContext, n *hierarchy.Node, depth int, section bool) {
	it := n.Item
	title := hierarchy.CollapseSpace(it.Title)
	anchor := rc.Anchor(it.ID + " " + title)
	b := Block{
		Kind:       BlockEntry,
		Depth:      depth,
		Anchor:     anchor,
		ItemID:     it.ID,
		Type:       it.TypeName(),
		Glyph:      r.glyph(it),
		Icon:       it.Icon,
		Title:      title,
		URL:        it.URL,
		Text:       n.Text(),
		Summarized: strings.TrimSpace(n.Summary) != "",
	}
	if section || !n.IsLeaf() {
		b.Kind = BlockHeading
		b.Level = headingLevel(depth)
	}
	doc.Blocks = append(doc.Blocks, b)
	rc.add(tocTitle(it.ID, title), anchor, depth)

	for _, c := range n.Children {
		r.renderNode(doc, rc, c, depth+1, false)
	}
}

func (r *Renderer) glyph(it hierarchy.WorkItem) string {
	if g, ok := r.opts.Glyphs[strings.ToLower(it.TypeName())]; ok {
		return g
	}
	return "•"
}

func tocTitle(id, title string) string {
	return strings.TrimSpace("#" + id + " " + title)
}

func headingLevel(depth int) int {
	level := depth + 2
	if level > 6 {
		level = 6
	}
	return level
}

// Slugify lower-cases label and joins its ASCII letter and digit runs with
// dashes. An empty result becomes "section".
func Slugify(label string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			dash = false
			sb.WriteRune(r)
		default:
			dash = true
		}
	}
	if sb.Len() == 0 {
		return "section"
	}
	return sb.String()
}

// Pluralize names a type group: "Bug" becomes "Bugs", "Story" becomes
// "Stories".
func Pluralize(typeName string) string {
	t := strings.TrimSpace(typeName)
	lower := strings.ToLower(t)
	switch {
	case t == "":
		return "Others"
	case strings.EqualFold(t, hierarchy.OtherType):
		return "Other Items"
	case strings.HasSuffix(lower, "y") && len(t) > 1 && !strings.ContainsRune("aeiou", rune(lower[len(lower)-2])):
		return t[:len(t)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return t + "es"
	default:
		return t + "s"
	}
}
