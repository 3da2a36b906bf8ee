package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RenderMarkdown serializes a Document. Every block is preceded by an explicit
// HTML anchor so the table of contents resolves regardless of how a Markdown
// engine slugs headings.
func RenderMarkdown(doc *Document) string {
	var sb strings.Builder
	sb.WriteString("# " + doc.Title + "\n\n")

	sb.WriteString("## Summary\n\n")
	if doc.SummaryPlaceholder {
		sb.WriteString("_" + escapeInline(doc.Summary) + "_\n\n")
	} else {
		sb.WriteString(doc.Summary + "\n\n")
	}
	if doc.Coverage != "" {
		fmt.Fprintf(&sb, "> Summarization coverage: **%s**\n\n", doc.Coverage)
	}

	if len(doc.TOC) > 0 {
		sb.WriteString("## Contents\n\n")
		for _, e := range doc.TOC {
			fmt.Fprintf(&sb, "%s- [%s](#%s)\n", strings.Repeat("  ", e.Depth), escapeLinkText(e.Title), e.Anchor)
		}
		sb.WriteString("\n")
	}

	prevEntry := false
	for _, b := range doc.Blocks {
		switch b.Kind {
		case BlockHeading:
			if prevEntry {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "<a id=\"%s\"></a>\n", b.Anchor)
			fmt.Fprintf(&sb, "%s %s\n\n", strings.Repeat("#", b.Level), headingText(b))
			if b.ItemID != "" && b.Text != "" {
				sb.WriteString(b.Text + "\n\n")
			}
			prevEntry = false
		case BlockEntry:
			fmt.Fprintf(&sb, "- <a id=\"%s\"></a>%s\n", b.Anchor, entryText(b))
			prevEntry = true
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func headingText(b Block) string {
	if b.ItemID == "" {
		return b.Title
	}
	return strings.TrimSpace(marker(b) + " " + itemLink(b) + " " + emptyPlaceholder(b.Title))
}

func entryText(b Block) string {
	parts := []string{marker(b), itemLink(b), "**" + emptyPlaceholder(b.Title) + "**"}
	if b.Text != "" {
		parts = append(parts, b.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func marker(b Block) string {
	if b.Icon != "" {
		return fmt.Sprintf("<img src=\"%s\" alt=\"%s\" width=\"14\" height=\"14\"/>", b.Icon, b.Type)
	}
	return b.Glyph
}

func itemLink(b Block) string {
	if b.URL == "" {
		return "#" + b.ItemID
	}
	return fmt.Sprintf("[#%s](%s)", b.ItemID, b.URL)
}

func emptyPlaceholder(s string) string {
	if s == "" {
		return `""`
	}
	return s
}

func escapeLinkText(s string) string {
	r := strings.NewReplacer("[", `\[`, "]", `\]`)
	return r.Replace(s)
}

func escapeInline(s string) string {
	return strings.ReplaceAll(s, "_", `\_`)
}

// MarkdownSink writes <name>-v<version>.md into Dir.
type MarkdownSink struct {
	Dir      string
	FileName string
}

func NewMarkdownSink(dir, project, version string) *MarkdownSink {
	return &MarkdownSink{Dir: dir, FileName: MarkdownFileName(project, version)}
}

// MarkdownFileName returns the conventional output name, e.g. "shop-v1.2.0.md".
func MarkdownFileName(project, version string) string {
	name := Slugify(project)
	if strings.TrimSpace(project) == "" {
		name = "release-notes"
	}
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if version == "" {
		return name + ".md"
	}
	return name + "-v" + version + ".md"
}

func (s *MarkdownSink) Path() string {
	return filepath.Join(s.Dir, s.FileName)
}

func (s *MarkdownSink) Write(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(s.Path(), []byte(RenderMarkdown(doc)), 0644); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	return nil
}
