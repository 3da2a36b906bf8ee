package knowledge

import (
	"fmt"
	"strings"
)

// PromptBuilder constructs the prompts sent for item and release summaries.
type PromptBuilder struct{}

const securityInstruction = "\n**SECURITY WARNING**: Redact any API keys, passwords, secrets, or tokens with `[REDACTED]`. Never output real credential values.\n"

func (pb *PromptBuilder) Build(text string, sc SummaryContext) string {
	if sc.Kind == KindRelease {
		return pb.BuildReleasePrompt(text, sc.Project)
	}
	return pb.BuildItemPrompt(text, sc)
}

func (pb *PromptBuilder) BuildItemPrompt(text string, sc SummaryContext) string {
	var sb strings.Builder
	sb.WriteString("Role: Release Notes Editor. Task: Write one changelog entry for a single work item.\n")
	sb.WriteString(securityInstruction)
	writeProject(&sb, sc.Project)
	fmt.Fprintf(&sb, "\nWork item %s (%s): %s\n", sc.ItemID, orDefault(sc.ItemType, "Other"), sc.Title)
	sb.WriteString("Description:\n")
	sb.WriteString(strings.TrimSpace(text))
	sb.WriteString("\n\n**INSTRUCTION**:\n")
	sb.WriteString("- Summarize what changed for the user in one or two plain sentences.\n")
	sb.WriteString("- Do not repeat the title, the id, or the work item type.\n")
	sb.WriteString("- No headings, lists, links, or Markdown formatting.\n")
	sb.WriteString("- If the description carries no usable information, answer with the single word: Addressed\n")
	return sb.String()
}

func (pb *PromptBuilder) BuildReleasePrompt(text string, project ProjectInfo) string {
	var sb strings.Builder
	sb.WriteString("Role: Release Manager. Task: Write the overview paragraph of a release notes document.\n")
	sb.WriteString(securityInstruction)
	writeProject(&sb, project)
	sb.WriteString("\nTop-level changes in this release:\n")
	sb.WriteString(strings.TrimSpace(text))
	sb.WriteString("\n\n**INSTRUCTION**:\n")
	sb.WriteString("- Write a single paragraph of at most five sentences describing the release as a whole.\n")
	sb.WriteString("- Group related changes; mention the most significant ones first.\n")
	sb.WriteString("- Plain prose only. No headings or lists.\n")
	return sb.String()
}

func writeProject(sb *strings.Builder, p ProjectInfo) {
	if p.Name == "" && p.Brief == "" {
		return
	}
	fmt.Fprintf(sb, "\nProduct: %s", orDefault(p.Name, "unnamed"))
	if p.Version != "" {
		fmt.Fprintf(sb, " (version %s)", p.Version)
	}
	sb.WriteString("\n")
	if p.Brief != "" {
		fmt.Fprintf(sb, "About the product: %s\n", strings.TrimSpace(p.Brief))
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
