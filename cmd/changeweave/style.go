package main

import (
	"fmt"
	"strings"

	"changeweave/internal/knowledge"
	"changeweave/internal/pipeline"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
)

func coverageStyle(c string) lipgloss.Style {
	switch knowledge.Coverage(c) {
	case knowledge.CoverageFull:
		return okStyle
	case knowledge.CoveragePartial, knowledge.CoverageNone:
		return warnStyle
	default:
		return mutedStyle
	}
}

func stateStyle(s string) lipgloss.Style {
	switch pipeline.State(s) {
	case pipeline.StateDone:
		return okStyle
	case pipeline.StateFailed:
		return errorStyle
	default:
		return mutedStyle
	}
}

// renderRunSummary draws the boxed status shown after generate.
func renderRunSummary(res *pipeline.Result, outputs []string) string {
	var lines []string
	lines = append(lines, titleStyle.Render(res.Document.Title))
	lines = append(lines, fmt.Sprintf("State:    %s", stateStyle(string(res.State)).Render(string(res.State))))
	lines = append(lines, fmt.Sprintf("Coverage: %s", coverageStyle(res.Document.Coverage).Render(res.Document.Coverage)))
	lines = append(lines, fmt.Sprintf("Items:    %d (%d summarized, %d cached, %d fell back)",
		res.Forest.Len(), res.Outcome.Summarized, res.Outcome.Cached, res.Outcome.Failed+res.Outcome.Abandoned))
	if n := len(res.Warnings); n > 0 {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("Warnings: %d hierarchy warnings", n)))
	}
	for _, p := range outputs {
		lines = append(lines, mutedStyle.Render("→ "+p))
	}
	return summaryStyle.Render(strings.Join(lines, "\n"))
}
