package github

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"changeweave/internal/hierarchy"
	"changeweave/internal/platform"
)

var parentRefPattern = regexp.MustCompile(`(?im)^\s*(?:parent|part of)\s*:?\s*#(\d+)\b`)

type issue struct {
	Number      int64           `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	HTMLURL     string          `json:"html_url"`
	State       string          `json:"state"`
	Labels      []label         `json:"labels"`
	PullRequest json.RawMessage `json:"pull_request"`
}

type label struct {
	Name string `json:"name"`
}

// Adapter maps issue and pull request records. LabelTypes maps a label
// (case-insensitive) to a work-item type; the first matching label wins.
type Adapter struct {
	LabelTypes map[string]string
}

func NewAdapter(labelTypes map[string]string) *Adapter {
	lt := make(map[string]string, len(labelTypes))
	for k, v := range labelTypes {
		lt[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Adapter{LabelTypes: lt}
}

func (a *Adapter) Platform() string { return platformName }

func (a *Adapter) ToWorkItem(raw json.RawMessage) (hierarchy.WorkItem, error) {
	var is issue
	if err := json.Unmarshal(raw, &is); err != nil {
		return hierarchy.WorkItem{}, fmt.Errorf("failed to decode issue: %w", err)
	}
	if is.Number == 0 {
		return hierarchy.WorkItem{}, fmt.Errorf("issue record has no number")
	}

	tags := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		if l.Name != "" {
			tags = append(tags, l.Name)
		}
	}

	item := hierarchy.WorkItem{
		ID:          fmt.Sprint(is.Number),
		Type:        a.typeFor(is, tags),
		Title:       platform.CleanText(is.Title, 1),
		Description: platform.CleanText(is.Body, 10),
		URL:         is.HTMLURL,
		State:       is.State,
		Tags:        tags,
	}
	if m := parentRefPattern.FindStringSubmatch(is.Body); m != nil && m[1] != item.ID {
		item.ParentID = m[1]
	}
	return item, nil
}

func (a *Adapter) typeFor(is issue, tags []string) string {
	for _, t := range tags {
		if typ, ok := a.LabelTypes[strings.ToLower(t)]; ok && typ != "" {
			return typ
		}
	}
	if len(is.PullRequest) > 0 && string(is.PullRequest) != "null" {
		return "Pull Request"
	}
	return "Issue"
}
