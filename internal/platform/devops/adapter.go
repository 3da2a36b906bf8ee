package devops

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"changeweave/internal/hierarchy"
	"changeweave/internal/platform"
)

var apiURLPattern = regexp.MustCompile(`(?i)_apis/wit/workitems`)

// Adapter maps Azure DevOps work item records. Icons maps a type name to its
// icon URL, usually from Source.TypeIcons.
type Adapter struct {
	Icons map[string]string
}

func NewAdapter(icons map[string]string) *Adapter {
	return &Adapter{Icons: icons}
}

func (a *Adapter) Platform() string { return platformName }

func (a *Adapter) ToWorkItem(raw json.RawMessage) (hierarchy.WorkItem, error) {
	var r struct {
		ID     int64          `json:"id"`
		URL    string         `json:"url"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return hierarchy.WorkItem{}, fmt.Errorf("failed to decode work item: %w", err)
	}
	if r.ID == 0 {
		return hierarchy.WorkItem{}, fmt.Errorf("work item record has no id")
	}

	typ := stringField(r.Fields, "System.WorkItemType")
	item := hierarchy.WorkItem{
		ID:    strconv.FormatInt(r.ID, 10),
		Type:  typ,
		Title: platform.CleanText(stringField(r.Fields, "System.Title"), 1),
		URL:   apiURLPattern.ReplaceAllString(r.URL, "_workitems/edit"),
		State: stringField(r.Fields, "System.State"),
		Tags:  splitTags(stringField(r.Fields, "System.Tags")),
		Icon:  a.Icons[typ],
	}
	for _, key := range []string{
		"System.Description",
		"Microsoft.VSTS.TCM.ReproSteps",
		"Microsoft.VSTS.Common.AcceptanceCriteria",
	} {
		if d := platform.CleanText(stringField(r.Fields, key), 10); d != "" {
			item.Description = d
			break
		}
	}
	if p, ok := intField(r.Fields, "System.Parent"); ok {
		item.ParentID = strconv.FormatInt(p, 10)
	}
	return item, nil
}

func stringField(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ";") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
