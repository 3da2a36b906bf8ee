// Package devops fetches work items from Azure DevOps saved or inline WIQL
// queries and maps them into work items.
package devops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"changeweave/internal/platform"
)

const (
	platformName      = "devops"
	defaultAPIVersion = "7.1"
	maxBatchSize      = 200
	defaultMaxDepth   = 5
)

// Fields requested for every work item.
var Fields = []string{
	"System.Id",
	"System.Title",
	"System.State",
	"System.Tags",
	"System.Description",
	"System.Parent",
	"System.WorkItemType",
	"Microsoft.VSTS.Common.Priority",
	"Microsoft.VSTS.TCM.ReproSteps",
	"Microsoft.VSTS.Common.AcceptanceCriteria",
	"Microsoft.VSTS.Scheduling.StoryPoints",
}

type Config struct {
	// OrgURL is https://dev.azure.com/{org} or https://{org}.visualstudio.com.
	OrgURL     string
	Project    string
	PAT        string
	APIVersion string
	// MaxParentDepth bounds how many ancestor levels are fetched beyond the
	// query result.
	MaxParentDepth int
}

// Source runs a WIQL query, then fetches the matching work items and any
// parents the query left out.
type Source struct {
	cfg        Config
	httpClient *http.Client
}

type SourceOption func(*Source)

func WithHTTPClient(client *http.Client) SourceOption {
	return func(s *Source) { s.httpClient = client }
}

func NewSource(cfg Config, opts ...SourceOption) (*Source, error) {
	if cfg.OrgURL == "" || cfg.Project == "" {
		return nil, fmt.Errorf("azure devops organization url and project are required")
	}
	cfg.OrgURL = strings.TrimRight(cfg.OrgURL, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.MaxParentDepth <= 0 {
		cfg.MaxParentDepth = defaultMaxDepth
	}
	s := &Source{cfg: cfg, httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type wiqlResult struct {
	WorkItems []struct {
		ID int64 `json:"id"`
	} `json:"workItems"`
	WorkItemRelations []struct {
		Source *struct {
			ID int64 `json:"id"`
		} `json:"source"`
		Target *struct {
			ID int64 `json:"id"`
		} `json:"target"`
	} `json:"workItemRelations"`
}

type record struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
}

// FetchRecords accepts a saved query id or an inline WIQL statement.
func (s *Source) FetchRecords(ctx context.Context, query string) ([]json.RawMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("azure devops requires a query id or WIQL statement")
	}
	ids, err := s.runQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(ids))
	var out []json.RawMessage
	pending := ids
	for depth := 0; len(pending) > 0 && depth <= s.cfg.MaxParentDepth; depth++ {
		for _, id := range pending {
			seen[id] = true
		}
		raws, err := s.fetchItems(ctx, pending)
		if err != nil {
			return nil, err
		}
		out = append(out, raws...)

		var parents []int64
		for _, raw := range raws {
			var r record
			if err := json.Unmarshal(raw, &r); err != nil {
				continue
			}
			if p, ok := intField(r.Fields, "System.Parent"); ok && !seen[p] {
				seen[p] = true
				parents = append(parents, p)
			}
		}
		pending = parents
	}
	return out, nil
}

// TypeIcons returns the icon URL of each work-item type in the project.
func (s *Source) TypeIcons(ctx context.Context) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/%s/_apis/wit/workitemtypes?api-version=%s",
		s.cfg.OrgURL, url.PathEscape(s.cfg.Project), s.cfg.APIVersion)
	req, err := s.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Value []struct {
			Name string `json:"name"`
			Icon struct {
				URL string `json:"url"`
			} `json:"icon"`
		} `json:"value"`
	}
	if _, err := platform.DoJSON(s.httpClient, req, platformName, &result); err != nil {
		return nil, err
	}
	icons := make(map[string]string, len(result.Value))
	for _, t := range result.Value {
		if t.Icon.URL != "" {
			icons[t.Name] = t.Icon.URL
		}
	}
	return icons, nil
}

func (s *Source) runQuery(ctx context.Context, query string) ([]int64, error) {
	base := fmt.Sprintf("%s/%s/_apis/wit/wiql", s.cfg.OrgURL, url.PathEscape(s.cfg.Project))

	var req *http.Request
	var err error
	if strings.HasPrefix(strings.ToUpper(query), "SELECT") {
		body, _ := json.Marshal(map[string]string{"query": query})
		req, err = s.newRequest(ctx, http.MethodPost, base+"?api-version="+s.cfg.APIVersion, body)
	} else {
		req, err = s.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/%s?api-version=%s", base, url.PathEscape(query), s.cfg.APIVersion), nil)
	}
	if err != nil {
		return nil, err
	}

	var result wiqlResult
	if _, err := platform.DoJSON(s.httpClient, req, platformName, &result); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, wi := range result.WorkItems {
		add(wi.ID)
	}
	// tree and one-hop queries report links instead of a flat list
	for _, rel := range result.WorkItemRelations {
		if rel.Source != nil {
			add(rel.Source.ID)
		}
		if rel.Target != nil {
			add(rel.Target.ID)
		}
	}
	return ids, nil
}

func (s *Source) fetchItems(ctx context.Context, ids []int64) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for start := 0; start < len(ids); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		strIDs := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			strIDs = append(strIDs, strconv.FormatInt(id, 10))
		}
		params := url.Values{}
		params.Set("ids", strings.Join(strIDs, ","))
		params.Set("fields", strings.Join(Fields, ","))
		params.Set("errorPolicy", "omit")
		params.Set("api-version", s.cfg.APIVersion)
		endpoint := fmt.Sprintf("%s/%s/_apis/wit/workitems?%s", s.cfg.OrgURL, url.PathEscape(s.cfg.Project), params.Encode())

		req, err := s.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		var result struct {
			Value []json.RawMessage `json:"value"`
		}
		if _, err := platform.DoJSON(s.httpClient, req, platformName, &result); err != nil {
			return nil, err
		}
		for _, v := range result.Value {
			// errorPolicy=omit returns null for deleted or forbidden ids
			if string(v) != "null" {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

func (s *Source) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.PAT != "" {
		req.SetBasicAuth("", s.cfg.PAT)
	}
	return req, nil
}

func intField(fields map[string]any, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return int64(v), v > 0
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}
