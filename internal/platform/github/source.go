// Package github fetches issues and pull requests from the GitHub REST API
// and maps them into work items.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"changeweave/internal/platform"
)

const (
	DefaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	platformName   = "github"

	defaultPerPage  = 100
	defaultMaxPages = 10
)

// Config selects the repository and paging limits.
type Config struct {
	Owner   string
	Repo    string
	BaseURL string
	// State filters the issue listing when no search query is given.
	State               string
	IncludePullRequests bool
	PerPage             int
	MaxPages            int
}

// Source lists repository issues, or runs an issue search when a query is
// supplied. Search queries are always scoped to the configured repository.
type Source struct {
	cfg        Config
	auth       Authenticator
	httpClient *http.Client
}

type SourceOption func(*Source)

func WithHTTPClient(client *http.Client) SourceOption {
	return func(s *Source) { s.httpClient = client }
}

func NewSource(cfg Config, auth Authenticator, opts ...SourceOption) (*Source, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repository are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.State == "" {
		cfg.State = "closed"
	}
	if cfg.PerPage <= 0 || cfg.PerPage > 100 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if auth == nil {
		auth = StaticToken("")
	}
	s := &Source{
		cfg:        cfg,
		auth:       auth,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchRecords pages through the listing or search results. Pages are
// followed through the Link header; servers that omit it are paged by number
// until a short page.
func (s *Source) FetchRecords(ctx context.Context, query string) ([]json.RawMessage, error) {
	query = strings.TrimSpace(query)
	search := query != ""
	endpoint := s.endpoint(query, 1)

	var all []json.RawMessage
	for page := 1; page <= s.cfg.MaxPages && endpoint != ""; page++ {
		records, header, err := s.fetchPage(ctx, endpoint, search)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if !s.cfg.IncludePullRequests && isPullRequest(r) {
				continue
			}
			all = append(all, r)
		}

		switch {
		case header.Get("Link") != "":
			endpoint = platform.NextLink(header)
		case len(records) < s.cfg.PerPage:
			endpoint = ""
		default:
			endpoint = s.endpoint(query, page+1)
		}
	}
	return all, nil
}

func (s *Source) endpoint(query string, page int) string {
	params := url.Values{}
	params.Set("per_page", fmt.Sprint(s.cfg.PerPage))
	params.Set("page", fmt.Sprint(page))

	if query == "" {
		params.Set("state", s.cfg.State)
		return fmt.Sprintf("%s/repos/%s/%s/issues?%s", s.cfg.BaseURL, s.cfg.Owner, s.cfg.Repo, params.Encode())
	}
	params.Set("q", fmt.Sprintf("repo:%s/%s %s", s.cfg.Owner, s.cfg.Repo, query))
	return fmt.Sprintf("%s/search/issues?%s", s.cfg.BaseURL, params.Encode())
}

func (s *Source) fetchPage(ctx context.Context, endpoint string, search bool) ([]json.RawMessage, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	authz, err := s.auth.Authorization(ctx)
	if err != nil {
		return nil, nil, err
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	if !search {
		var records []json.RawMessage
		header, err := platform.DoJSON(s.httpClient, req, platformName, &records)
		if err != nil {
			return nil, nil, err
		}
		return records, header, nil
	}
	var result struct {
		Items []json.RawMessage `json:"items"`
	}
	header, err := platform.DoJSON(s.httpClient, req, platformName, &result)
	if err != nil {
		return nil, nil, err
	}
	return result.Items, header, nil
}

func isPullRequest(raw json.RawMessage) bool {
	var probe struct {
		PullRequest json.RawMessage `json:"pull_request"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe.PullRequest) > 0 && string(probe.PullRequest) != "null"
}
