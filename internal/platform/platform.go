// Package platform maps tracking-platform records into work items. Each
// platform supplies a Source (HTTP retrieval) and an Adapter (record mapping);
// nothing downstream branches on which platform produced an item.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"changeweave/internal/hierarchy"
)

// Adapter converts one raw platform record into a WorkItem.
type Adapter interface {
	Platform() string
	ToWorkItem(raw json.RawMessage) (hierarchy.WorkItem, error)
}

// Source retrieves raw records for a platform-specific query.
type Source interface {
	FetchRecords(ctx context.Context, query string) ([]json.RawMessage, error)
}

// Client pairs a Source with its Adapter and implements the pipeline fetcher.
type Client struct {
	source  Source
	adapter Adapter
}

func NewClient(source Source, adapter Adapter) *Client {
	return &Client{source: source, adapter: adapter}
}

func (c *Client) Platform() string { return c.adapter.Platform() }

// FetchWorkItems returns every record the adapter could map. Records that
// fail to map are skipped with a warning; a source failure is returned.
func (c *Client) FetchWorkItems(ctx context.Context, query string) ([]hierarchy.WorkItem, error) {
	raws, err := c.source.FetchRecords(ctx, query)
	if err != nil {
		return nil, err
	}
	items := make([]hierarchy.WorkItem, 0, len(raws))
	for _, raw := range raws {
		it, err := c.adapter.ToWorkItem(raw)
		if err != nil {
			log.Printf("Warning: skipping %s record: %v", c.adapter.Platform(), err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// HTTPError is returned when a platform API answers with a non-2xx status.
type HTTPError struct {
	Platform string
	Method   string
	URL      string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s %s %s returned %d: %s", e.Platform, e.Method, e.URL, e.Status, body)
}

// DoJSON sends req and decodes a 2xx JSON body into out. It returns the
// response headers so callers can follow pagination links (see NextLink).
func DoJSON(client *http.Client, req *http.Request, platformName string, out any) (http.Header, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", platformName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", platformName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			Platform: platformName,
			Method:   req.Method,
			URL:      req.URL.Redacted(),
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return resp.Header, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", platformName, err)
	}
	return resp.Header, nil
}

var linkNext = regexp.MustCompile(`<([^>]+)>\s*;[^,]*\brel="?next"?`)

// NextLink returns the rel="next" target of an RFC 8288 Link header, or "".
func NextLink(h http.Header) string {
	for _, v := range h.Values("Link") {
		if m := linkNext.FindStringSubmatch(v); m != nil {
			return m[1]
		}
	}
	return ""
}
