package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"changeweave/internal/hierarchy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSummarizer struct {
	fn func(ctx context.Context, text string, sc SummaryContext) (string, error)

	mu       sync.Mutex
	releases []string
	items    []string
}

func (m *mockSummarizer) Summarize(ctx context.Context, text string, sc SummaryContext) (string, error) {
	m.mu.Lock()
	if sc.Kind == KindRelease {
		m.releases = append(m.releases, text)
	} else {
		m.items = append(m.items, sc.ItemID)
	}
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(ctx, text, sc)
	}
	if sc.Kind == KindRelease {
		return "Release overview.", nil
	}
	return "Summary of " + sc.ItemID, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func (c *memoryCache) GetSummary(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	return s, ok, nil
}

func (c *memoryCache) PutSummary(_ context.Context, key, _ string, summary string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]string{}
	}
	c.entries[key] = summary
	return nil
}

func sampleForest() *hierarchy.Forest {
	items := []hierarchy.WorkItem{
		{ID: "1", Type: "Epic", Title: "Checkout", Description: "Rework the whole checkout flow end to end."},
		{ID: "2", Type: "Feature", ParentID: "1", Title: "Saved cards", Description: "Customers can store cards for later purchases."},
		{ID: "3", Type: "Bug", ParentID: "2", Title: "Crash", Description: "App crashes on save"},
		{ID: "4", Type: "Bug", Title: "Typo", Description: "short"},
		{ID: "5", Type: "Backlog Item", Title: "Docs", Description: "Document the public REST endpoints."},
	}
	return hierarchy.Build(items, hierarchy.Options{Classification: hierarchy.DefaultClassification()}, nil)
}

func TestEngine_SummarizeForest(t *testing.T) {
	forest := sampleForest()
	sum := &mockSummarizer{}
	engine := NewEngine(sum, EngineOptions{Concurrency: 2})

	out := engine.SummarizeForest(context.Background(), forest, true, true)

	assert.Equal(t, 4, out.Eligible, "short descriptions are skipped")
	assert.Equal(t, 4, out.Summarized)
	assert.Zero(t, out.Failed)
	assert.Equal(t, CoverageFull, out.Coverage())
	assert.Equal(t, "Release overview.", out.DocSummary)
	assert.True(t, out.RollupApplied)

	assert.Equal(t, "Summary of 3", forest.Find("3").Summary)
	assert.Equal(t, hierarchy.SummaryGenerated, forest.Find("3").SummarySource)
	assert.Empty(t, forest.Find("4").Summary)

	require.Len(t, sum.releases, 1)
	assert.Contains(t, sum.releases[0], "Summary of 1", "roll-up reads finished item summaries")
	assert.Contains(t, sum.releases[0], "Summary of 5")
	assert.NotContains(t, sum.releases[0], "Summary of 2", "only top-level nodes feed the roll-up")
}

func TestEngine_ItemFailureFallsBack(t *testing.T) {
	forest := sampleForest()
	sum := &mockSummarizer{fn: func(ctx context.Context, text string, sc SummaryContext) (string, error) {
		if sc.ItemID == "3" {
			return "", &StatusError{Provider: "test", Code: 429, Body: "slow down"}
		}
		return "ok " + sc.ItemID, nil
	}}
	engine := NewEngine(sum, EngineOptions{})

	out := engine.SummarizeForest(context.Background(), forest, true, false)

	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 3, out.Summarized)
	assert.Equal(t, CoveragePartial, out.Coverage())
	require.Len(t, out.Failures, 1)
	var se *SummarizationError
	require.True(t, errors.As(out.Failures[0], &se))
	assert.Equal(t, FailureQuota, se.Kind)
	assert.Equal(t, "3", se.ItemID)

	crash := forest.Find("3")
	assert.Empty(t, crash.Summary)
	assert.Equal(t, "App crashes on save", crash.Text())
}

func TestEngine_RollupFailureKeepsPlaceholder(t *testing.T) {
	forest := sampleForest()
	sum := &mockSummarizer{fn: func(ctx context.Context, text string, sc SummaryContext) (string, error) {
		if sc.Kind == KindRelease {
			return "   ", nil
		}
		return "fine", nil
	}}

	out := NewEngine(sum, EngineOptions{}).SummarizeForest(context.Background(), forest, true, true)

	assert.False(t, out.RollupApplied)
	assert.Empty(t, out.DocSummary)
	assert.Equal(t, CoveragePartial, out.Coverage())
	require.Len(t, out.Failures, 1)
	var se *SummarizationError
	require.True(t, errors.As(out.Failures[0], &se))
	assert.Equal(t, FailureMalformed, se.Kind)
	assert.Empty(t, se.ItemID)
}

func TestEngine_RollupOnlyUsesRawText(t *testing.T) {
	forest := sampleForest()
	sum := &mockSummarizer{}

	out := NewEngine(sum, EngineOptions{}).SummarizeForest(context.Background(), forest, false, true)

	assert.Empty(t, sum.items)
	assert.Zero(t, out.Eligible)
	require.Len(t, sum.releases, 1)
	assert.Contains(t, sum.releases[0], "Rework the whole checkout flow end to end.")
	assert.Contains(t, sum.releases[0], "short")
	assert.Equal(t, CoverageFull, out.Coverage())
}

func TestEngine_BoundedConcurrency(t *testing.T) {
	var items []hierarchy.WorkItem
	for i := 1; i <= 20; i++ {
		items = append(items, hierarchy.WorkItem{ID: fmt.Sprint(i), Type: "Bug", Description: "A description long enough to summarize."})
	}
	forest := hierarchy.Build(items, hierarchy.Options{}, nil)

	var inFlight, peak int32
	sum := &mockSummarizer{fn: func(ctx context.Context, text string, sc SummaryContext) (string, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "done", nil
	}}

	out := NewEngine(sum, EngineOptions{Concurrency: 3}).SummarizeForest(context.Background(), forest, true, false)

	assert.Equal(t, 20, out.Summarized)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestEngine_RequestTimeout(t *testing.T) {
	forest := sampleForest()
	sum := &mockSummarizer{fn: func(ctx context.Context, text string, sc SummaryContext) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}

	out := NewEngine(sum, EngineOptions{RequestTimeout: 10 * time.Millisecond}).SummarizeForest(context.Background(), forest, true, false)

	assert.Equal(t, 4, out.Failed)
	assert.Equal(t, CoverageNone, out.Coverage())
	for _, err := range out.Failures {
		var se *SummarizationError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, FailureTimeout, se.Kind)
	}
	forest.Walk(func(n *hierarchy.Node, _ int) {
		assert.Empty(t, n.Summary)
	})
}

func TestEngine_CancellationAbandonsPending(t *testing.T) {
	forest := sampleForest()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 10)
	sum := &mockSummarizer{fn: func(ctx context.Context, text string, sc SummaryContext) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "late summary", ctx.Err()
	}}
	engine := NewEngine(sum, EngineOptions{Concurrency: 1})

	go func() {
		<-started
		cancel()
	}()

	done := make(chan *Outcome, 1)
	go func() { done <- engine.SummarizeForest(ctx, forest, true, true) }()

	select {
	case out := <-done:
		assert.Equal(t, 4, out.Abandoned)
		assert.Zero(t, out.Summarized)
		assert.False(t, out.RollupApplied)
		assert.Equal(t, CoverageNone, out.Coverage())
		forest.Walk(func(n *hierarchy.Node, _ int) {
			assert.Empty(t, n.Summary, "no partial result is applied")
		})
	case <-time.After(2 * time.Second):
		t.Fatal("summarization did not return after cancellation")
	}
}

func TestEngine_UsesCache(t *testing.T) {
	cache := &memoryCache{}
	first := &mockSummarizer{}
	NewEngine(first, EngineOptions{Cache: cache, CacheNamespace: "test/model"}).
		SummarizeForest(context.Background(), sampleForest(), true, false)
	require.Len(t, first.items, 4)

	second := &mockSummarizer{}
	forest := sampleForest()
	out := NewEngine(second, EngineOptions{Cache: cache, CacheNamespace: "test/model"}).
		SummarizeForest(context.Background(), forest, true, false)

	assert.Empty(t, second.items)
	assert.Equal(t, 4, out.Cached)
	assert.Equal(t, 4, out.Summarized)
	assert.Equal(t, hierarchy.SummaryCached, forest.Find("2").SummarySource)
	assert.Equal(t, "Summary of 2", forest.Find("2").Summary)
}

func TestOutcome_Coverage(t *testing.T) {
	tests := []struct {
		name string
		out  Outcome
		want Coverage
	}{
		{"disabled", Outcome{}, CoverageDisabled},
		{"full", Outcome{ItemsRequested: true, Eligible: 2, Summarized: 2}, CoverageFull},
		{"nothing eligible", Outcome{ItemsRequested: true}, CoverageFull},
		{"partial", Outcome{ItemsRequested: true, Eligible: 2, Summarized: 1, Failed: 1}, CoveragePartial},
		{"none", Outcome{ItemsRequested: true, Eligible: 2, Abandoned: 2}, CoverageNone},
		{"rollup failed only", Outcome{RollupRequested: true}, CoverageNone},
		{"items ok rollup failed", Outcome{ItemsRequested: true, RollupRequested: true, Summarized: 1}, CoveragePartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.out.Coverage())
		})
	}
}

func TestUnavailable(t *testing.T) {
	out := Unavailable(sampleForest(), true, true, 0, errors.New("no api key"))
	assert.Equal(t, 4, out.Failed)
	assert.Equal(t, CoverageNone, out.Coverage())
	require.Len(t, out.Failures, 1)
	assert.True(t, strings.Contains(out.Failures[0].Error(), "no api key"))
}

func TestEngine_EmptyForestHasNothingToRollUp(t *testing.T) {
	m := &mockSummarizer{}
	empty := hierarchy.Build(nil, hierarchy.Options{}, nil)

	out := NewEngine(m, EngineOptions{}).SummarizeForest(context.Background(), empty, true, true)

	assert.False(t, out.RollupRequested)
	assert.Empty(t, out.Failures)
	assert.Empty(t, m.releases)
	assert.Equal(t, CoverageFull, out.Coverage())

	out = NewEngine(m, EngineOptions{}).SummarizeForest(context.Background(), empty, false, true)
	assert.Equal(t, CoverageDisabled, out.Coverage())

	assert.Equal(t, CoverageDisabled, Unavailable(empty, false, true, 0, nil).Coverage())
}
