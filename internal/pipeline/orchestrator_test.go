package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"changeweave/internal/config"
	"changeweave/internal/generator"
	"changeweave/internal/hierarchy"
	"changeweave/internal/knowledge"
	"changeweave/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFetcher struct {
	items []hierarchy.WorkItem
	err   error
	query string
}

func (f *staticFetcher) FetchWorkItems(_ context.Context, query string) ([]hierarchy.WorkItem, error) {
	f.query = query
	return f.items, f.err
}

type echoSummarizer struct {
	fail bool
}

func (s echoSummarizer) Summarize(ctx context.Context, _ string, sc knowledge.SummaryContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.fail {
		return "", &knowledge.StatusError{Provider: "test", Code: 500, Body: "boom"}
	}
	if sc.Kind == knowledge.KindRelease {
		return "A release focused on checkout.", nil
	}
	return "Summary of " + sc.ItemID, nil
}

type captureSink struct {
	mu   sync.Mutex
	docs []*generator.Document
	err  error
}

func (s *captureSink) Write(_ context.Context, doc *generator.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return s.err
}

func chainItems() []hierarchy.WorkItem {
	return []hierarchy.WorkItem{
		{ID: "B1", Type: "Bug", Title: "Saving crashes", Description: "Saving a draft crashed the editor.", ParentID: "F1", State: "Closed"},
		{ID: "E1", Type: "Epic", Title: "Editor", Description: "Make the editor reliable for daily use.", State: "Active"},
		{ID: "F1", Type: "Feature", Title: "Drafts", Description: "Drafts are stored while typing.", ParentID: "E1", State: "Closed"},
		{ID: "T9", Type: "Task", Title: "Unfinished", Description: "Still in progress work here.", State: "Active"},
	}
}

func baseOptions() Options {
	return Options{
		Project:        "Editor",
		Version:        "1.0.0",
		Query:          "milestone:1.0",
		ItemSummaries:  true,
		RollupSummary:  true,
		Hierarchy:      hierarchy.Options{Classification: hierarchy.DefaultClassification()},
		EligibleStates: []string{"Closed"},
	}
}

func newRenderer() *generator.Renderer {
	return generator.NewRenderer(generator.RenderOptions{Project: "Editor", Version: "1.0.0", GeneratedAt: "2026-01-01T00:00:00Z"})
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	fetcher := &staticFetcher{items: chainItems()}
	sink := &captureSink{}
	var transitions []State
	engine := knowledge.NewEngine(echoSummarizer{}, knowledge.EngineOptions{Concurrency: 2})

	o := New(baseOptions(), fetcher, newRenderer(), sink,
		WithEngine(engine),
		WithObserver(func(_, to State) { transitions = append(transitions, to) }),
	)
	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "milestone:1.0", fetcher.query)
	assert.Equal(t, []State{StateFetching, StateBuildingHierarchy, StateSummarizing, StateRendering, StateDone}, transitions)
	assert.Equal(t, StateDone, o.State())
	assert.NotEmpty(t, res.RunID)

	// the open epic stays as structure for its closed descendants, the open task does not
	assert.Equal(t, 3, res.Forest.Len())
	assert.Nil(t, res.Forest.Find("T9"))

	doc := res.Document
	require.Len(t, doc.Blocks, 3)
	assert.Equal(t, []string{"E1", "F1", "B1"}, []string{doc.Blocks[0].ItemID, doc.Blocks[1].ItemID, doc.Blocks[2].ItemID})
	assert.Equal(t, generator.BlockHeading, doc.Blocks[0].Kind)
	assert.Equal(t, generator.BlockHeading, doc.Blocks[1].Kind)
	assert.Equal(t, generator.BlockEntry, doc.Blocks[2].Kind)
	assert.Equal(t, "Summary of B1", doc.Blocks[2].Text)
	assert.Equal(t, "A release focused on checkout.", doc.Summary)
	assert.Equal(t, string(knowledge.CoverageFull), doc.Coverage)
	assert.Len(t, doc.TOC, 3)

	require.Len(t, sink.docs, 1)
	assert.Same(t, doc, sink.docs[0])

	_, err = o.Run(context.Background())
	assert.Error(t, err, "an orchestrator runs once")
}

func TestOrchestrator_FetchFailure(t *testing.T) {
	boom := errors.New("401 unauthorized: bad token")
	sink := &captureSink{}
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	var transitions []State
	o := New(baseOptions(), &staticFetcher{err: boom}, newRenderer(), sink,
		WithRunStore(store),
		WithObserver(func(_, to State) { transitions = append(transitions, to) }),
	)
	res, err := o.Run(context.Background())
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, boom.Error(), err.Error())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, o.State())
	assert.Equal(t, []State{StateFetching, StateFailed}, transitions)
	assert.Nil(t, res.Document)
	assert.Empty(t, sink.docs)

	runs, err := store.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].FinalState)
	assert.Equal(t, boom.Error(), runs[0].Error)
}

func TestOrchestrator_FallbackMatchesDisabled(t *testing.T) {
	failing := New(baseOptions(), &staticFetcher{items: chainItems()}, newRenderer(), nil,
		WithEngine(knowledge.NewEngine(echoSummarizer{fail: true}, knowledge.EngineOptions{})))
	failed, err := failing.Run(context.Background())
	require.NoError(t, err)

	opts := baseOptions()
	opts.ItemSummaries = false
	opts.RollupSummary = false
	disabled, err := New(opts, &staticFetcher{items: chainItems()}, newRenderer(), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, disabled.Document.Blocks, failed.Document.Blocks)
	assert.Equal(t, disabled.Document.TOC, failed.Document.TOC)
	assert.Equal(t, string(knowledge.CoverageNone), failed.Document.Coverage)
	assert.Equal(t, string(knowledge.CoverageDisabled), disabled.Document.Coverage)
	assert.True(t, failed.Document.SummaryPlaceholder)
	assert.Equal(t, 4, len(failed.Outcome.Failures), "three items and the roll-up")
}

func TestOrchestrator_NoEngineCountsAsMissed(t *testing.T) {
	cause := errors.New("AI API key not configured")
	res, err := New(baseOptions(), &staticFetcher{items: chainItems()}, newRenderer(), nil,
		WithUnavailableCause(cause)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, knowledge.CoverageNone, res.Outcome.Coverage())
	assert.Equal(t, 3, res.Outcome.Failed)
	assert.Equal(t, "Saving a draft crashed the editor.", res.Document.Blocks[2].Text)
}

func TestOrchestrator_ProviderNoneIsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.AI.Provider = "none"
	opts := baseOptions()
	opts.ItemSummaries, opts.RollupSummary = cfg.SummaryRequests()

	res, err := New(opts, &staticFetcher{items: chainItems()}, newRenderer(), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, knowledge.CoverageDisabled, res.Outcome.Coverage())
	assert.Equal(t, string(knowledge.CoverageDisabled), res.Document.Coverage)
	assert.Zero(t, res.Outcome.Failed)
	assert.Empty(t, res.Outcome.Failures)
}

func TestOrchestrator_CancelledRunStillRenders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &captureSink{}
	engine := knowledge.NewEngine(echoSummarizer{}, knowledge.EngineOptions{})
	res, err := New(baseOptions(), &staticFetcher{items: chainItems()}, newRenderer(), sink, WithEngine(engine)).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 3, res.Outcome.Abandoned)
	assert.Zero(t, res.Outcome.Summarized)
	for _, b := range res.Document.Blocks {
		assert.False(t, b.Summarized)
	}
	assert.Len(t, sink.docs, 1)
}

func TestOrchestrator_SinkErrorKeepsDone(t *testing.T) {
	sink := &captureSink{err: errors.New("disk full")}
	reportPath := filepath.Join(t.TempDir(), "pipeline_report.json")
	opts := baseOptions()
	opts.ReportPath = reportPath

	o := New(opts, &staticFetcher{items: chainItems()}, newRenderer(), sink)
	res, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	var fe *FetchError
	assert.False(t, errors.As(err, &fe))
	assert.Equal(t, StateDone, o.State())
	require.NotNil(t, res.Document)
	assert.FileExists(t, reportPath)
	assert.Equal(t, "done", res.Report.FinalState)
}

func TestOrchestrator_WarningsBecomeSignals(t *testing.T) {
	items := append(chainItems(),
		hierarchy.WorkItem{ID: "X1", Type: "Bug", Title: "Orphan", ParentID: "missing", State: "Closed"},
	)
	res, err := New(baseOptions(), &staticFetcher{items: items}, newRenderer(), nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, hierarchy.WarnDanglingParent, res.Warnings[0].Kind)
	assert.Equal(t, 1, res.Report.Counts()["warning"])
}
