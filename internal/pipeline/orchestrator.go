// Package pipeline sequences fetch, hierarchy assembly, summarization and
// rendering for one release-notes run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"changeweave/internal/generator"
	"changeweave/internal/hierarchy"
	"changeweave/internal/knowledge"
	"changeweave/internal/storage"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle              State = "idle"
	StateFetching          State = "fetching"
	StateBuildingHierarchy State = "building_hierarchy"
	StateSummarizing       State = "summarizing"
	StateRendering         State = "rendering"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Fetcher yields the flat set of work items for a query.
type Fetcher interface {
	FetchWorkItems(ctx context.Context, query string) ([]hierarchy.WorkItem, error)
}

// FetchError is the only error that fails a run. Its message is the
// underlying error's message, unchanged.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// Options is the immutable configuration of one run.
type Options struct {
	Project string
	Version string
	Query   string

	ItemSummaries bool
	RollupSummary bool
	// MinDescriptionChars is only used when no engine is configured, to
	// count the items that would have been summarized.
	MinDescriptionChars int

	Hierarchy hierarchy.Options
	// EligibleStates limits the run to items in these states plus their
	// ancestors. Empty keeps every item.
	EligibleStates []string

	// ReportPath, when set, receives the pipeline report as JSON.
	ReportPath string
	// OutputPath is recorded in run history.
	OutputPath string
}

// Observer is told about every state transition.
type Observer func(from, to State)

// Result describes a finished run. Document is nil only when the run failed.
type Result struct {
	RunID    string
	State    State
	Items    []hierarchy.WorkItem
	Forest   *hierarchy.Forest
	Outcome  *knowledge.Outcome
	Document *generator.Document
	Warnings []hierarchy.Warning
	Report   *generator.PipelineReport
}

// Orchestrator runs the pipeline once. Construct a new one per run.
type Orchestrator struct {
	opts     Options
	fetcher  Fetcher
	renderer *generator.Renderer
	sink     generator.Sink

	engine      *knowledge.Engine
	engineCause error
	runs        storage.RunStore
	observer    Observer
	now         func() time.Time

	mu    sync.Mutex
	state State
}

type Option func(*Orchestrator)

// WithEngine enables summarization. Without it every requested summary is
// counted as missed.
func WithEngine(e *knowledge.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

// WithUnavailableCause records why no engine could be built.
func WithUnavailableCause(err error) Option {
	return func(o *Orchestrator) { o.engineCause = err }
}

func WithRunStore(rs storage.RunStore) Option {
	return func(o *Orchestrator) { o.runs = rs }
}

func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func New(opts Options, fetcher Fetcher, renderer *generator.Renderer, sink generator.Sink, extra ...Option) *Orchestrator {
	o := &Orchestrator{
		opts:     opts,
		fetcher:  fetcher,
		renderer: renderer,
		sink:     sink,
		now:      time.Now,
		state:    StateIdle,
	}
	for _, opt := range extra {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	if o.observer != nil {
		o.observer(from, to)
	}
}

// Run executes the pipeline. Only a fetch failure returns a *FetchError and
// leaves the orchestrator Failed; every later problem degrades the document
// instead. A sink error is returned after the run reaches Done.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if s := o.State(); s != StateIdle {
		return nil, fmt.Errorf("orchestrator already ran (state %s)", s)
	}

	runID := uuid.New().String()
	started := o.now()
	report := generator.NewPipelineReport(runID, o.opts.Project, o.opts.Version, o.opts.OutputPath)
	res := &Result{RunID: runID, Report: report}

	// Fetching
	o.transition(StateFetching)
	fmt.Printf("📥 Fetching work items for %s %s...\n", o.opts.Project, o.opts.Version)
	stage := report.BeginStage("fetch")
	items, err := o.fetcher.FetchWorkItems(ctx, o.opts.Query)
	if err != nil {
		report.EndStage(stage, "error", nil, nil, err)
		report.AddSignal("fetch_failed", "fetch", "critical", err.Error(), 0)
		o.transition(StateFailed)
		res.State = StateFailed
		o.finish(ctx, res, started, err)
		return res, &FetchError{Err: err}
	}
	res.Items = items
	report.EndStage(stage, "ok", map[string]float64{"items": float64(len(items))}, nil, nil)
	fmt.Printf("✅ Fetched %d work items.\n", len(items))

	// BuildingHierarchy
	o.transition(StateBuildingHierarchy)
	stage = report.BeginStage("hierarchy")
	eligible := hierarchy.FilterEligible(items, o.opts.EligibleStates)
	if skipped := len(items) - len(eligible); skipped > 0 {
		fmt.Printf("  -> %d items skipped as not yet closed\n", skipped)
	}
	collector := &hierarchy.WarningCollector{}
	forest := hierarchy.Build(eligible, o.opts.Hierarchy, collector)
	res.Forest = forest
	res.Warnings = collector.Warnings()
	for _, w := range res.Warnings {
		log.Printf("Warning: %v", w)
		report.AddSignal(string(w.Kind), "hierarchy", "warning", w.Error(), 0)
	}
	stats := forest.Stats()
	report.EndStage(stage, "ok", map[string]float64{
		"nodes":     float64(stats.Nodes),
		"roots":     float64(stats.Roots),
		"orphans":   float64(stats.Orphans),
		"max_depth": float64(stats.MaxDepth),
		"warnings":  float64(len(res.Warnings)),
	}, nil, nil)
	fmt.Printf("🌳 Hierarchy built: %d nodes, %d major roots, %d in Other.\n", stats.Nodes, stats.Roots, stats.Orphans)

	// Summarizing
	o.transition(StateSummarizing)
	stage = report.BeginStage("summarize")
	res.Outcome = o.summarize(ctx, forest)
	for _, f := range res.Outcome.Failures {
		log.Printf("Warning: summarization fell back to raw text: %v", f)
		report.AddSignal(failureCode(f), "summarize", "warning", f.Error(), 0)
	}
	coverage := res.Outcome.Coverage()
	report.Coverage = string(coverage)
	report.EndStage(stage, "ok", map[string]float64{
		"eligible":   float64(res.Outcome.Eligible),
		"summarized": float64(res.Outcome.Summarized),
		"cached":     float64(res.Outcome.Cached),
		"failed":     float64(res.Outcome.Failed),
		"abandoned":  float64(res.Outcome.Abandoned),
	}, nil, nil)
	if coverage != knowledge.CoverageDisabled {
		fmt.Printf("🧠 Summarized %d/%d items (%d cached), coverage: %s\n",
			res.Outcome.Summarized, res.Outcome.Eligible, res.Outcome.Cached, coverage)
	}

	// Rendering
	o.transition(StateRendering)
	stage = report.BeginStage("render")
	doc := o.renderer.Render(forest, res.Outcome.DocSummary, string(coverage))
	res.Document = doc
	report.EndStage(stage, "ok", map[string]float64{
		"blocks": float64(len(doc.Blocks)),
		"toc":    float64(len(doc.TOC)),
	}, nil, nil)

	o.transition(StateDone)
	res.State = StateDone

	// the document is complete, so it is written even after cancellation
	var sinkErr error
	if o.sink != nil {
		stage = report.BeginStage("write")
		sinkErr = o.sink.Write(context.WithoutCancel(ctx), doc)
		report.EndStage(stage, "", nil, nil, sinkErr)
		if sinkErr != nil {
			report.AddSignal("write_failed", "write", "critical", sinkErr.Error(), 0)
		}
	}
	o.finish(ctx, res, started, sinkErr)
	if sinkErr != nil {
		return res, fmt.Errorf("failed to write release notes: %w", sinkErr)
	}
	fmt.Printf("🎉 Release notes ready (%d entries).\n", forest.Len())
	return res, nil
}

func (o *Orchestrator) summarize(ctx context.Context, forest *hierarchy.Forest) *knowledge.Outcome {
	if o.engine == nil {
		if o.opts.ItemSummaries || o.opts.RollupSummary {
			fmt.Println("⚠️  Summarization unavailable; using raw descriptions.")
		}
		return knowledge.Unavailable(forest, o.opts.ItemSummaries, o.opts.RollupSummary, o.opts.MinDescriptionChars, o.engineCause)
	}
	if o.opts.ItemSummaries || o.opts.RollupSummary {
		fmt.Println("🧠 Summarizing work items...")
	}
	return o.engine.SummarizeForest(ctx, forest, o.opts.ItemSummaries, o.opts.RollupSummary)
}

// finish saves the report and run history. Neither can fail the run.
func (o *Orchestrator) finish(ctx context.Context, res *Result, started time.Time, runErr error) {
	res.Report.FinalState = string(res.State)
	if o.opts.ReportPath != "" {
		if err := res.Report.Save(o.opts.ReportPath); err != nil {
			log.Printf("Warning: failed to save pipeline report: %v", err)
		}
	}
	if o.runs == nil {
		return
	}
	rec := storage.RunRecord{
		ID:         res.RunID,
		Project:    o.opts.Project,
		Version:    o.opts.Version,
		StartedAt:  started,
		FinishedAt: o.now(),
		FinalState: string(res.State),
		Items:      res.Forest.Len(),
		Warnings:   len(res.Warnings),
		OutputPath: o.opts.OutputPath,
	}
	if res.Outcome != nil {
		rec.Coverage = string(res.Outcome.Coverage())
		rec.Summarized = res.Outcome.Summarized
		rec.Failed = res.Outcome.Failed + res.Outcome.Abandoned
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	var items []hierarchy.WorkItem
	res.Forest.Walk(func(n *hierarchy.Node, _ int) { items = append(items, n.Item) })
	if err := o.runs.SaveRun(context.WithoutCancel(ctx), rec, items); err != nil {
		log.Printf("Warning: failed to record run history: %v", err)
	}
}

func failureCode(err error) string {
	var se *knowledge.SummarizationError
	if errors.As(err, &se) {
		return "summary_" + string(se.Kind)
	}
	return "summary_failed"
}
