package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"changeweave/internal/hierarchy"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency         = 4
	DefaultRequestTimeout      = 60 * time.Second
	DefaultMinDescriptionChars = 10
)

type EngineOptions struct {
	// Concurrency caps in-flight summarization requests.
	Concurrency    int
	RequestTimeout time.Duration
	// MinDescriptionChars is the shortest description, in non-space
	// characters, worth sending to the model.
	MinDescriptionChars int
	Project             ProjectInfo

	Cache SummaryCache
	// CacheNamespace separates cached summaries per provider and model.
	CacheNamespace string
}

// Engine drives per-item and roll-up summarization over a forest.
type Engine struct {
	summarizer Summarizer
	opts       EngineOptions
}

func NewEngine(s Summarizer, opts EngineOptions) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MinDescriptionChars <= 0 {
		opts.MinDescriptionChars = DefaultMinDescriptionChars
	}
	return &Engine{summarizer: s, opts: opts}
}

type Coverage string

const (
	CoverageFull     Coverage = "full"
	CoveragePartial  Coverage = "partial"
	CoverageNone     Coverage = "none"
	CoverageDisabled Coverage = "disabled"
)

// Outcome records what summarization achieved for one forest.
type Outcome struct {
	ItemsRequested  bool
	RollupRequested bool

	Eligible   int
	Summarized int
	Cached     int
	Failed     int
	Abandoned  int

	DocSummary    string
	RollupApplied bool

	Failures []error
}

// Coverage tells readers whether the document was fully, partially, or not at
// all enriched by the model.
func (o *Outcome) Coverage() Coverage {
	if o == nil || (!o.ItemsRequested && !o.RollupRequested) {
		return CoverageDisabled
	}
	applied, missed := 0, 0
	if o.ItemsRequested {
		applied += o.Summarized
		missed += o.Failed + o.Abandoned
	}
	if o.RollupRequested {
		if o.RollupApplied {
			applied++
		} else {
			missed++
		}
	}
	switch {
	case missed == 0:
		return CoverageFull
	case applied == 0:
		return CoverageNone
	default:
		return CoveragePartial
	}
}

// Unavailable builds the outcome of a run whose summarizer could not be set
// up: everything requested counts as missed.
func Unavailable(forest *hierarchy.Forest, itemSummaries, rollup bool, minChars int, cause error) *Outcome {
	if minChars <= 0 {
		minChars = DefaultMinDescriptionChars
	}
	out := &Outcome{ItemsRequested: itemSummaries, RollupRequested: rollup && RollupInput(forest) != ""}
	if itemSummaries {
		out.Eligible = len(eligibleNodes(forest, minChars))
		out.Failed = out.Eligible
	}
	if cause != nil && (itemSummaries || rollup) {
		out.Failures = append(out.Failures, &SummarizationError{Kind: FailureTransport, Err: cause})
	}
	return out
}

type itemResult struct {
	done    bool
	summary string
	source  hierarchy.SummarySource
	err     error
}

// SummarizeForest fills Node.Summary for every node with a substantive
// description, then requests the release roll-up. Failures never abort the
// run: affected nodes keep their raw text and the failure is recorded.
//
// Workers only write their own result slot. Summaries are applied to nodes
// after the pool drains, so the roll-up and the renderer see final values.
func (e *Engine) SummarizeForest(ctx context.Context, forest *hierarchy.Forest, itemSummaries, rollup bool) *Outcome {
	out := &Outcome{ItemsRequested: itemSummaries, RollupRequested: rollup}

	if itemSummaries {
		e.summarizeItems(ctx, forest, out)
	}

	if rollup {
		e.summarizeRelease(ctx, forest, out)
	}
	return out
}

func (e *Engine) summarizeItems(ctx context.Context, forest *hierarchy.Forest, out *Outcome) {
	nodes := eligibleNodes(forest, e.opts.MinDescriptionChars)
	out.Eligible = len(nodes)
	if len(nodes) == 0 {
		return
	}

	results := make([]itemResult, len(nodes))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, n := range nodes {
		if ctx.Err() != nil {
			break
		}
		item := n.Item
		g.Go(func() error {
			results[i] = e.summarizeItem(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	for i, n := range nodes {
		r := results[i]
		switch {
		case !r.done:
			out.Abandoned++
		case r.err != nil:
			var se *SummarizationError
			if errors.As(r.err, &se) && se.Kind == FailureCanceled && ctx.Err() != nil {
				out.Abandoned++
				continue
			}
			out.Failed++
			out.Failures = append(out.Failures, r.err)
		default:
			n.Summary = r.summary
			n.SummarySource = r.source
			out.Summarized++
			if r.source == hierarchy.SummaryCached {
				out.Cached++
			}
		}
	}
}

func (e *Engine) summarizeItem(ctx context.Context, item hierarchy.WorkItem) itemResult {
	text := hierarchy.CollapseSpace(item.Description)
	key := cacheKey(e.opts.CacheNamespace, KindItem, item.Type, item.Title, text)

	if e.opts.Cache != nil {
		cached, ok, err := e.opts.Cache.GetSummary(ctx, key)
		if err != nil {
			log.Printf("Warning: summary cache lookup failed for %s: %v", item.ID, err)
		} else if ok && cached != "" {
			return itemResult{done: true, summary: cached, source: hierarchy.SummaryCached}
		}
	}

	if ctx.Err() != nil {
		return itemResult{}
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	summary, err := e.summarizer.Summarize(reqCtx, text, SummaryContext{
		Kind:     KindItem,
		ItemID:   item.ID,
		ItemType: item.Type,
		Title:    item.Title,
		Project:  e.opts.Project,
	})
	if err == nil {
		summary = cleanMarkdownOutput(summary)
		if summary == "" {
			err = errEmptyResponse
		}
	}
	if err != nil {
		return itemResult{done: true, err: classify(err, item.ID)}
	}

	if e.opts.Cache != nil {
		if err := e.opts.Cache.PutSummary(ctx, key, item.ID, summary); err != nil {
			log.Printf("Warning: failed to cache summary for %s: %v", item.ID, err)
		}
	}
	return itemResult{done: true, summary: summary, source: hierarchy.SummaryGenerated}
}

func (e *Engine) summarizeRelease(ctx context.Context, forest *hierarchy.Forest, out *Outcome) {
	input := RollupInput(forest)
	if input == "" {
		// nothing to roll up
		out.RollupRequested = false
		return
	}
	if ctx.Err() != nil {
		out.Failures = append(out.Failures, &SummarizationError{Kind: FailureCanceled, Err: ctx.Err()})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	summary, err := e.summarizer.Summarize(reqCtx, input, SummaryContext{
		Kind:    KindRelease,
		Title:   e.opts.Project.Name,
		Project: e.opts.Project,
	})
	if err == nil {
		summary = cleanMarkdownOutput(summary)
		if summary == "" {
			err = errEmptyResponse
		}
	}
	if err != nil {
		out.Failures = append(out.Failures, classify(err, ""))
		return
	}
	out.DocSummary = summary
	out.RollupApplied = true
}

// RollupInput concatenates the text of every top-level node, one line each.
// Nodes without a summary contribute their description, or their title.
func RollupInput(forest *hierarchy.Forest) string {
	var sb strings.Builder
	for _, n := range forest.TopLevel() {
		text := n.Text()
		if text == "" {
			text = hierarchy.CollapseSpace(n.Item.Title)
		}
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s #%s %s: %s\n", n.Item.TypeName(), n.Item.ID, hierarchy.CollapseSpace(n.Item.Title), text)
	}
	return strings.TrimSpace(sb.String())
}

func eligibleNodes(forest *hierarchy.Forest, minChars int) []*hierarchy.Node {
	var nodes []*hierarchy.Node
	forest.Walk(func(n *hierarchy.Node, _ int) {
		if substantive(n.Item.Description, minChars) {
			nodes = append(nodes, n)
		}
	})
	return nodes
}
