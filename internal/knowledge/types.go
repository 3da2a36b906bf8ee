package knowledge

import (
	"context"
)

type SummaryKind string

const (
	KindItem    SummaryKind = "item"
	KindRelease SummaryKind = "release"
)

// ProjectInfo describes the release being summarized. It is passed to every
// request so the model can phrase entries for the right audience.
type ProjectInfo struct {
	Name    string
	Version string
	Brief   string
}

// SummaryContext carries what a provider needs besides the raw text.
type SummaryContext struct {
	Kind     SummaryKind
	ItemID   string
	ItemType string
	Title    string
	Project  ProjectInfo
}

// Summarizer condenses text with an external language model. Implementations
// return a *SummarizationError when the request cannot produce a usable answer.
type Summarizer interface {
	Summarize(ctx context.Context, text string, sc SummaryContext) (string, error)
}

// SummaryCache stores generated item summaries keyed by a content hash.
type SummaryCache interface {
	GetSummary(ctx context.Context, key string) (string, bool, error)
	PutSummary(ctx context.Context, key, itemID, summary string) error
}
