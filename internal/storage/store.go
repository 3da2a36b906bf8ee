package storage

import (
	"context"
	"time"

	"changeweave/internal/hierarchy"
)

// Store combines the summary cache and run history.
type Store interface {
	SummaryStore
	RunStore
	Close() error
}

// SummaryStore caches generated summaries by content hash, so unchanged items
// are not sent to the model again on the next run.
type SummaryStore interface {
	GetSummary(ctx context.Context, key string) (string, bool, error)
	PutSummary(ctx context.Context, key, itemID, summary string) error
	// PruneSummaries deletes entries not used since the given time.
	PruneSummaries(ctx context.Context, before time.Time) (int64, error)
}

// RunStore keeps a log of pipeline runs and the items each one rendered.
type RunStore interface {
	SaveRun(ctx context.Context, run RunRecord, items []hierarchy.WorkItem) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	RunItems(ctx context.Context, runID string) ([]hierarchy.WorkItem, error)
}

type RunRecord struct {
	ID         string
	Project    string
	Version    string
	StartedAt  time.Time
	FinishedAt time.Time
	FinalState string
	Coverage   string
	Items      int
	Summarized int
	Failed     int
	Warnings   int
	OutputPath string
	Error      string
}
