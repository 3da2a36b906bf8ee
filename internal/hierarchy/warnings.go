package hierarchy

import (
	"fmt"
	"sync"
)

type WarningKind string

const (
	WarnDuplicateID       WarningKind = "duplicate_id"
	WarnConflictingParent WarningKind = "conflicting_parent"
	WarnDanglingParent    WarningKind = "dangling_parent"
	WarnSelfParent        WarningKind = "self_parent"
	WarnCycleCut          WarningKind = "cycle_cut"
	WarnMissingID         WarningKind = "missing_id"
)

// Warning is a non-fatal data-quality finding raised while assembling the
// hierarchy. The run always continues.
type Warning struct {
	Kind     WarningKind
	ItemID   string
	ParentID string
}

func (w Warning) Error() string {
	switch w.Kind {
	case WarnDuplicateID:
		return fmt.Sprintf("work item %s returned more than once, keeping the last record", w.ItemID)
	case WarnConflictingParent:
		return fmt.Sprintf("work item %s has conflicting parents, keeping first-seen parent %s", w.ItemID, w.ParentID)
	case WarnDanglingParent:
		return fmt.Sprintf("work item %s references parent %s which was not fetched", w.ItemID, w.ParentID)
	case WarnSelfParent:
		return fmt.Sprintf("work item %s lists itself as parent", w.ItemID)
	case WarnCycleCut:
		return fmt.Sprintf("work item %s would close a cycle through parent %s, detached", w.ItemID, w.ParentID)
	case WarnMissingID:
		return "work item without id skipped"
	default:
		return fmt.Sprintf("work item %s: %s", w.ItemID, w.Kind)
	}
}

// WarningSink receives hierarchy warnings as they are found.
type WarningSink interface {
	Warn(w Warning)
}

// WarningFunc adapts a function to WarningSink.
type WarningFunc func(Warning)

func (f WarningFunc) Warn(w Warning) { f(w) }

// WarningCollector accumulates warnings. Safe for concurrent use.
type WarningCollector struct {
	mu       sync.Mutex
	warnings []Warning
}

func (c *WarningCollector) Warn(w Warning) {
	c.mu.Lock()
	c.warnings = append(c.warnings, w)
	c.mu.Unlock()
}

func (c *WarningCollector) Warnings() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Warning(nil), c.warnings...)
}

// Count returns the number of warnings of the given kind.
func (c *WarningCollector) Count(kind WarningKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}
