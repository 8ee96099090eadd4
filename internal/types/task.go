package types

import (
	"time"
)

// TaskKind says why a document was queued for analysis.
type TaskKind string

const (
	TaskForced   TaskKind = "forced"
	TaskNew      TaskKind = "new_file"
	TaskModified TaskKind = "modified_file"
)

// Priority returns the queue rank of the kind; lower runs first.
func (k TaskKind) Priority() int {
	switch k {
	case TaskForced:
		return 0
	case TaskNew:
		return 1
	default:
		return 2
	}
}

// AnalysisTask is a transient unit of work for the scheduler.
type AnalysisTask struct {
	Path       string
	Kind       TaskKind
	EnqueuedAt time.Time
	// Seq breaks ordering ties between tasks queued in the same instant.
	Seq uint64
}

// Priority is shorthand for Kind.Priority().
func (t AnalysisTask) Priority() int {
	return t.Kind.Priority()
}

// Before reports whether t should be dequeued ahead of other: lower
// priority first, then the most recently queued.
func (t AnalysisTask) Before(other AnalysisTask) bool {
	if t.Priority() != other.Priority() {
		return t.Priority() < other.Priority()
	}
	if !t.EnqueuedAt.Equal(other.EnqueuedAt) {
		return t.EnqueuedAt.After(other.EnqueuedAt)
	}
	return t.Seq > other.Seq
}

// ProcessingEntry is one row of the processing audit log.
type ProcessingEntry struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}
