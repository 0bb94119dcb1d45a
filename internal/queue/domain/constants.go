package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a job
type Status string

// Job status constants. The string values are stored verbatim.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusPaused     Status = "PAUSED"
)

// Statuses lists every status in display order
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusPaused:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether s counts against the one-active-job-per-subject rule
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusPaused
}

func (s Status) String() string { return string(s) }

// ParseStatus converts user input into a Status. Matching is case-insensitive.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}

// Priority orders jobs in the dequeue path
type Priority string

const (
	PriorityHigh Priority = "HIGH"
	PriorityLow  Priority = "LOW"
)

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityLow
}

// Rank returns the sort rank of p, lower is dequeued first
func (p Priority) Rank() int {
	if p == PriorityHigh {
		return 0
	}
	return 1
}

func (p Priority) String() string { return string(p) }

// ParsePriority converts user input into a Priority. Matching is case-insensitive.
func ParsePriority(v string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(v)))
	if !p.Valid() {
		return "", &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", v)}
	}
	return p, nil
}

// Default admission values
const (
	DefaultOrigin   = "manual"
	DefaultPriority = PriorityLow

	// OriginSimilarityExpansion tags jobs created from similar-profile discovery
	OriginSimilarityExpansion = "similarity-expansion"
)
