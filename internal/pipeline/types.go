// Package pipeline defines the core entities and persistence contracts
// shared by the collector, validator, worker and scheduler stages.
package pipeline

import (
	"encoding/json"
	"time"
)

// RawStatus tracks a raw draw through validation.
type RawStatus string

// Raw draw lifecycle. A raw draw is created pending and moves to exactly
// one terminal state; terminal states never transition again.
const (
	RawPending RawStatus = "pending"
	RawPassed  RawStatus = "passed"
	RawFailed  RawStatus = "failed"
)

// Valid reports whether the status is a known raw draw status.
func (s RawStatus) Valid() bool {
	switch s {
	case RawPending, RawPassed, RawFailed:
		return true
	}
	return false
}

// CanTransition reports whether a raw draw may move from s to next.
func (s RawStatus) CanTransition(next RawStatus) bool {
	return s == RawPending && (next == RawPassed || next == RawFailed)
}

// JobStatus tracks an analysis job through the queue.
type JobStatus string

// Analysis job lifecycle: pending -> processing -> finished|failed.
// Terminal states are never left automatically; a retry is a new job.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobFinished   JobStatus = "finished"
	JobFailed     JobStatus = "failed"
)

// Valid reports whether the status is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobFinished, JobFailed:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobFinished || next == JobFailed
	}
	return false
}

// Terminal reports whether the job status is final.
func (s JobStatus) Terminal() bool {
	return s == JobFinished || s == JobFailed
}

// CheckOutcome is the result of a single validation check.
type CheckOutcome string

// Validation check outcomes.
const (
	CheckPassed CheckOutcome = "passed"
	CheckFailed CheckOutcome = "failed"
)

// RawDraw is an as-fetched, pre-validation draw payload from one source.
// (period, source) is unique; re-collecting the same key is a no-op.
type RawDraw struct {
	ID        int64
	Period    string
	Source    string
	Payload   json.RawMessage
	FetchedAt time.Time
	Status    RawStatus
}

// Draw is the validated, canonical representation of one period.
type Draw struct {
	ID        int64
	Period    string
	DrawTime  time.Time
	Numbers   []int
	Sum       int
	Span      int
	Parity    string
	Magnitude string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidationEntry is one append-only audit row for one check outcome.
type ValidationEntry struct {
	ID        int64
	Period    string
	CheckItem string
	Outcome   CheckOutcome
	Detail    string
	CreatedAt time.Time
}

// Job is one unit of asynchronous analysis work. Lower priority value
// means higher urgency.
type Job struct {
	ID         int64
	Type       string
	Payload    json.RawMessage
	Priority   int
	Status     JobStatus
	ClaimedBy  string
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	ResultID   *int64
}

// Result is the immutable output of one successfully finished job.
type Result struct {
	ID            int64
	AnalysisType  string
	SchemaVersion int
	Summary       string
	Data          json.RawMessage
	Metadata      json.RawMessage
	CreatedAt     time.Time
}

// MetricSample is one durable per-tick measurement for one component.
type MetricSample struct {
	ID        int64
	Component string
	Metric    string
	Value     float64
	Detail    json.RawMessage
	CreatedAt time.Time
}

// Alert is one operator-visible pipeline alert row.
type Alert struct {
	ID        int64
	Component string
	Level     string
	Message   string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// Alert levels.
const (
	AlertLevelError    = "error"
	AlertLevelCritical = "critical"
)

// Well-known stage component names used in stats, alerts and CLI flags.
const (
	ComponentCollector = "collector"
	ComponentValidator = "validator"
	ComponentWorker    = "worker"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
