package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// RawStore persists as-fetched draws.
type RawStore interface {
	// InsertRaw inserts a raw draw keyed by (period, source). A key that
	// already exists is a successful no-op and reports inserted=false.
	InsertRaw(ctx context.Context, period, source string, payload json.RawMessage, fetchedAt time.Time) (inserted bool, err error)

	// ListPendingRaw returns up to limit pending raw draws ordered by
	// fetched_at ascending.
	ListPendingRaw(ctx context.Context, limit int) ([]RawDraw, error)

	// SetRawStatus moves a raw draw from an expected prior status to the
	// next one. ErrInvalidTransition if the state machine forbids it;
	// ErrNotFound if the row is missing or no longer in from.
	SetRawStatus(ctx context.Context, id int64, from, to RawStatus) error
}

// DrawStore persists canonical draws.
type DrawStore interface {
	// UpsertDraw inserts or replaces the canonical draw for its period.
	// Re-validating a period yields the same row, never a duplicate.
	UpsertDraw(ctx context.Context, d Draw) error

	// GetDraw returns the canonical draw for a period, or ErrNotFound.
	GetDraw(ctx context.Context, period string) (Draw, error)

	// LatestPeriod returns the highest known canonical period, or
	// ErrNotFound when no draws exist yet.
	LatestPeriod(ctx context.Context) (string, error)

	// ListRecentDraws returns up to limit draws ordered by draw_time
	// descending.
	ListRecentDraws(ctx context.Context, limit int) ([]Draw, error)
}

// JobStore is the durable analysis job queue.
type JobStore interface {
	// EnqueueJob inserts a pending job and returns its id.
	EnqueueJob(ctx context.Context, jobType string, payload json.RawMessage, priority int) (int64, error)

	// ClaimNext atomically claims the oldest highest-priority pending job
	// for claimant and moves it to processing. The transition is guarded
	// by the expected prior status, so concurrent claimants across
	// processes receive distinct jobs. ErrNoPendingJobs when the queue
	// is drained.
	ClaimNext(ctx context.Context, claimant string) (Job, error)

	// CompleteJob moves a processing job to finished and links its result.
	CompleteJob(ctx context.Context, jobID, resultID int64) error

	// FailJob moves a processing job to failed with error detail.
	FailJob(ctx context.Context, jobID int64, detail string) error

	// GetJob returns one job by id, or ErrNotFound.
	GetJob(ctx context.Context, jobID int64) (Job, error)
}

// ResultStore persists immutable analysis results.
type ResultStore interface {
	// InsertResult stores a result and returns its id.
	InsertResult(ctx context.Context, r Result) (int64, error)
}

// AuditStore persists append-only observability rows.
type AuditStore interface {
	// AppendValidationLog writes one audit row per check outcome.
	AppendValidationLog(ctx context.Context, entries []ValidationEntry) error

	// RecordMetric writes one pipeline_stats row.
	RecordMetric(ctx context.Context, s MetricSample) error

	// RecordAlert writes one pipeline_alerts row.
	RecordAlert(ctx context.Context, a Alert) error
}

// Store is the full durable store contract consumed by the pipeline.
type Store interface {
	RawStore
	DrawStore
	JobStore
	ResultStore
	AuditStore

	// Ping verifies the store is reachable, for health probes.
	Ping(ctx context.Context) error
}
