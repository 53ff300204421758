package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// claimAttempts bounds how many select/update rounds one ClaimNext call
// makes while losing races to other workers.
const claimAttempts = 5

// EnqueueJob inserts a pending analysis job. Lower priority value means
// higher urgency.
func (s *Store) EnqueueJob(ctx context.Context, jobType string, payload json.RawMessage, priority int) (int64, error) {
	query := `
INSERT INTO analysis_jobs (job_type, payload, priority, status)
VALUES ($1, $2, $3, $4)
RETURNING id`

	var id int64
	if err := s.db.QueryRow(ctx, query, jobType, payload, priority, pipeline.JobPending).Scan(&id); err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// ClaimNext selects the best pending job and transitions it to
// processing with a conditional update on the expected prior status.
// A zero affected-row count means another worker won the row; the next
// candidate is tried. This is the only cross-process synchronization
// the queue relies on.
func (s *Store) ClaimNext(ctx context.Context, claimant string) (pipeline.Job, error) {
	selectQuery := `
SELECT id FROM analysis_jobs
WHERE status = $1
ORDER BY priority ASC, created_at ASC, id ASC
LIMIT 1`
	claimQuery := `
UPDATE analysis_jobs
SET status = $1, claimed_by = $2, started_at = now()
WHERE id = $3 AND status = $4`

	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id int64
		err := s.db.QueryRow(ctx, selectQuery, pipeline.JobPending).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return pipeline.Job{}, pipeline.ErrNoPendingJobs
			}
			return pipeline.Job{}, fmt.Errorf("select pending job: %w", err)
		}

		tag, err := s.db.Exec(ctx, claimQuery, pipeline.JobProcessing, claimant, id, pipeline.JobPending)
		if err != nil {
			return pipeline.Job{}, fmt.Errorf("claim job %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		return s.GetJob(ctx, id)
	}
	return pipeline.Job{}, pipeline.ErrNoPendingJobs
}

// CompleteJob finishes a processing job and links its result row.
func (s *Store) CompleteJob(ctx context.Context, jobID, resultID int64) error {
	query := `
UPDATE analysis_jobs
SET status = $1, result_id = $2, finished_at = now()
WHERE id = $3 AND status = $4`

	tag, err := s.db.Exec(ctx, query, pipeline.JobFinished, resultID, jobID, pipeline.JobProcessing)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrInvalidTransition
	}
	return nil
}

// FailJob fails a processing job with error detail.
func (s *Store) FailJob(ctx context.Context, jobID int64, detail string) error {
	query := `
UPDATE analysis_jobs
SET status = $1, error = $2, finished_at = now()
WHERE id = $3 AND status = $4`

	tag, err := s.db.Exec(ctx, query, pipeline.JobFailed, detail, jobID, pipeline.JobProcessing)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrInvalidTransition
	}
	return nil
}

// GetJob returns one job by id.
func (s *Store) GetJob(ctx context.Context, jobID int64) (pipeline.Job, error) {
	query := `
SELECT id, job_type, payload, priority, status,
	COALESCE(claimed_by, ''), COALESCE(error, ''),
	created_at, started_at, finished_at, result_id
FROM analysis_jobs
WHERE id = $1`

	var j pipeline.Job
	var payload []byte
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&j.ID, &j.Type, &payload, &j.Priority, &j.Status,
		&j.ClaimedBy, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.ResultID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, pipeline.ErrNotFound
		}
		return pipeline.Job{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	j.Payload = payload
	return j, nil
}

// InsertResult stores an immutable analysis result and returns its id.
func (s *Store) InsertResult(ctx context.Context, r pipeline.Result) (int64, error) {
	query := `
INSERT INTO analysis_results (analysis_type, schema_version, summary, data, metadata)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query, r.AnalysisType, r.SchemaVersion, r.Summary, r.Data, r.Metadata).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	return id, nil
}
