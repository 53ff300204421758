package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithDB(mock)
	require.NoError(t, err)
	return store, mock
}

func TestInsertRawReportsDuplicate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"period":"20250101001","openCode":"1,2,3,4,5"}`)
	fetchedAt := time.Unix(1735689600, 0).UTC()

	mock.ExpectExec("INSERT INTO raw_draws").
		WithArgs("20250101001", "history_api", payload, fetchedAt, pipeline.RawPending).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO raw_draws").
		WithArgs("20250101001", "history_api", payload, fetchedAt, pipeline.RawPending).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.InsertRaw(ctx, "20250101001", "history_api", payload, fetchedAt)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertRaw(ctx, "20250101001", "history_api", payload, fetchedAt)
	require.NoError(t, err)
	assert.False(t, inserted, "conflict on (period, source) is a no-op duplicate")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRawStatusConditionalUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE raw_draws SET status").
		WithArgs(pipeline.RawPassed, int64(7), pipeline.RawPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.SetRawStatus(ctx, 7, pipeline.RawPending, pipeline.RawPassed))

	// Row already left pending: zero affected rows.
	mock.ExpectExec("UPDATE raw_draws SET status").
		WithArgs(pipeline.RawFailed, int64(7), pipeline.RawPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.SetRawStatus(ctx, 7, pipeline.RawPending, pipeline.RawFailed), pipeline.ErrNotFound)

	// Forbidden transitions never reach the database.
	assert.ErrorIs(t, store.SetRawStatus(ctx, 7, pipeline.RawPassed, pipeline.RawFailed), pipeline.ErrInvalidTransition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextWinsConditionalUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	started := time.Unix(1735689700, 0).UTC()
	created := started.Add(-time.Minute)

	mock.ExpectQuery("SELECT id FROM analysis_jobs").
		WithArgs(pipeline.JobPending).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs(pipeline.JobProcessing, "worker-a", int64(42), pipeline.JobPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT id, job_type, payload").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "job_type", "payload", "priority", "status",
			"claimed_by", "error", "created_at", "started_at", "finished_at", "result_id",
		}).AddRow(
			int64(42), "feature_extract", []byte(`{"period":"20250101001"}`), 3, pipeline.JobProcessing,
			"worker-a", "", created, &started, (*time.Time)(nil), (*int64)(nil),
		))

	job, err := store.ClaimNext(ctx, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), job.ID)
	assert.Equal(t, "feature_extract", job.Type)
	assert.Equal(t, pipeline.JobProcessing, job.Status)
	assert.Equal(t, "worker-a", job.ClaimedBy)
	assert.Nil(t, job.ResultID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextRetriesAfterLostRace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	started := time.Unix(1735689700, 0).UTC()

	// First candidate is stolen by another worker between select and update.
	mock.ExpectQuery("SELECT id FROM analysis_jobs").
		WithArgs(pipeline.JobPending).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs(pipeline.JobProcessing, "worker-b", int64(42), pipeline.JobPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	mock.ExpectQuery("SELECT id FROM analysis_jobs").
		WithArgs(pipeline.JobPending).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(43)))
	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs(pipeline.JobProcessing, "worker-b", int64(43), pipeline.JobPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT id, job_type, payload").
		WithArgs(int64(43)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "job_type", "payload", "priority", "status",
			"claimed_by", "error", "created_at", "started_at", "finished_at", "result_id",
		}).AddRow(
			int64(43), "trend_summary", []byte(`{}`), 6, pipeline.JobProcessing,
			"worker-b", "", started.Add(-time.Minute), &started, (*time.Time)(nil), (*int64)(nil),
		))

	job, err := store.ClaimNext(ctx, "worker-b")
	require.NoError(t, err)
	assert.Equal(t, int64(43), job.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextEmptyQueue(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id FROM analysis_jobs").
		WithArgs(pipeline.JobPending).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.ClaimNext(ctx, "worker-a")
	assert.ErrorIs(t, err, pipeline.ErrNoPendingJobs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteAndFailRequireProcessing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs(pipeline.JobFinished, int64(9), int64(42), pipeline.JobProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.CompleteJob(ctx, 42, 9))

	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs(pipeline.JobFailed, "boom", int64(42), pipeline.JobProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.FailJob(ctx, 42, "boom"), pipeline.ErrInvalidTransition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDrawWritesDerivedColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	drawTime := time.Unix(1735689600, 0).UTC()

	mock.ExpectExec("INSERT INTO draws").
		WithArgs("20250101001", drawTime, []byte(`[1,2,3,4,5]`), 15, 4, "odd", "small").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.UpsertDraw(ctx, pipeline.Draw{
		Period:    "20250101001",
		DrawTime:  drawTime,
		Numbers:   []int{1, 2, 3, 4, 5},
		Sum:       15,
		Span:      4,
		Parity:    "odd",
		Magnitude: "small",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueJobReturnsID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"period":"20250101001"}`)

	mock.ExpectQuery("INSERT INTO analysis_jobs").
		WithArgs("feature_extract", payload, 3, pipeline.JobPending).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(101)))

	id, err := store.EnqueueJob(ctx, "feature_extract", payload, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(101), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditWrites(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO validation_log").
		WithArgs("20250101001", "numbers_present", pipeline.CheckFailed, "payload has no numbers").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	err := store.AppendValidationLog(ctx, []pipeline.ValidationEntry{{
		Period:    "20250101001",
		CheckItem: "numbers_present",
		Outcome:   pipeline.CheckFailed,
		Detail:    "payload has no numbers",
	}})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pipeline_stats").
		WithArgs("collector", "tick_success", 0.25, json.RawMessage(`{"fetched":10}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	err = store.RecordMetric(ctx, pipeline.MetricSample{
		Component: "collector",
		Metric:    "tick_success",
		Value:     0.25,
		Detail:    json.RawMessage(`{"fetched":10}`),
	})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pipeline_alerts").
		WithArgs("collector", pipeline.AlertLevelCritical, "repeated tick failures", json.RawMessage(`{"failures":3}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	err = store.RecordAlert(ctx, pipeline.Alert{
		Component: "collector",
		Level:     pipeline.AlertLevelCritical,
		Message:   "repeated tick failures",
		Detail:    json.RawMessage(`{"failures":3}`),
	})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
