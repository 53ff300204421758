package validator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drawpulse/drawpulse/internal/pipeline"
	"github.com/drawpulse/drawpulse/internal/storage/memory"
)

func defaultRules() Rules {
	return Rules{
		BatchSize:     200,
		DomainMin:     0,
		DomainMax:     9,
		ExpectedCount: 5,
		BigThreshold:  23,
	}
}

func insertRaw(t *testing.T, store *memory.Store, period, source, body string) {
	t.Helper()
	inserted, err := store.InsertRaw(context.Background(), period, source, json.RawMessage(body), time.Now())
	require.NoError(t, err)
	require.True(t, inserted)
}

func drainJobs(t *testing.T, store *memory.Store) []pipeline.Job {
	t.Helper()
	var jobs []pipeline.Job
	for {
		job, err := store.ClaimNext(context.Background(), "test-drain")
		if errors.Is(err, pipeline.ErrNoPendingJobs) {
			return jobs
		}
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
}

func outcomes(entries []pipeline.ValidationEntry) map[string]pipeline.CheckOutcome {
	m := make(map[string]pipeline.CheckOutcome, len(entries))
	for _, e := range entries {
		m[e.CheckItem] = e.Outcome
	}
	return m
}

func TestValidateWellFormedDraw(t *testing.T) {
	t.Parallel()

	store := memory.New()
	insertRaw(t, store, "20250101001", "history_api",
		`{"period":"20250101001","openTime":"2025-01-01 00:00:00","openCode":"3,9,0,7,5"}`)

	v := New(store, defaultRules(), zap.NewNop())
	sum, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Examined: 1, Passed: 1, Failed: 0, Enqueued: 4}, sum)

	draw, err := store.GetDraw(context.Background(), "20250101001")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 9, 0, 7, 5}, draw.Numbers)
	assert.Equal(t, 24, draw.Sum)
	assert.Equal(t, 9, draw.Span)
	assert.Equal(t, "even", draw.Parity)
	assert.Equal(t, "big", draw.Magnitude)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), draw.DrawTime)

	raws := store.RawDraws()
	require.Len(t, raws, 1)
	assert.Equal(t, pipeline.RawPassed, raws[0].Status)

	// Claims drain in priority order: lower value first.
	jobs := drainJobs(t, store)
	require.Len(t, jobs, 4)
	assert.Equal(t, "feature_extract", jobs[0].Type)
	assert.Equal(t, 3, jobs[0].Priority)
	assert.Equal(t, "trend_summary", jobs[1].Type)
	assert.Equal(t, "statistical_analysis", jobs[2].Type)
	assert.Equal(t, "strategy_backtest", jobs[3].Type)
	assert.Equal(t, 8, jobs[3].Priority)
	assert.JSONEq(t, `{"period":"20250101001"}`, string(jobs[0].Payload))

	got := outcomes(store.ValidationLog())
	for _, item := range []string{
		CheckPeriodPresent, CheckDrawTimePresent, CheckNumbersPresent,
		CheckNumbersRange, CheckCountConsistent, CheckPeriodContinuity,
	} {
		assert.Equal(t, pipeline.CheckPassed, got[item], item)
	}
}

func TestValidateRejectsOutOfRangeNumbers(t *testing.T) {
	t.Parallel()

	store := memory.New()
	insertRaw(t, store, "20250101001", "history_api",
		`{"period":"20250101001","openTime":"2025-01-01 00:00:00","openCode":"3,9,12,7,5"}`)

	v := New(store, defaultRules(), zap.NewNop())
	sum, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Examined: 1, Failed: 1}, sum)

	_, err = store.GetDraw(context.Background(), "20250101001")
	assert.ErrorIs(t, err, pipeline.ErrNotFound, "rejected draws never reach the canonical table")
	assert.Empty(t, drainJobs(t, store), "rejected draws enqueue nothing")

	raws := store.RawDraws()
	require.Len(t, raws, 1)
	assert.Equal(t, pipeline.RawFailed, raws[0].Status)

	got := outcomes(store.ValidationLog())
	assert.Equal(t, pipeline.CheckFailed, got[CheckNumbersRange])
	_, ran := got[CheckCountConsistent]
	assert.False(t, ran, "checks after the first failure do not run")
}

func TestValidateFailureTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		body      string
		failedAt  string
	}{
		{"missing period", `{"openTime":"2025-01-01 00:00:00","openCode":"1,2,3,4,5"}`, CheckPeriodPresent},
		{"not an object", `[1,2,3]`, CheckPeriodPresent},
		{"garbled draw time", `{"period":"20250101001","openTime":"yesterday","openCode":"1,2,3,4,5"}`, CheckDrawTimePresent},
		{"missing numbers", `{"period":"20250101001","openTime":"2025-01-01 00:00:00"}`, CheckNumbersPresent},
		{"garbled open code", `{"period":"20250101001","openTime":"2025-01-01 00:00:00","openCode":"1,x,3"}`, CheckNumbersPresent},
		{"wrong count", `{"period":"20250101001","openTime":"2025-01-01 00:00:00","openCode":"1,2,3"}`, CheckCountConsistent},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := memory.New()
			insertRaw(t, store, "20250101001", "history_api", tc.body)

			v := New(store, defaultRules(), zap.NewNop())
			sum, err := v.Validate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, sum.Failed)

			got := outcomes(store.ValidationLog())
			assert.Equal(t, pipeline.CheckFailed, got[tc.failedAt])
		})
	}
}

func TestValidateAcceptsNumbersArray(t *testing.T) {
	t.Parallel()

	store := memory.New()
	insertRaw(t, store, "20250101001", "history_api",
		`{"period":"20250101001","timestamp":1735689600,"numbers":[1,2,3,4,5]}`)

	v := New(store, defaultRules(), zap.NewNop())
	sum, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Passed)

	draw, err := store.GetDraw(context.Background(), "20250101001")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, draw.Numbers)
	assert.Equal(t, 15, draw.Sum)
	assert.Equal(t, "odd", draw.Parity)
	assert.Equal(t, "small", draw.Magnitude)
	assert.Equal(t, time.Unix(1735689600, 0).UTC(), draw.DrawTime)
}

func TestValidateTimelessPayloadUsesFetchTime(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	fetched := time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC)
	body := json.RawMessage(`{"period":"20250101001","numbers":[1,2,3,4,5]}`)

	inserted, err := store.InsertRaw(ctx, "20250101001", "history_api", body, fetched)
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = store.InsertRaw(ctx, "20250101001", "history_api", body, fetched)
	require.NoError(t, err)
	require.False(t, inserted, "resubmission is a duplicate, not a second record")

	v := New(store, defaultRules(), zap.NewNop())
	sum, err := v.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Examined: 1, Passed: 1, Enqueued: 4}, sum)

	raws := store.RawDraws()
	require.Len(t, raws, 1)
	assert.Equal(t, pipeline.RawPassed, raws[0].Status)

	draw, err := store.GetDraw(ctx, "20250101001")
	require.NoError(t, err)
	assert.Equal(t, 15, draw.Sum)
	assert.Equal(t, 4, draw.Span)
	assert.Equal(t, fetched, draw.DrawTime, "a payload with no time field gets the fetch time")

	got := outcomes(store.ValidationLog())
	assert.Equal(t, pipeline.CheckPassed, got[CheckDrawTimePresent])
}

func TestValidateBatchIsolation(t *testing.T) {
	t.Parallel()

	store := memory.New()
	insertRaw(t, store, "20250101001", "history_api",
		`{"period":"20250101001","openTime":"2025-01-01 00:00:00","openCode":"1,2,3"}`)
	insertRaw(t, store, "20250101002", "history_api",
		`{"period":"20250101002","openTime":"2025-01-01 00:01:00","openCode":"1,2,3,4,5"}`)

	v := New(store, defaultRules(), zap.NewNop())
	sum, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Examined: 2, Passed: 1, Failed: 1, Enqueued: 4}, sum)

	_, err = store.GetDraw(context.Background(), "20250101002")
	assert.NoError(t, err, "a bad record must not block the rest of the batch")
}

func TestValidateSamePeriodFromTwoSourcesUpserts(t *testing.T) {
	t.Parallel()

	store := memory.New()
	body := `{"period":"20250101001","openTime":"2025-01-01 00:00:00","openCode":"1,2,3,4,5"}`
	insertRaw(t, store, "20250101001", "history_api", body)
	insertRaw(t, store, "20250101001", "latest_api", body)

	v := New(store, defaultRules(), zap.NewNop())
	sum, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Passed)

	draws, err := store.ListRecentDraws(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, draws, 1, "the same period from two sources is one canonical row")
}

func TestValidateContinuityIsAdvisory(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.UpsertDraw(ctx, pipeline.Draw{
		Period:   "20250101050",
		DrawTime: time.Date(2025, 1, 1, 0, 49, 0, 0, time.UTC),
		Numbers:  []int{1, 2, 3, 4, 5},
	}))
	insertRaw(t, store, "20250101001", "history_api",
		`{"period":"20250101001","openTime":"2025-01-01 00:00:00","openCode":"1,2,3,4,5"}`)

	v := New(store, defaultRules(), zap.NewNop())
	sum, err := v.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Passed, "a continuity regression is logged, never rejected")

	got := outcomes(store.ValidationLog())
	assert.Equal(t, pipeline.CheckFailed, got[CheckPeriodContinuity])

	_, err = store.GetDraw(ctx, "20250101001")
	assert.NoError(t, err)
}

func TestValidateLeavesNothingPending(t *testing.T) {
	t.Parallel()

	store := memory.New()
	insertRaw(t, store, "20250101001", "history_api",
		`{"period":"20250101001","openTime":"2025-01-01 00:00:00","openCode":"1,2,3,4,5"}`)
	insertRaw(t, store, "20250101002", "history_api", `{"period":"20250101002"}`)

	v := New(store, defaultRules(), zap.NewNop())
	_, err := v.Validate(context.Background())
	require.NoError(t, err)

	pending, err := store.ListPendingRaw(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, pending, "every examined record reaches a terminal raw status")

	// A second pass is a no-op.
	sum, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}
