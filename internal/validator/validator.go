// Package validator promotes pending raw draws into the canonical table,
// records per-check audit rows and enqueues analysis jobs for each draw
// that passes.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// Check item names, in evaluation order.
const (
	CheckPeriodPresent    = "period_present"
	CheckDrawTimePresent  = "draw_time_present"
	CheckNumbersPresent   = "numbers_present"
	CheckNumbersRange     = "numbers_range"
	CheckCountConsistent  = "count_consistent"
	CheckPeriodContinuity = "period_continuity"
)

const drawTimeLayout = "2006-01-02 15:04:05"

// enqueueSpec pairs a job type with its queue priority. Lower value is
// more urgent.
type enqueueSpec struct {
	jobType  string
	priority int
}

var enqueueOnPass = []enqueueSpec{
	{jobType: "feature_extract", priority: 3},
	{jobType: "trend_summary", priority: 6},
	{jobType: "statistical_analysis", priority: 7},
	{jobType: "strategy_backtest", priority: 8},
}

// Rules holds the numeric-domain predicates applied to every draw.
type Rules struct {
	BatchSize     int
	DomainMin     int
	DomainMax     int
	ExpectedCount int
	BigThreshold  int
}

// Summary reports the outcome of one validation pass.
type Summary struct {
	Examined int
	Passed   int
	Failed   int
	Enqueued int
}

// Store is the subset of the durable store the validator needs.
type Store interface {
	pipeline.RawStore
	pipeline.DrawStore
	pipeline.JobStore
	pipeline.AuditStore
}

// Validator runs the check pipeline over pending raw draws.
type Validator struct {
	store  Store
	rules  Rules
	logger *zap.Logger
}

// New constructs a Validator.
func New(store Store, rules Rules, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rules.BatchSize <= 0 {
		rules.BatchSize = 200
	}
	if rules.ExpectedCount <= 0 {
		rules.ExpectedCount = 5
	}
	if rules.DomainMax == 0 && rules.DomainMin == 0 {
		rules.DomainMax = 9
	}
	if rules.BigThreshold <= 0 {
		rules.BigThreshold = 23
	}
	return &Validator{store: store, rules: rules, logger: logger}
}

// rawPayload is the shape the source delivers. Numbers may arrive as a
// JSON array or as a comma-joined openCode string.
type rawPayload struct {
	Period    string `json:"period"`
	OpenTime  string `json:"openTime"`
	OpenCode  string `json:"openCode"`
	Numbers   []int  `json:"numbers"`
	Timestamp int64  `json:"timestamp"`
}

// Validate runs one pass over pending raw draws. Each record is judged
// independently: a record that fails its checks is marked failed and the
// pass continues. Only a store failure aborts the pass.
func (v *Validator) Validate(ctx context.Context) (Summary, error) {
	var sum Summary

	pending, err := v.store.ListPendingRaw(ctx, v.rules.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list pending raw draws: %w", err)
	}

	for _, raw := range pending {
		sum.Examined++
		enqueued, err := v.validateOne(ctx, raw)
		if err != nil {
			return sum, err
		}
		if enqueued > 0 {
			sum.Passed++
			sum.Enqueued += enqueued
		} else {
			sum.Failed++
		}
	}

	v.logger.Info("validation pass finished",
		zap.Int("examined", sum.Examined),
		zap.Int("passed", sum.Passed),
		zap.Int("failed", sum.Failed),
		zap.Int("jobs_enqueued", sum.Enqueued),
	)
	return sum, nil
}

// validateOne runs the full check pipeline for a single raw draw and
// returns how many jobs it enqueued (zero when the record failed).
func (v *Validator) validateOne(ctx context.Context, raw pipeline.RawDraw) (int, error) {
	draw, entries, ok := v.check(ctx, raw)

	if err := v.store.AppendValidationLog(ctx, entries); err != nil {
		return 0, fmt.Errorf("append validation log for %s: %w", raw.Period, err)
	}

	if !ok {
		if err := v.store.SetRawStatus(ctx, raw.ID, pipeline.RawPending, pipeline.RawFailed); err != nil {
			return 0, fmt.Errorf("mark raw draw %d failed: %w", raw.ID, err)
		}
		v.logger.Warn("raw draw rejected",
			zap.String("period", raw.Period),
			zap.String("source", raw.Source),
		)
		return 0, nil
	}

	if err := v.store.UpsertDraw(ctx, draw); err != nil {
		return 0, fmt.Errorf("upsert draw %s: %w", draw.Period, err)
	}
	if err := v.store.SetRawStatus(ctx, raw.ID, pipeline.RawPending, pipeline.RawPassed); err != nil {
		return 0, fmt.Errorf("mark raw draw %d passed: %w", raw.ID, err)
	}

	payload, err := json.Marshal(map[string]string{"period": draw.Period})
	if err != nil {
		return 0, fmt.Errorf("marshal job payload: %w", err)
	}
	enqueued := 0
	for _, spec := range enqueueOnPass {
		if _, err := v.store.EnqueueJob(ctx, spec.jobType, payload, spec.priority); err != nil {
			return enqueued, fmt.Errorf("enqueue %s for %s: %w", spec.jobType, draw.Period, err)
		}
		enqueued++
	}
	return enqueued, nil
}

// check evaluates every check in order and stops producing further
// entries at the first hard failure. period_continuity is advisory: its
// outcome is logged but never rejects the record.
func (v *Validator) check(ctx context.Context, raw pipeline.RawDraw) (pipeline.Draw, []pipeline.ValidationEntry, bool) {
	var entries []pipeline.ValidationEntry
	record := func(item string, outcome pipeline.CheckOutcome, detail string) {
		entries = append(entries, pipeline.ValidationEntry{
			Period:    raw.Period,
			CheckItem: item,
			Outcome:   outcome,
			Detail:    detail,
		})
	}
	fail := func(item, detail string) (pipeline.Draw, []pipeline.ValidationEntry, bool) {
		record(item, pipeline.CheckFailed, detail)
		return pipeline.Draw{}, entries, false
	}

	var payload rawPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return fail(CheckPeriodPresent, "payload is not a JSON object")
	}

	if payload.Period == "" {
		return fail(CheckPeriodPresent, "period is missing")
	}
	record(CheckPeriodPresent, pipeline.CheckPassed, "")

	drawTime, timeDetail, err := parseDrawTime(payload, raw.FetchedAt)
	if err != nil {
		return fail(CheckDrawTimePresent, err.Error())
	}
	record(CheckDrawTimePresent, pipeline.CheckPassed, timeDetail)

	numbers, err := parseNumbers(payload)
	if err != nil {
		return fail(CheckNumbersPresent, err.Error())
	}
	record(CheckNumbersPresent, pipeline.CheckPassed, "")

	for _, n := range numbers {
		if n < v.rules.DomainMin || n > v.rules.DomainMax {
			return fail(CheckNumbersRange, fmt.Sprintf(
				"number %d outside [%d, %d]", n, v.rules.DomainMin, v.rules.DomainMax))
		}
	}
	record(CheckNumbersRange, pipeline.CheckPassed, "")

	if len(numbers) != v.rules.ExpectedCount {
		return fail(CheckCountConsistent, fmt.Sprintf(
			"got %d numbers, want %d", len(numbers), v.rules.ExpectedCount))
	}
	record(CheckCountConsistent, pipeline.CheckPassed, "")

	// Advisory: backfills legitimately deliver periods behind the
	// latest canonical one, so a regression is logged, not rejected.
	latest, err := v.store.LatestPeriod(ctx)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		record(CheckPeriodContinuity, pipeline.CheckPassed, "first canonical draw")
	case err != nil:
		record(CheckPeriodContinuity, pipeline.CheckFailed, "latest period unavailable: "+err.Error())
	case payload.Period < latest:
		record(CheckPeriodContinuity, pipeline.CheckFailed, fmt.Sprintf(
			"period %s behind latest %s", payload.Period, latest))
	default:
		record(CheckPeriodContinuity, pipeline.CheckPassed, "")
	}

	return v.derive(payload.Period, drawTime, numbers), entries, true
}

// derive computes the canonical row's derived columns.
func (v *Validator) derive(period string, drawTime time.Time, numbers []int) pipeline.Draw {
	sum := 0
	minN, maxN := numbers[0], numbers[0]
	for _, n := range numbers {
		sum += n
		if n < minN {
			minN = n
		}
		if n > maxN {
			maxN = n
		}
	}

	parity := "even"
	if sum%2 != 0 {
		parity = "odd"
	}
	magnitude := "small"
	if sum >= v.rules.BigThreshold {
		magnitude = "big"
	}

	return pipeline.Draw{
		Period:    period,
		DrawTime:  drawTime,
		Numbers:   numbers,
		Sum:       sum,
		Span:      maxN - minN,
		Parity:    parity,
		Magnitude: magnitude,
	}
}

// parseDrawTime resolves the draw time from openTime, then timestamp. A
// payload carrying neither falls back to the fetch time; only a present
// but unparseable openTime is a hard failure.
func parseDrawTime(p rawPayload, fetchedAt time.Time) (time.Time, string, error) {
	if p.OpenTime != "" {
		t, err := time.Parse(drawTimeLayout, p.OpenTime)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("unparseable openTime %q", p.OpenTime)
		}
		return t.UTC(), "", nil
	}
	if p.Timestamp > 0 {
		return time.Unix(p.Timestamp, 0).UTC(), "", nil
	}
	return fetchedAt.UTC(), "no time field in payload, using fetch time", nil
}

func parseNumbers(p rawPayload) ([]int, error) {
	if len(p.Numbers) > 0 {
		return p.Numbers, nil
	}
	if p.OpenCode == "" {
		return nil, fmt.Errorf("numbers are missing")
	}
	parts := strings.Split(p.OpenCode, ",")
	numbers := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("unparseable openCode element %q", part)
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}

// Name identifies the stage to the scheduler.
func (v *Validator) Name() string { return pipeline.ComponentValidator }

// RunOnce adapts Validate to the scheduler's stage contract.
func (v *Validator) RunOnce(ctx context.Context) (string, error) {
	sum, err := v.Validate(ctx)
	detail := fmt.Sprintf("examined=%d passed=%d failed=%d enqueued=%d",
		sum.Examined, sum.Passed, sum.Failed, sum.Enqueued)
	return detail, err
}
