// Package memory implements the durable store contract in-memory for
// development runs and tests. Claim semantics mirror the conditional
// updates of the Postgres implementation.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// Store holds every pipeline entity behind one mutex.
type Store struct {
	mu sync.Mutex

	nextRawID    int64
	nextDrawID   int64
	nextJobID    int64
	nextResultID int64
	nextAuditID  int64

	raws    []*pipeline.RawDraw
	rawKeys map[rawKey]struct{}
	draws   map[string]*pipeline.Draw
	jobs    map[int64]*pipeline.Job
	results map[int64]*pipeline.Result

	validationLog []pipeline.ValidationEntry
	metrics       []pipeline.MetricSample
	alerts        []pipeline.Alert
}

type rawKey struct {
	period string
	source string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		rawKeys: make(map[rawKey]struct{}),
		draws:   make(map[string]*pipeline.Draw),
		jobs:    make(map[int64]*pipeline.Job),
		results: make(map[int64]*pipeline.Result),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// InsertRaw inserts a raw draw unless (period, source) was seen before.
func (s *Store) InsertRaw(_ context.Context, period, source string, payload json.RawMessage, fetchedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rawKey{period: period, source: source}
	if _, seen := s.rawKeys[key]; seen {
		return false, nil
	}
	s.rawKeys[key] = struct{}{}
	s.nextRawID++
	s.raws = append(s.raws, &pipeline.RawDraw{
		ID:        s.nextRawID,
		Period:    period,
		Source:    source,
		Payload:   append(json.RawMessage(nil), payload...),
		FetchedAt: fetchedAt,
		Status:    pipeline.RawPending,
	})
	return true, nil
}

// ListPendingRaw returns pending raw draws ordered by fetched_at ascending.
func (s *Store) ListPendingRaw(_ context.Context, limit int) ([]pipeline.RawDraw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]pipeline.RawDraw, 0, limit)
	ordered := append([]*pipeline.RawDraw(nil), s.raws...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FetchedAt.Before(ordered[j].FetchedAt)
	})
	for _, r := range ordered {
		if r.Status != pipeline.RawPending {
			continue
		}
		pending = append(pending, *r)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

// SetRawStatus applies a guarded status transition to one raw draw.
func (s *Store) SetRawStatus(_ context.Context, id int64, from, to pipeline.RawStatus) error {
	if !from.CanTransition(to) {
		return pipeline.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.raws {
		if r.ID != id {
			continue
		}
		if r.Status != from {
			return pipeline.ErrNotFound
		}
		r.Status = to
		return nil
	}
	return pipeline.ErrNotFound
}

// UpsertDraw inserts or replaces the canonical draw for a period.
func (s *Store) UpsertDraw(_ context.Context, d pipeline.Draw) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.draws[d.Period]; ok {
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = time.Now()
		*existing = d
		return nil
	}
	s.nextDrawID++
	d.ID = s.nextDrawID
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = d.CreatedAt
	copied := d
	s.draws[d.Period] = &copied
	return nil
}

// GetDraw returns the canonical draw for a period.
func (s *Store) GetDraw(_ context.Context, period string) (pipeline.Draw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.draws[period]
	if !ok {
		return pipeline.Draw{}, pipeline.ErrNotFound
	}
	return *d, nil
}

// LatestPeriod returns the lexically greatest canonical period.
func (s *Store) LatestPeriod(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := ""
	for period := range s.draws {
		if period > latest {
			latest = period
		}
	}
	if latest == "" {
		return "", pipeline.ErrNotFound
	}
	return latest, nil
}

// ListRecentDraws returns draws ordered by draw_time descending.
func (s *Store) ListRecentDraws(_ context.Context, limit int) ([]pipeline.Draw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]pipeline.Draw, 0, len(s.draws))
	for _, d := range s.draws {
		all = append(all, *d)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].DrawTime.Equal(all[j].DrawTime) {
			return all[i].DrawTime.After(all[j].DrawTime)
		}
		return all[i].Period > all[j].Period
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// EnqueueJob inserts a pending job.
func (s *Store) EnqueueJob(_ context.Context, jobType string, payload json.RawMessage, priority int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextJobID++
	s.jobs[s.nextJobID] = &pipeline.Job{
		ID:        s.nextJobID,
		Type:      jobType,
		Payload:   append(json.RawMessage(nil), payload...),
		Priority:  priority,
		Status:    pipeline.JobPending,
		CreatedAt: time.Now(),
	}
	return s.nextJobID, nil
}

// ClaimNext claims the oldest highest-priority pending job. The whole
// select-and-transition runs under the store mutex, matching the
// row-level conditional update of the SQL implementation.
func (s *Store) ClaimNext(_ context.Context, claimant string) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *pipeline.Job
	for _, j := range s.jobs {
		if j.Status != pipeline.JobPending {
			continue
		}
		if best == nil || less(j, best) {
			best = j
		}
	}
	if best == nil {
		return pipeline.Job{}, pipeline.ErrNoPendingJobs
	}
	now := time.Now()
	best.Status = pipeline.JobProcessing
	best.ClaimedBy = claimant
	best.StartedAt = &now
	return *best, nil
}

func less(a, b *pipeline.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// CompleteJob finishes a processing job and links its result.
func (s *Store) CompleteJob(_ context.Context, jobID, resultID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if !j.Status.CanTransition(pipeline.JobFinished) {
		return pipeline.ErrInvalidTransition
	}
	now := time.Now()
	j.Status = pipeline.JobFinished
	j.FinishedAt = &now
	j.ResultID = &resultID
	return nil
}

// FailJob fails a processing job with error detail.
func (s *Store) FailJob(_ context.Context, jobID int64, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if !j.Status.CanTransition(pipeline.JobFailed) {
		return pipeline.ErrInvalidTransition
	}
	now := time.Now()
	j.Status = pipeline.JobFailed
	j.FinishedAt = &now
	j.Error = detail
	return nil
}

// GetJob returns one job by id.
func (s *Store) GetJob(_ context.Context, jobID int64) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	return *j, nil
}

// InsertResult stores an immutable analysis result.
func (s *Store) InsertResult(_ context.Context, r pipeline.Result) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextResultID++
	r.ID = s.nextResultID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	copied := r
	s.results[r.ID] = &copied
	return r.ID, nil
}

// GetResult returns one result by id.
func (s *Store) GetResult(_ context.Context, id int64) (pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[id]
	if !ok {
		return pipeline.Result{}, pipeline.ErrNotFound
	}
	return *r, nil
}

// AppendValidationLog appends audit rows for check outcomes.
func (s *Store) AppendValidationLog(_ context.Context, entries []pipeline.ValidationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.nextAuditID++
		e.ID = s.nextAuditID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		s.validationLog = append(s.validationLog, e)
	}
	return nil
}

// RecordMetric appends one metric sample.
func (s *Store) RecordMetric(_ context.Context, sample pipeline.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	sample.ID = s.nextAuditID
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now()
	}
	s.metrics = append(s.metrics, sample)
	return nil
}

// RecordAlert appends one alert row.
func (s *Store) RecordAlert(_ context.Context, a pipeline.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	a.ID = s.nextAuditID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.alerts = append(s.alerts, a)
	return nil
}

// ValidationLog returns a copy of the audit trail, for inspection.
func (s *Store) ValidationLog() []pipeline.ValidationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.ValidationEntry(nil), s.validationLog...)
}

// Metrics returns a copy of recorded metric samples.
func (s *Store) Metrics() []pipeline.MetricSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.MetricSample(nil), s.metrics...)
}

// Alerts returns a copy of recorded alerts.
func (s *Store) Alerts() []pipeline.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.Alert(nil), s.alerts...)
}

// RawDraws returns a copy of all raw draws, for inspection.
func (s *Store) RawDraws() []pipeline.RawDraw {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]pipeline.RawDraw, 0, len(s.raws))
	for _, r := range s.raws {
		out = append(out, *r)
	}
	return out
}
