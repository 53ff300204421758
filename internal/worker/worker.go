// Package worker drains the analysis job queue: it claims pending jobs,
// dispatches them to the registered handlers and records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drawpulse/drawpulse/internal/analysis"
	"github.com/drawpulse/drawpulse/internal/metrics"
	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// Store is the subset of the durable store the worker needs.
type Store interface {
	pipeline.JobStore
	pipeline.ResultStore
}

// Config controls one worker's drain behavior.
type Config struct {
	// BatchSize caps how many jobs one tick may process.
	BatchSize int
}

// Summary reports the outcome of one drain pass.
type Summary struct {
	Claimed  int
	Finished int
	Failed   int
}

// Worker processes claimed jobs one at a time. Claim exclusivity comes
// from the store's guarded pending-to-processing transition, so any
// number of workers may run against the same queue.
type Worker struct {
	store    Store
	handlers map[string]analysis.Handler
	cfg      Config
	id       string
	logger   *zap.Logger
}

// New constructs a Worker with a unique claimant identity.
func New(store Store, handlers map[string]analysis.Handler, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	id := "worker-" + uuid.NewString()
	return &Worker{
		store:    store,
		handlers: handlers,
		cfg:      cfg,
		id:       id,
		logger:   logger.With(zap.String("worker_id", id)),
	}
}

// ID returns the claimant identity stamped on claimed jobs.
func (w *Worker) ID() string { return w.id }

// Drain claims and processes jobs until the queue is empty or the batch
// cap is reached. A job whose handler fails is marked failed and the
// pass continues; only a store failure aborts the pass.
func (w *Worker) Drain(ctx context.Context) (Summary, error) {
	var sum Summary

	for sum.Claimed < w.cfg.BatchSize {
		job, err := w.store.ClaimNext(ctx, w.id)
		if errors.Is(err, pipeline.ErrNoPendingJobs) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("claim next job: %w", err)
		}
		sum.Claimed++

		finished, err := w.process(ctx, job)
		if err != nil {
			return sum, err
		}
		if finished {
			sum.Finished++
		} else {
			sum.Failed++
		}
	}

	w.logger.Info("drain pass finished",
		zap.Int("claimed", sum.Claimed),
		zap.Int("finished", sum.Finished),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// process runs one claimed job to a terminal status.
func (w *Worker) process(ctx context.Context, job pipeline.Job) (finished bool, err error) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		detail := fmt.Sprintf("%v: %s", pipeline.ErrUnknownJobType, job.Type)
		if err := w.store.FailJob(ctx, job.ID, detail); err != nil {
			return false, fmt.Errorf("fail job %d: %w", job.ID, err)
		}
		metrics.ObserveJob(job.Type, string(pipeline.JobFailed))
		w.logger.Warn("job has no handler",
			zap.Int64("job_id", job.ID),
			zap.String("job_type", job.Type),
		)
		return false, nil
	}

	result, analyzeErr := handler.Analyze(ctx, job.Payload)
	if analyzeErr != nil {
		if err := w.store.FailJob(ctx, job.ID, analyzeErr.Error()); err != nil {
			return false, fmt.Errorf("fail job %d: %w", job.ID, err)
		}
		metrics.ObserveJob(job.Type, string(pipeline.JobFailed))
		w.logger.Warn("job failed",
			zap.Int64("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Error(analyzeErr),
		)
		return false, nil
	}

	resultID, err := w.store.InsertResult(ctx, result)
	if err != nil {
		return false, fmt.Errorf("insert result for job %d: %w", job.ID, err)
	}
	if err := w.store.CompleteJob(ctx, job.ID, resultID); err != nil {
		return false, fmt.Errorf("complete job %d: %w", job.ID, err)
	}
	metrics.ObserveJob(job.Type, string(pipeline.JobFinished))

	w.logger.Debug("job finished",
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int64("result_id", resultID),
	)
	return true, nil
}

// Name identifies the stage to the scheduler.
func (w *Worker) Name() string { return pipeline.ComponentWorker }

// RunOnce adapts Drain to the scheduler's stage contract.
func (w *Worker) RunOnce(ctx context.Context) (string, error) {
	sum, err := w.Drain(ctx)
	detail := fmt.Sprintf("claimed=%d finished=%d failed=%d",
		sum.Claimed, sum.Finished, sum.Failed)
	return detail, err
}
