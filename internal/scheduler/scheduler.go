// Package scheduler drives the pipeline stages on independent tickers
// and feeds their tick outcomes to the alert monitor.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drawpulse/drawpulse/internal/metrics"
	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// Stage is one schedulable pipeline step. RunOnce performs a full pass
// and returns a short human-readable detail string for the tick record.
type Stage interface {
	Name() string
	RunOnce(ctx context.Context) (detail string, err error)
}

// Injector decides whether a tick should fail artificially. It exists
// for operational drills: forcing a component down end to end exercises
// the metric, alert and cooldown paths against the real store.
type Injector interface {
	// Inject returns a non-nil error to force the named component's tick
	// to fail before the stage runs.
	Inject(component string) error
}

// FaultInjector fails every tick of the named components.
type FaultInjector struct {
	components map[string]struct{}
}

// NewFaultInjector builds an injector targeting the given components.
func NewFaultInjector(components ...string) *FaultInjector {
	set := make(map[string]struct{}, len(components))
	for _, c := range components {
		set[c] = struct{}{}
	}
	return &FaultInjector{components: set}
}

// Inject implements Injector.
func (f *FaultInjector) Inject(component string) error {
	if _, ok := f.components[component]; ok {
		return fmt.Errorf("injected failure for %s", component)
	}
	return nil
}

// Config holds per-stage tick intervals.
type Config struct {
	// Intervals maps a stage name to its tick interval.
	Intervals map[string]time.Duration
	// DefaultInterval applies to stages missing from Intervals.
	DefaultInterval time.Duration
}

func (c Config) interval(stage string) time.Duration {
	if d, ok := c.Intervals[stage]; ok && d > 0 {
		return d
	}
	if c.DefaultInterval > 0 {
		return c.DefaultInterval
	}
	return time.Minute
}

// Scheduler runs each stage on its own loop. Ticks of one stage never
// overlap because the loop runs them synchronously; stages only share
// the store.
type Scheduler struct {
	stages   []Stage
	store    pipeline.AuditStore
	monitor  *Monitor
	injector Injector
	clock    pipeline.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(stages []Stage, store pipeline.AuditStore, monitor *Monitor, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		stages:  stages,
		store:   store,
		monitor: monitor,
		clock:   pipeline.SystemClock{},
		cfg:     cfg,
		logger:  logger,
	}
}

// WithInjector installs a fault injector. Nil disables injection.
func (s *Scheduler) WithInjector(inj Injector) *Scheduler {
	s.injector = inj
	return s
}

// WithClock replaces the tick timing clock, for tests.
func (s *Scheduler) WithClock(clock pipeline.Clock) *Scheduler {
	s.clock = clock
	return s
}

// Run drives every stage until ctx is canceled or, when iterations is
// positive, until each stage has ticked that many times. The first tick
// of each stage runs immediately.
func (s *Scheduler) Run(ctx context.Context, iterations int) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, stage := range s.stages {
		stage := stage
		g.Go(func() error {
			return s.runLoop(ctx, stage, iterations)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, stage Stage, iterations int) error {
	interval := s.cfg.interval(stage.Name())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		if iterations > 0 && tick >= iterations {
			return nil
		}
		if err := s.runTick(ctx, stage); err != nil {
			return err
		}
		if iterations > 0 && tick+1 >= iterations {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runTick executes one stage pass with panic containment, records the
// durable tick metric and feeds the monitor. Only store failures
// propagate; a failed stage pass is an outcome, not a loop error.
func (s *Scheduler) runTick(ctx context.Context, stage Stage) error {
	name := stage.Name()
	start := s.clock.Now()

	detail, tickErr := s.executeStage(ctx, stage)
	duration := s.clock.Now().Sub(start)

	outcome := "tick_success"
	if tickErr != nil {
		outcome = "tick_failed"
		s.logger.Warn("stage tick failed",
			zap.String("component", name),
			zap.Duration("duration", duration),
			zap.Error(tickErr),
		)
	} else {
		s.logger.Debug("stage tick finished",
			zap.String("component", name),
			zap.Duration("duration", duration),
			zap.String("detail", detail),
		)
	}
	metrics.ObserveTick(name, outcome, duration)

	sampleDetail := map[string]string{"detail": detail}
	if tickErr != nil {
		sampleDetail["error"] = tickErr.Error()
	}
	detailJSON, err := json.Marshal(sampleDetail)
	if err != nil {
		return fmt.Errorf("marshal tick detail: %w", err)
	}
	if err := s.store.RecordMetric(ctx, pipeline.MetricSample{
		Component: name,
		Metric:    outcome,
		Value:     duration.Seconds(),
		Detail:    detailJSON,
	}); err != nil {
		return fmt.Errorf("record tick metric for %s: %w", name, err)
	}

	if s.monitor != nil {
		msg := detail
		if tickErr != nil {
			msg = tickErr.Error()
		}
		// A lost alert must not take the stage down with it.
		if _, err := s.monitor.Record(ctx, name, tickErr == nil, msg); err != nil {
			s.logger.Error("alert recording failed",
				zap.String("component", name),
				zap.Error(err),
			)
		}
	}
	return nil
}

// executeStage runs the stage with injection and panic recovery. A
// panicking stage fails its tick; the loop keeps running.
func (s *Scheduler) executeStage(ctx context.Context, stage Stage) (detail string, err error) {
	if s.injector != nil {
		if injErr := s.injector.Inject(stage.Name()); injErr != nil {
			return "", injErr
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name(), r)
		}
	}()
	return stage.RunOnce(ctx)
}
