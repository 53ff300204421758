// Package collector fetches draw payloads from the configured source
// endpoints and persists them as pending raw draws.
package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/drawpulse/drawpulse/internal/metrics"
	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// Fetcher retrieves one endpoint body.
type Fetcher interface {
	Get(ctx context.Context, endpoint string) ([]byte, error)
}

// Config names the source endpoints for one Collector.
type Config struct {
	SourceName      string
	HistoryEndpoint string
	LatestEndpoint  string
	BatchSize       int
}

// Summary reports the outcome of one collection pass.
type Summary struct {
	Fetched    int
	Persisted  int
	Duplicates int
	Errors     []error
}

// Collector drives one collection pass per tick. It only ever appends
// raw draws; canonical and job tables belong to later stages.
type Collector struct {
	store   pipeline.RawStore
	fetcher Fetcher
	clock   pipeline.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Collector.
func New(store pipeline.RawStore, fetcher Fetcher, clock pipeline.Clock, cfg Config, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "history_api"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 120
	}
	return &Collector{
		store:   store,
		fetcher: fetcher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// historyResponse is the history endpoint envelope.
type historyResponse struct {
	Data []json.RawMessage `json:"data"`
}

// periodKey extracts the record key without interpreting the rest of
// the payload; validation happens downstream.
type periodKey struct {
	Period string `json:"period"`
}

// Collect fetches the configured endpoints and persists each distinct
// logical record. Errors never escape the collection boundary: retry
// exhaustion and malformed bodies land in Summary.Errors, and only a
// store failure aborts the pass.
func (c *Collector) Collect(ctx context.Context) (Summary, error) {
	var sum Summary

	if c.cfg.HistoryEndpoint != "" {
		payloads, err := c.fetchHistory(ctx)
		if err != nil {
			sum.Errors = append(sum.Errors, err)
		} else if err := c.persist(ctx, payloads, &sum); err != nil {
			return sum, err
		}
	}

	if c.cfg.LatestEndpoint != "" {
		payload, err := c.fetchLatest(ctx)
		if err != nil {
			sum.Errors = append(sum.Errors, err)
		} else if err := c.persist(ctx, []json.RawMessage{payload}, &sum); err != nil {
			return sum, err
		}
	}

	metrics.ObserveCollectedRecords("persisted", sum.Persisted)
	metrics.ObserveCollectedRecords("duplicate", sum.Duplicates)
	metrics.ObserveCollectedRecords("error", len(sum.Errors))

	c.logger.Info("collection pass finished",
		zap.Int("fetched", sum.Fetched),
		zap.Int("persisted", sum.Persisted),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("errors", len(sum.Errors)),
	)
	return sum, nil
}

func (c *Collector) fetchHistory(ctx context.Context) ([]json.RawMessage, error) {
	body, err := c.fetcher.Get(ctx, c.cfg.HistoryEndpoint)
	if err != nil {
		return nil, err
	}
	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &pipeline.PermanentSourceError{
			Endpoint: c.cfg.HistoryEndpoint,
			Err:      fmt.Errorf("malformed history body: %w", err),
		}
	}
	if len(resp.Data) > c.cfg.BatchSize {
		resp.Data = resp.Data[:c.cfg.BatchSize]
	}
	return resp.Data, nil
}

func (c *Collector) fetchLatest(ctx context.Context) (json.RawMessage, error) {
	body, err := c.fetcher.Get(ctx, c.cfg.LatestEndpoint)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &pipeline.PermanentSourceError{
			Endpoint: c.cfg.LatestEndpoint,
			Err:      fmt.Errorf("malformed latest body"),
		}
	}
	return json.RawMessage(body), nil
}

// persist inserts each payload keyed by (period, source); an existing
// key counts as a duplicate, not an error.
func (c *Collector) persist(ctx context.Context, payloads []json.RawMessage, sum *Summary) error {
	now := c.clock.Now()
	for _, payload := range payloads {
		var key periodKey
		if err := json.Unmarshal(payload, &key); err != nil || key.Period == "" {
			c.logger.Warn("skipping record without period", zap.String("source", c.cfg.SourceName))
			sum.Errors = append(sum.Errors, &pipeline.PermanentSourceError{
				Endpoint: c.cfg.SourceName,
				Err:      fmt.Errorf("record missing period"),
			})
			continue
		}
		sum.Fetched++

		inserted, err := c.store.InsertRaw(ctx, key.Period, c.cfg.SourceName, payload, now)
		if err != nil {
			return fmt.Errorf("persist raw draw %s: %w", key.Period, err)
		}
		if inserted {
			sum.Persisted++
		} else {
			sum.Duplicates++
		}
	}
	return nil
}

// Name identifies the stage to the scheduler.
func (c *Collector) Name() string { return pipeline.ComponentCollector }

// RunOnce adapts Collect to the scheduler's stage contract: the tick
// fails when the store is unreachable or when every endpoint fetch
// failed without persisting anything.
func (c *Collector) RunOnce(ctx context.Context) (string, error) {
	sum, err := c.Collect(ctx)
	detail := fmt.Sprintf("fetched=%d persisted=%d duplicates=%d errors=%d",
		sum.Fetched, sum.Persisted, sum.Duplicates, len(sum.Errors))
	if err != nil {
		return detail, err
	}
	if len(sum.Errors) > 0 && sum.Fetched == 0 {
		return detail, fmt.Errorf("collection produced no records: %w", sum.Errors[0])
	}
	return detail, nil
}
