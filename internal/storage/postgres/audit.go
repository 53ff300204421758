package postgres

import (
	"context"
	"fmt"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// AppendValidationLog writes one audit row per check outcome.
func (s *Store) AppendValidationLog(ctx context.Context, entries []pipeline.ValidationEntry) error {
	query := `
INSERT INTO validation_log (period, check_item, outcome, detail)
VALUES ($1, $2, $3, $4)`

	for _, e := range entries {
		if _, err := s.db.Exec(ctx, query, e.Period, e.CheckItem, e.Outcome, e.Detail); err != nil {
			return fmt.Errorf("append validation log: %w", err)
		}
	}
	return nil
}

// RecordMetric writes one pipeline_stats row.
func (s *Store) RecordMetric(ctx context.Context, sample pipeline.MetricSample) error {
	query := `
INSERT INTO pipeline_stats (component, metric, metric_value, detail)
VALUES ($1, $2, $3, $4)`

	if _, err := s.db.Exec(ctx, query, sample.Component, sample.Metric, sample.Value, sample.Detail); err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// RecordAlert writes one pipeline_alerts row.
func (s *Store) RecordAlert(ctx context.Context, a pipeline.Alert) error {
	query := `
INSERT INTO pipeline_alerts (component, level, message, detail)
VALUES ($1, $2, $3, $4)`

	if _, err := s.db.Exec(ctx, query, a.Component, a.Level, a.Message, a.Detail); err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}
