package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// InsertRaw inserts a raw draw keyed by (period, source). A conflicting
// key is treated as a successful duplicate, not an error.
func (s *Store) InsertRaw(ctx context.Context, period, source string, payload json.RawMessage, fetchedAt time.Time) (bool, error) {
	query := `
INSERT INTO raw_draws (period, source, payload, fetched_at, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (period, source) DO NOTHING`

	tag, err := s.db.Exec(ctx, query, period, source, payload, fetchedAt, pipeline.RawPending)
	if err != nil {
		return false, fmt.Errorf("insert raw draw: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingRaw returns pending raw draws, oldest fetch first.
func (s *Store) ListPendingRaw(ctx context.Context, limit int) ([]pipeline.RawDraw, error) {
	query := `
SELECT id, period, source, payload, fetched_at, status
FROM raw_draws
WHERE status = $1
ORDER BY fetched_at ASC, id ASC
LIMIT $2`

	rows, err := s.db.Query(ctx, query, pipeline.RawPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending raw draws: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RawDraw
	for rows.Next() {
		var r pipeline.RawDraw
		var payload []byte
		if err := rows.Scan(&r.ID, &r.Period, &r.Source, &payload, &r.FetchedAt, &r.Status); err != nil {
			return nil, fmt.Errorf("scan raw draw: %w", err)
		}
		r.Payload = payload
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw draws: %w", err)
	}
	return out, nil
}

// SetRawStatus transitions one raw draw, guarded by the expected prior
// status so a cancelled or repeated batch can never half-apply.
func (s *Store) SetRawStatus(ctx context.Context, id int64, from, to pipeline.RawStatus) error {
	if !from.CanTransition(to) {
		return pipeline.ErrInvalidTransition
	}
	query := `UPDATE raw_draws SET status = $1 WHERE id = $2 AND status = $3`
	tag, err := s.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("update raw status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}
