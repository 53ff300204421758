package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// UpsertDraw inserts or replaces the canonical draw for its period.
func (s *Store) UpsertDraw(ctx context.Context, d pipeline.Draw) error {
	numbers, err := json.Marshal(d.Numbers)
	if err != nil {
		return fmt.Errorf("marshal numbers: %w", err)
	}
	query := `
INSERT INTO draws (period, draw_time, numbers, sum, span, parity, magnitude)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (period) DO UPDATE SET
	draw_time = EXCLUDED.draw_time,
	numbers = EXCLUDED.numbers,
	sum = EXCLUDED.sum,
	span = EXCLUDED.span,
	parity = EXCLUDED.parity,
	magnitude = EXCLUDED.magnitude,
	updated_at = now()`

	if _, err := s.db.Exec(ctx, query, d.Period, d.DrawTime, numbers, d.Sum, d.Span, d.Parity, d.Magnitude); err != nil {
		return fmt.Errorf("upsert draw: %w", err)
	}
	return nil
}

// GetDraw returns the canonical draw for a period.
func (s *Store) GetDraw(ctx context.Context, period string) (pipeline.Draw, error) {
	query := `
SELECT id, period, draw_time, numbers, sum, span, parity, magnitude, created_at, updated_at
FROM draws
WHERE period = $1`

	var d pipeline.Draw
	var numbers []byte
	err := s.db.QueryRow(ctx, query, period).Scan(
		&d.ID, &d.Period, &d.DrawTime, &numbers, &d.Sum, &d.Span, &d.Parity, &d.Magnitude, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Draw{}, pipeline.ErrNotFound
		}
		return pipeline.Draw{}, fmt.Errorf("get draw: %w", err)
	}
	if err := json.Unmarshal(numbers, &d.Numbers); err != nil {
		return pipeline.Draw{}, fmt.Errorf("decode numbers: %w", err)
	}
	return d, nil
}

// LatestPeriod returns the highest canonical period seen so far.
func (s *Store) LatestPeriod(ctx context.Context) (string, error) {
	var period string
	err := s.db.QueryRow(ctx, `SELECT period FROM draws ORDER BY period DESC LIMIT 1`).Scan(&period)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", pipeline.ErrNotFound
		}
		return "", fmt.Errorf("latest period: %w", err)
	}
	return period, nil
}

// ListRecentDraws returns draws ordered by draw_time descending.
func (s *Store) ListRecentDraws(ctx context.Context, limit int) ([]pipeline.Draw, error) {
	query := `
SELECT id, period, draw_time, numbers, sum, span, parity, magnitude, created_at, updated_at
FROM draws
ORDER BY draw_time DESC, period DESC
LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent draws: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Draw
	for rows.Next() {
		var d pipeline.Draw
		var numbers []byte
		if err := rows.Scan(&d.ID, &d.Period, &d.DrawTime, &numbers, &d.Sum, &d.Span, &d.Parity, &d.Magnitude, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan draw: %w", err)
		}
		if err := json.Unmarshal(numbers, &d.Numbers); err != nil {
			return nil, fmt.Errorf("decode numbers: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate draws: %w", err)
	}
	return out, nil
}
