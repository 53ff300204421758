// Package analysis implements the job handlers that turn canonical
// draws into stored analysis results.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// Analysis type names, also used as job types on the queue.
const (
	TypeFeatureExtract      = "feature_extract"
	TypeTrendSummary        = "trend_summary"
	TypeStatisticalAnalysis = "statistical_analysis"
	TypeStrategyBacktest    = "strategy_backtest"
)

// SchemaVersion is stamped on every result row so readers can evolve
// with the payload shape.
const SchemaVersion = 1

// Handler produces one analysis result from a job payload.
type Handler interface {
	// Type is the job type this handler serves.
	Type() string

	// Analyze computes the result for one job payload.
	Analyze(ctx context.Context, payload json.RawMessage) (pipeline.Result, error)
}

// jobPayload is the common job payload shape. Window fields are
// optional; zero values fall back to each handler's default.
type jobPayload struct {
	Period      string `json:"period"`
	Window      int    `json:"window"`
	ShortWindow int    `json:"short_window"`
	LongWindow  int    `json:"long_window"`
}

func decodePayload(raw json.RawMessage) (jobPayload, error) {
	var p jobPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, fmt.Errorf("decode job payload: %w", err)
		}
	}
	return p, nil
}

// recentWindow loads up to window draws ordered oldest first.
func recentWindow(ctx context.Context, store pipeline.DrawStore, window int) ([]pipeline.Draw, error) {
	draws, err := store.ListRecentDraws(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("list recent draws: %w", err)
	}
	// ListRecentDraws is newest-first; time series math wants
	// chronological order.
	for i, j := 0, len(draws)-1; i < j; i, j = i+1, j-1 {
		draws[i], draws[j] = draws[j], draws[i]
	}
	return draws, nil
}

func buildResult(analysisType, summary string, data, metadata any) (pipeline.Result, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("marshal %s data: %w", analysisType, err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("marshal %s metadata: %w", analysisType, err)
	}
	return pipeline.Result{
		AnalysisType:  analysisType,
		SchemaVersion: SchemaVersion,
		Summary:       summary,
		Data:          dataJSON,
		Metadata:      metaJSON,
	}, nil
}

// Registry returns every handler keyed by job type.
func Registry(store pipeline.DrawStore) map[string]Handler {
	handlers := []Handler{
		NewFeatureExtract(store),
		NewTrendSummary(store),
		NewStatisticalAnalysis(store),
		NewStrategyBacktest(store),
	}
	byType := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		byType[h.Type()] = h
	}
	return byType
}
