package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

const defaultTrendWindow = 30

// TrendSummary snapshots the recent draw window: class distributions,
// sum statistics and the hottest digit.
type TrendSummary struct {
	store pipeline.DrawStore
}

// NewTrendSummary constructs the handler.
func NewTrendSummary(store pipeline.DrawStore) *TrendSummary {
	return &TrendSummary{store: store}
}

// Type implements Handler.
func (h *TrendSummary) Type() string { return TypeTrendSummary }

type trendData struct {
	Window       int            `json:"window"`
	Draws        int            `json:"draws"`
	FirstPeriod  string         `json:"first_period"`
	LastPeriod   string         `json:"last_period"`
	ParityCounts map[string]int `json:"parity_counts"`
	ClassCounts  map[string]int `json:"class_counts"`
	SumMean      float64        `json:"sum_mean"`
	SumMin       int            `json:"sum_min"`
	SumMax       int            `json:"sum_max"`
	HotDigit     int            `json:"hot_digit"`
	HotDigitHits int            `json:"hot_digit_hits"`
}

// Analyze implements Handler.
func (h *TrendSummary) Analyze(ctx context.Context, payload json.RawMessage) (pipeline.Result, error) {
	p, err := decodePayload(payload)
	if err != nil {
		return pipeline.Result{}, err
	}
	window := p.Window
	if window <= 0 {
		window = defaultTrendWindow
	}

	draws, err := recentWindow(ctx, h.store, window)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("trend_summary: %w", err)
	}
	if len(draws) == 0 {
		return pipeline.Result{}, fmt.Errorf("trend_summary: no draws in window")
	}

	data := trendData{
		Window:       window,
		Draws:        len(draws),
		FirstPeriod:  draws[0].Period,
		LastPeriod:   draws[len(draws)-1].Period,
		ParityCounts: map[string]int{},
		ClassCounts:  map[string]int{},
		SumMin:       draws[0].Sum,
		SumMax:       draws[0].Sum,
	}

	digitHits := map[int]int{}
	total := 0
	for _, d := range draws {
		data.ParityCounts[d.Parity]++
		data.ClassCounts[d.Magnitude]++
		total += d.Sum
		if d.Sum < data.SumMin {
			data.SumMin = d.Sum
		}
		if d.Sum > data.SumMax {
			data.SumMax = d.Sum
		}
		for _, n := range d.Numbers {
			digitHits[n]++
		}
	}
	data.SumMean = float64(total) / float64(len(draws))

	data.HotDigit = -1
	for digit, hits := range digitHits {
		if hits > data.HotDigitHits || (hits == data.HotDigitHits && digit < data.HotDigit) {
			data.HotDigit = digit
			data.HotDigitHits = hits
		}
	}

	summary := fmt.Sprintf("window %d: %d draws, mean sum %.1f, hot digit %d",
		window, len(draws), data.SumMean, data.HotDigit)
	meta := map[string]any{"window": window, "last_period": data.LastPeriod}
	return buildResult(TypeTrendSummary, summary, data, meta)
}
