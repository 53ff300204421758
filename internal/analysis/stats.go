package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

const defaultStatsWindow = 200

// StatisticalAnalysis runs the deeper window statistics: digit
// frequencies, a chi-square uniformity score, parity run structure and
// class transition probabilities.
type StatisticalAnalysis struct {
	store pipeline.DrawStore
}

// NewStatisticalAnalysis constructs the handler.
func NewStatisticalAnalysis(store pipeline.DrawStore) *StatisticalAnalysis {
	return &StatisticalAnalysis{store: store}
}

// Type implements Handler.
func (h *StatisticalAnalysis) Type() string { return TypeStatisticalAnalysis }

type statsData struct {
	Window            int                           `json:"window"`
	Draws             int                           `json:"draws"`
	DigitFrequency    map[int]int                   `json:"digit_frequency"`
	PositionFrequency []map[int]int                 `json:"position_frequency"`
	ChiSquare         float64                       `json:"chi_square"`
	SumMean           float64                       `json:"sum_mean"`
	SumStdDev         float64                       `json:"sum_std_dev"`
	ParityRuns        int                           `json:"parity_runs"`
	LongestParityRun  int                           `json:"longest_parity_run"`
	ParityTransitions map[string]map[string]float64 `json:"parity_transitions"`
	ClassTransitions  map[string]map[string]float64 `json:"class_transitions"`
}

// Analyze implements Handler.
func (h *StatisticalAnalysis) Analyze(ctx context.Context, payload json.RawMessage) (pipeline.Result, error) {
	p, err := decodePayload(payload)
	if err != nil {
		return pipeline.Result{}, err
	}
	window := p.Window
	if window <= 0 {
		window = defaultStatsWindow
	}

	draws, err := recentWindow(ctx, h.store, window)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("statistical_analysis: %w", err)
	}
	if len(draws) == 0 {
		return pipeline.Result{}, fmt.Errorf("statistical_analysis: no draws in window")
	}

	data := statsData{
		Window:         window,
		Draws:          len(draws),
		DigitFrequency: map[int]int{},
	}

	positions := len(draws[0].Numbers)
	data.PositionFrequency = make([]map[int]int, positions)
	for i := range data.PositionFrequency {
		data.PositionFrequency[i] = map[int]int{}
	}

	totalDigits := 0
	for _, d := range draws {
		for i, n := range d.Numbers {
			data.DigitFrequency[n]++
			if i < positions {
				data.PositionFrequency[i][n]++
			}
			totalDigits++
		}
	}
	data.ChiSquare = chiSquareUniform(data.DigitFrequency, totalDigits, 10)

	data.SumMean, data.SumStdDev = sumMoments(draws)
	data.ParityRuns, data.LongestParityRun = parityRuns(draws)
	data.ParityTransitions = transitions(draws, func(d pipeline.Draw) string { return d.Parity })
	data.ClassTransitions = transitions(draws, func(d pipeline.Draw) string { return d.Magnitude })

	summary := fmt.Sprintf("window %d: %d draws, chi2=%.2f, sum %.1f±%.1f",
		window, len(draws), data.ChiSquare, data.SumMean, data.SumStdDev)
	meta := map[string]any{"window": window, "last_period": draws[len(draws)-1].Period}
	return buildResult(TypeStatisticalAnalysis, summary, data, meta)
}

// chiSquareUniform scores observed digit counts against a uniform
// distribution over categories buckets.
func chiSquareUniform(observed map[int]int, total, categories int) float64 {
	if total == 0 || categories == 0 {
		return 0
	}
	expected := float64(total) / float64(categories)
	chi := 0.0
	for digit := 0; digit < categories; digit++ {
		diff := float64(observed[digit]) - expected
		chi += diff * diff / expected
	}
	return chi
}

func sumMoments(draws []pipeline.Draw) (mean, stddev float64) {
	total := 0.0
	for _, d := range draws {
		total += float64(d.Sum)
	}
	mean = total / float64(len(draws))

	variance := 0.0
	for _, d := range draws {
		diff := float64(d.Sum) - mean
		variance += diff * diff
	}
	variance /= float64(len(draws))
	return mean, math.Sqrt(variance)
}

// parityRuns counts maximal runs of equal parity and the longest one.
func parityRuns(draws []pipeline.Draw) (runs, longest int) {
	current := 0
	for i, d := range draws {
		if i == 0 || d.Parity != draws[i-1].Parity {
			runs++
			current = 1
		} else {
			current++
		}
		if current > longest {
			longest = current
		}
	}
	return runs, longest
}

// transitions estimates first-order transition probabilities between
// consecutive draw labels.
func transitions(draws []pipeline.Draw, label func(pipeline.Draw) string) map[string]map[string]float64 {
	counts := map[string]map[string]int{}
	totals := map[string]int{}
	for i := 1; i < len(draws); i++ {
		from, to := label(draws[i-1]), label(draws[i])
		if counts[from] == nil {
			counts[from] = map[string]int{}
		}
		counts[from][to]++
		totals[from]++
	}

	probs := map[string]map[string]float64{}
	for from, row := range counts {
		probs[from] = map[string]float64{}
		for to, n := range row {
			probs[from][to] = float64(n) / float64(totals[from])
		}
	}
	return probs
}
