package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// FeatureExtract computes the per-draw feature vector for one period.
type FeatureExtract struct {
	store pipeline.DrawStore
}

// NewFeatureExtract constructs the handler.
func NewFeatureExtract(store pipeline.DrawStore) *FeatureExtract {
	return &FeatureExtract{store: store}
}

// Type implements Handler.
func (h *FeatureExtract) Type() string { return TypeFeatureExtract }

type featureData struct {
	Period    string `json:"period"`
	Numbers   []int  `json:"numbers"`
	Sum       int    `json:"sum"`
	Span      int    `json:"span"`
	Parity    string `json:"parity"`
	Magnitude string `json:"magnitude"`
	OddCount  int    `json:"odd_count"`
	EvenCount int    `json:"even_count"`
	Distinct  int    `json:"distinct"`
	MaxRepeat int    `json:"max_repeat"`
}

// Analyze implements Handler. The payload must name a period with a
// canonical draw.
func (h *FeatureExtract) Analyze(ctx context.Context, payload json.RawMessage) (pipeline.Result, error) {
	p, err := decodePayload(payload)
	if err != nil {
		return pipeline.Result{}, err
	}
	if p.Period == "" {
		return pipeline.Result{}, fmt.Errorf("feature_extract: payload names no period")
	}

	draw, err := h.store.GetDraw(ctx, p.Period)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("feature_extract %s: %w", p.Period, err)
	}

	odd := 0
	counts := make(map[int]int, len(draw.Numbers))
	maxRepeat := 0
	for _, n := range draw.Numbers {
		if n%2 != 0 {
			odd++
		}
		counts[n]++
		if counts[n] > maxRepeat {
			maxRepeat = counts[n]
		}
	}

	data := featureData{
		Period:    draw.Period,
		Numbers:   draw.Numbers,
		Sum:       draw.Sum,
		Span:      draw.Span,
		Parity:    draw.Parity,
		Magnitude: draw.Magnitude,
		OddCount:  odd,
		EvenCount: len(draw.Numbers) - odd,
		Distinct:  len(counts),
		MaxRepeat: maxRepeat,
	}
	summary := fmt.Sprintf("period %s: sum=%d span=%d %s/%s",
		draw.Period, draw.Sum, draw.Span, draw.Parity, draw.Magnitude)
	return buildResult(TypeFeatureExtract, summary, data, map[string]string{"period": draw.Period})
}
