package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// Backtest defaults. The strategy bets on the sum class using a moving
// average crossover over the draw sums; a winning bet pays stake times
// the payout multiplier, a losing bet forfeits the stake.
const (
	defaultBacktestWindow = 200
	defaultShortWindow    = 5
	defaultLongWindow     = 20
	defaultStake          = 10.0
	payoutMultiplier      = 0.92
	equityCurveTail       = 50
)

// StrategyBacktest replays the momentum strategy over the recent window.
type StrategyBacktest struct {
	store pipeline.DrawStore
}

// NewStrategyBacktest constructs the handler.
func NewStrategyBacktest(store pipeline.DrawStore) *StrategyBacktest {
	return &StrategyBacktest{store: store}
}

// Type implements Handler.
func (h *StrategyBacktest) Type() string { return TypeStrategyBacktest }

type backtestData struct {
	Window      int       `json:"window"`
	ShortWindow int       `json:"short_window"`
	LongWindow  int       `json:"long_window"`
	Stake       float64   `json:"stake"`
	Payout      float64   `json:"payout_multiplier"`
	Bets        int       `json:"bets"`
	Wins        int       `json:"wins"`
	WinRate     float64   `json:"win_rate"`
	TotalPnL    float64   `json:"total_pnl"`
	EquityCurve []float64 `json:"equity_curve"`
}

// Analyze implements Handler.
func (h *StrategyBacktest) Analyze(ctx context.Context, payload json.RawMessage) (pipeline.Result, error) {
	p, err := decodePayload(payload)
	if err != nil {
		return pipeline.Result{}, err
	}
	window := p.Window
	if window <= 0 {
		window = defaultBacktestWindow
	}
	short := p.ShortWindow
	if short <= 0 {
		short = defaultShortWindow
	}
	long := p.LongWindow
	if long <= 0 {
		long = defaultLongWindow
	}
	if short >= long {
		return pipeline.Result{}, fmt.Errorf("strategy_backtest: short window %d must be below long window %d", short, long)
	}

	draws, err := recentWindow(ctx, h.store, window)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("strategy_backtest: %w", err)
	}
	if len(draws) <= long {
		return pipeline.Result{}, fmt.Errorf("strategy_backtest: %d draws is below the long window %d", len(draws), long)
	}

	data := backtestData{
		Window:      window,
		ShortWindow: short,
		LongWindow:  long,
		Stake:       defaultStake,
		Payout:      payoutMultiplier,
	}

	equity := 0.0
	var curve []float64
	for i := long; i < len(draws); i++ {
		// Signals use only draws strictly before i.
		shortMA := sumAverage(draws[i-short : i])
		longMA := sumAverage(draws[i-long : i])

		bet := "small"
		if shortMA > longMA {
			bet = "big"
		}

		data.Bets++
		if draws[i].Magnitude == bet {
			data.Wins++
			equity += data.Stake * data.Payout
		} else {
			equity -= data.Stake
		}
		curve = append(curve, equity)
	}

	data.TotalPnL = equity
	if data.Bets > 0 {
		data.WinRate = float64(data.Wins) / float64(data.Bets)
	}
	if len(curve) > equityCurveTail {
		curve = curve[len(curve)-equityCurveTail:]
	}
	data.EquityCurve = curve

	summary := fmt.Sprintf("ma(%d/%d) over %d bets: win rate %.2f, pnl %.2f",
		short, long, data.Bets, data.WinRate, data.TotalPnL)
	meta := map[string]any{"window": window, "last_period": draws[len(draws)-1].Period}
	return buildResult(TypeStrategyBacktest, summary, data, meta)
}

func sumAverage(draws []pipeline.Draw) float64 {
	total := 0
	for _, d := range draws {
		total += d.Sum
	}
	return float64(total) / float64(len(draws))
}
