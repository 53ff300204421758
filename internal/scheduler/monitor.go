package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drawpulse/drawpulse/internal/metrics"
	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// MonitorConfig tunes the sliding-window failure monitor.
type MonitorConfig struct {
	// Window is how many recent tick outcomes are considered.
	Window int
	// Threshold is how many failures inside the window raise an alert.
	Threshold int
	// Cooldown suppresses further alerts for a component after one fires.
	Cooldown time.Duration
}

// Monitor watches per-component tick outcomes and raises a durable
// alert when failures accumulate. Alerts for one component are gated by
// a cooldown so a sustained outage produces one alert per cooldown
// period, not one per tick.
type Monitor struct {
	store  pipeline.AuditStore
	clock  pipeline.Clock
	cfg    MonitorConfig
	logger *zap.Logger

	mu    sync.Mutex
	state map[string]*componentState
}

type componentState struct {
	outcomes  []bool
	next      int
	filled    int
	lastAlert time.Time
	hasAlert  bool
}

// NewMonitor constructs a Monitor.
func NewMonitor(store pipeline.AuditStore, clock pipeline.Clock, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if cfg.Window <= 0 {
		cfg.Window = 5
	}
	if cfg.Threshold <= 0 || cfg.Threshold > cfg.Window {
		cfg.Threshold = cfg.Window
	}
	return &Monitor{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		state:  make(map[string]*componentState),
	}
}

// Record registers one tick outcome and raises an alert if the failure
// threshold is crossed outside the cooldown. Returns whether an alert
// fired.
func (m *Monitor) Record(ctx context.Context, component string, ok bool, detail string) (bool, error) {
	m.mu.Lock()
	st, exists := m.state[component]
	if !exists {
		st = &componentState{outcomes: make([]bool, m.cfg.Window)}
		m.state[component] = st
	}
	st.outcomes[st.next] = ok
	st.next = (st.next + 1) % m.cfg.Window
	if st.filled < m.cfg.Window {
		st.filled++
	}

	failures := 0
	for i := 0; i < st.filled; i++ {
		if !st.outcomes[i] {
			failures++
		}
	}

	filled := st.filled
	now := m.clock.Now()
	fire := failures >= m.cfg.Threshold &&
		(!st.hasAlert || now.Sub(st.lastAlert) >= m.cfg.Cooldown)
	m.mu.Unlock()

	if !fire {
		return false, nil
	}

	level := pipeline.AlertLevelError
	if failures >= m.cfg.Window {
		level = pipeline.AlertLevelCritical
	}
	alertDetail, err := json.Marshal(map[string]any{
		"failures":  failures,
		"window":    m.cfg.Window,
		"threshold": m.cfg.Threshold,
		"last_tick": detail,
	})
	if err != nil {
		return false, fmt.Errorf("marshal alert detail: %w", err)
	}

	alert := pipeline.Alert{
		Component: component,
		Level:     level,
		Message: fmt.Sprintf("%d of the last %d %s ticks failed",
			failures, filled, component),
		Detail: alertDetail,
	}
	if err := m.store.RecordAlert(ctx, alert); err != nil {
		return false, fmt.Errorf("record alert for %s: %w", component, err)
	}
	metrics.ObserveAlert(component, level)

	// The cooldown starts only once the alert is durable, so a failed
	// write is retried at the next threshold crossing instead of going
	// silent for a whole cooldown window.
	m.mu.Lock()
	st.hasAlert = true
	st.lastAlert = now
	m.mu.Unlock()

	m.logger.Error("pipeline alert raised",
		zap.String("component", component),
		zap.String("level", level),
		zap.Int("failures", failures),
		zap.Int("window", m.cfg.Window),
	)
	return true, nil
}
