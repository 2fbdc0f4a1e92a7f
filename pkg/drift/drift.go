// Package drift implements the sliding-window rolling mean/max change
// detector over spectral estimates (C9). Grounded on the teacher's
// pkg/envelope/monitor.go: threshold violation recording, defensive-copy
// accessors, and the same mutex-guarded struct shape.
package drift

import (
	"fmt"
	"sync"

	"github.com/mindburn-labs/governor-core/pkg/errs"
)

// DefaultWindow, DefaultMeanThreshold, DefaultMaxThreshold are the
// spec's stated defaults, overridable via environment/config.
const (
	DefaultWindow        = 10
	DefaultMeanThreshold = 0.05
	DefaultMaxThreshold  = 0.10
	MinWindow            = 2
)

// Alert carries the context of a triggered drift alert.
type Alert struct {
	MeanDrift float64
	MaxDrift  float64
	Window    []float64
}

func (a *Alert) Error() string {
	return fmt.Sprintf("%v: mean_drift=%.6f max_drift=%.6f", errs.ErrDriftAlert, a.MeanDrift, a.MaxDrift)
}

func (a *Alert) Unwrap() error { return errs.ErrDriftAlert }

// Monitor holds the bounded FIFO window and the two thresholds.
type Monitor struct {
	mu       sync.Mutex
	window   []float64
	capacity int
	meanThr  float64
	maxThr   float64
}

// New creates a Monitor with the given capacity (clamped to MinWindow)
// and thresholds.
func New(capacity int, meanThreshold, maxThreshold float64) *Monitor {
	if capacity < MinWindow {
		capacity = MinWindow
	}
	return &Monitor{capacity: capacity, meanThr: meanThreshold, maxThr: maxThreshold}
}

// Record appends rho to the window, evicting the oldest value on
// overflow, and checks the mean/max drift of consecutive differences.
// Strict inequalities: equality at the threshold does not trigger.
func (m *Monitor) Record(rho float64) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, rho)
	if len(m.window) > m.capacity {
		m.window = m.window[len(m.window)-m.capacity:]
	}

	if len(m.window) < 2 {
		return nil, nil
	}

	var diffs []float64
	for i := 1; i < len(m.window); i++ {
		d := m.window[i] - m.window[i-1]
		if d < 0 {
			d = -d
		}
		diffs = append(diffs, d)
	}

	meanDrift := mean(diffs)
	maxDrift := max(diffs)

	if meanDrift > m.meanThr || maxDrift > m.maxThr {
		snapshot := make([]float64, len(m.window))
		copy(snapshot, m.window)
		alert := &Alert{MeanDrift: meanDrift, MaxDrift: maxDrift, Window: snapshot}
		return alert, alert
	}

	return nil, nil
}

// Reset empties the window.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = nil
}

// CurrentWindow returns a defensive copy of the window.
func (m *Monitor) CurrentWindow() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.window))
	copy(out, m.window)
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func max(xs []float64) float64 {
	m := 0.0
	for i, x := range xs {
		if i == 0 || x > m {
			m = x
		}
	}
	return m
}
