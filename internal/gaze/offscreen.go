package gaze

import (
	"sync"
	"time"
)

// State is a snapshot of the offscreen machine. Since is zero unless
// Tracking is true.
type State struct {
	Tracking bool
	Since    time.Time
}

// OffscreenMachine tracks how long gaze has stayed outside the viewport.
//
// It is a two-state machine. An out-of-viewport sample in the idle state
// starts an episode. While tracking, a sample arriving more than threshold
// after the episode reference fires and moves the reference to now, so a
// long excursion fires once per threshold period. Any in-viewport sample
// returns to idle. Absent samples change nothing.
type OffscreenMachine struct {
	threshold time.Duration
	viewport  ViewportFunc

	mu    sync.Mutex
	state State
}

// NewOffscreenMachine creates an idle machine.
func NewOffscreenMachine(threshold time.Duration, viewport ViewportFunc) *OffscreenMachine {
	return &OffscreenMachine{threshold: threshold, viewport: viewport}
}

// Threshold returns the configured dwell threshold.
func (m *OffscreenMachine) Threshold() time.Duration {
	return m.threshold
}

// Observe feeds one sample taken at now and reports whether an offscreen
// event fires.
func (m *OffscreenMachine) Observe(s Sample, now time.Time) bool {
	if !s.OK {
		return false
	}
	inside := m.viewport().Contains(s.X, s.Y)

	m.mu.Lock()
	defer m.mu.Unlock()

	if inside {
		m.state = State{}
		return false
	}
	if !m.state.Tracking {
		m.state = State{Tracking: true, Since: now}
		return false
	}
	if now.Sub(m.state.Since) > m.threshold {
		m.state.Since = now
		return true
	}
	return false
}

// State returns the current state.
func (m *OffscreenMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset returns the machine to idle.
func (m *OffscreenMachine) Reset() {
	m.mu.Lock()
	m.state = State{}
	m.mu.Unlock()
}
