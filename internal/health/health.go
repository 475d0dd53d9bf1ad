// Package health reports per-pipeline health for proctord.
//
// Components register a Check; the status server runs them on each
// /health request and folds the results into one status. Readiness is a
// flag the monitor sets while at least one detection pipeline runs.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the component status is unknown.
	StatusUnknown Status = "unknown"
)

// Component names used by the monitor.
const (
	ComponentScan    = "scan"
	ComponentGaze    = "gaze"
	ComponentChannel = "channel"
	ComponentJournal = "journal"
)

const defaultCheckTimeout = 5 * time.Second

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ns"`
}

// Check reports one component.
type Check func(ctx context.Context) CheckResult

type registration struct {
	critical bool
	check    Check
}

// Checker holds the component checks and the readiness flag.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]registration
	timeout time.Duration
	started time.Time
	ready   atomic.Bool
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]registration),
		timeout: defaultCheckTimeout,
		started: time.Now(),
	}
}

// Register adds or replaces the check for a component. An unhealthy
// critical component makes the overall status unhealthy; any other
// problem only degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	c.checks[name] = registration{critical: critical, check: check}
	c.mu.Unlock()
}

// SetReady sets the readiness flag.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// Ready returns the readiness flag.
func (c *Checker) Ready() bool {
	return c.ready.Load()
}

// Check runs every registered check concurrently and returns the results
// by component name.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, reg := range c.checks {
		checks[name] = reg.check
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := c.run(ctx, check)
			mu.Lock()
			results[name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// run executes one check under the check timeout. A check that panics or
// outlives the timeout is unhealthy.
func (c *Checker) run(ctx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- check(ctx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// Overall folds component results into one status. Unknown results only
// count for critical components.
func (c *Checker) Overall(results map[string]CheckResult) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	for name, r := range results {
		critical := c.checks[name].critical
		switch {
		case r.Status == StatusUnhealthy && critical:
			return StatusUnhealthy
		case r.Status == StatusUnhealthy, r.Status == StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		case r.Status == StatusUnknown && critical:
			overall = StatusUnknown
		}
	}
	return overall
}

// Report is the body served on /health.
type Report struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Report runs every check and summarizes the result.
func (c *Checker) Report(ctx context.Context) Report {
	components := c.Check(ctx)
	return Report{
		Status:     c.Overall(components),
		Ready:      c.Ready(),
		Uptime:     time.Since(c.started).Truncate(time.Second).String(),
		Components: components,
		Timestamp:  time.Now(),
	}
}

// LivenessHandler answers 200 while the process serves requests.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": time.Now()})
	})
}

// ReadinessHandler answers 200 while at least one detection pipeline
// runs, 503 otherwise.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "timestamp": time.Now()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "timestamp": time.Now()})
	})
}

// HealthHandler serves the per-component Report. An unhealthy overall
// status answers 503.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Report(r.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
