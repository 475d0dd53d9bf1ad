package health

import (
	"context"
	"sync"
)

// State is a component status set by its owner, for components whose
// health is decided at startup (a pipeline that failed to acquire its
// capability stays unhealthy until restart).
type State struct {
	mu     sync.RWMutex
	result CheckResult
}

// NewState returns a State reporting StatusUnknown.
func NewState() *State {
	return &State{result: CheckResult{Status: StatusUnknown}}
}

// Set records the component status.
func (s *State) Set(status Status, message string, err error) {
	r := CheckResult{Status: status, Message: message}
	if err != nil {
		r.Error = err.Error()
	}
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

// Status returns the recorded status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result.Status
}

// Check implements Check.
func (s *State) Check(context.Context) CheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// ConnectionCheck reports the outbound channel. A disconnected channel is
// degraded, not unhealthy: events are dropped while the transport
// reconnects, but detection continues.
func ConnectionCheck(connected func() bool) Check {
	return func(ctx context.Context) CheckResult {
		if connected() {
			return CheckResult{Status: StatusHealthy, Message: "connected"}
		}
		return CheckResult{Status: StatusDegraded, Message: "reconnecting"}
	}
}

// VerifyCheck reports a component whose health is the result of verify.
func VerifyCheck(verify func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := verify(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "verification failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "ok"}
	}
}
