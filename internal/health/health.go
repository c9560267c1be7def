// Package health probes backend instances on a timer and feeds the results into the
// circuit breaker registry.
package health

import (
	"time"

	"github.com/FairForge/resilience/internal/breaker"
)

// Status is the health of one instance as of its last probe
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// ServiceHealth is the latest probe outcome of one instance
type ServiceHealth struct {
	Service      string                 `json:"service"`
	Family       string                 `json:"family"`
	Status       Status                 `json:"status"`
	LastCheck    time.Time              `json:"last_check"`
	ResponseTime time.Duration          `json:"response_time"`
	ErrorRate    float64                `json:"error_rate"`
	Error        string                 `json:"error,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

func (h ServiceHealth) clone() ServiceHealth {
	if h.Details != nil {
		details := make(map[string]interface{}, len(h.Details))
		for k, v := range h.Details {
			details[k] = v
		}
		h.Details = details
	}
	return h
}

// InstanceState is the lifecycle position of an instance, combining its probe
// status with its breaker
type InstanceState string

const (
	StateUnprobed   InstanceState = "unprobed"
	StateHealthy    InstanceState = "healthy"
	StateDegraded   InstanceState = "degraded"
	StateUnhealthy  InstanceState = "unhealthy"
	StateRecovering InstanceState = "recovering"
)

// DeriveState maps a probe result and breaker state onto the instance lifecycle
func DeriveState(h ServiceHealth, b breaker.State) InstanceState {
	switch b {
	case breaker.StateOpen:
		return StateUnhealthy
	case breaker.StateHalfOpen:
		return StateRecovering
	}

	switch h.Status {
	case StatusHealthy:
		return StateHealthy
	case StatusDegraded, StatusUnhealthy:
		// failures below the breaker threshold
		return StateDegraded
	default:
		return StateUnprobed
	}
}

// window tracks the outcome of the most recent probes
type window struct {
	outcomes []bool
	next     int
	filled   bool
}

func newWindow(size int) *window {
	return &window{outcomes: make([]bool, size)}
}

func (w *window) add(failed bool) {
	w.outcomes[w.next] = failed
	w.next = (w.next + 1) % len(w.outcomes)
	if w.next == 0 {
		w.filled = true
	}
}

func (w *window) errorRate() float64 {
	n := w.next
	if w.filled {
		n = len(w.outcomes)
	}
	if n == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < n; i++ {
		if w.outcomes[i] {
			failed++
		}
	}
	return float64(failed) / float64(n)
}
