package failover

import (
	"slices"
	"sync"
	"time"
)

// Event records one failover procedure. Events are never modified once appended.
type Event struct {
	ID               string        `json:"id"`
	Timestamp        time.Time     `json:"timestamp"`
	Service          string        `json:"service"`
	From             string        `json:"from"`
	To               string        `json:"to,omitempty"`
	Reason           string        `json:"reason"`
	Duration         time.Duration `json:"duration"`
	AffectedServices []string      `json:"affected_services"`
	Success          bool          `json:"success"`
	Error            string        `json:"error,omitempty"`
}

func (e Event) clone() Event {
	e.AffectedServices = slices.Clone(e.AffectedServices)
	return e
}

// History keeps the most recent failover events
type History struct {
	mu     sync.RWMutex
	events []Event
	max    int
}

// NewHistory creates a history holding at most max events
func NewHistory(max int) *History {
	if max <= 0 {
		max = 100
	}
	return &History{max: max}
}

// Append records an event, evicting the oldest beyond capacity
func (h *History) Append(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, e.clone())
	if over := len(h.events) - h.max; over > 0 {
		h.events = slices.Delete(h.events, 0, over)
	}
}

// List returns copies of the recorded events, oldest first
func (h *History) List() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Event, len(h.events))
	for i, e := range h.events {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of recorded events
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events)
}
