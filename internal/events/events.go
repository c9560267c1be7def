package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names an HA event
type Type string

const (
	HAInitialized        Type = "ha-initialized"
	HealthCheckFailed    Type = "health-check-failed"
	CircuitBreakerOpened Type = "circuit-breaker-opened"
	FailoverCompleted    Type = "failover-completed"
	FailoverFailed       Type = "failover-failed"
	ServicesDegraded     Type = "services-degraded"
	SystemHealthUpdate   Type = "system-health-update"
	ShutdownCompleted    Type = "shutdown-completed"
)

// Event is something observability or alerting subscribers care about
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Service   string                 `json:"service,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Handler processes events
type Handler func(ctx context.Context, event Event) error

type subscriber struct {
	name    string
	types   map[Type]bool
	handler Handler
	queue   chan Event
}

func (s *subscriber) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus fans events out to an ordered list of subscribers.
//
// Each subscriber has its own queue and goroutine: it sees events in publish order, and
// a slow or failing subscriber never delays the others. Events for a full queue are dropped.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers []*subscriber
	closed      bool
	wg          sync.WaitGroup
}

// NewBus creates an event bus; bufferSize is the per-subscriber queue length
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Bus{logger: logger, bufferSize: bufferSize}
}

// Subscribe registers a handler for the given types, or for every type when none are given
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("events: subscribe %s: bus closed", name)
	}

	s := &subscriber{
		name:    name,
		types:   make(map[Type]bool, len(types)),
		handler: handler,
		queue:   make(chan Event, b.bufferSize),
	}
	for _, t := range types {
		s.types[t] = true
	}
	b.subscribers = append(b.subscribers, s)

	b.wg.Add(1)
	go b.run(s)
	return nil
}

// Publish stamps and enqueues an event for every interested subscriber
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, s := range b.subscribers {
		if !s.wants(event.Type) {
			continue
		}
		select {
		case s.queue <- event:
		default:
			b.logger.Warn("event buffer full, dropping event",
				zap.String("subscriber", s.name),
				zap.String("type", string(event.Type)))
		}
	}
}

// Close stops accepting events and waits for subscribers to drain their queues
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		close(s.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	for event := range s.queue {
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s *subscriber, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("subscriber", s.name),
				zap.String("type", string(event.Type)),
				zap.Any("panic", rec))
		}
	}()

	if err := s.handler(context.Background(), event); err != nil {
		b.logger.Warn("event subscriber failed",
			zap.String("subscriber", s.name),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}
