// Package breaker tracks one circuit breaker per backend instance.
//
// Updates to a single breaker are serialized by that breaker's own lock, so concurrent
// reporters (health monitor ticks and in-flight request failures) never lose an update.
// The registry map itself is guarded separately and only grows.
package breaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config configures every breaker in a registry
type Config struct {
	FailureThreshold int
	OpenTimeout      time.Duration // time spent open before a trial is allowed
}

// Snapshot is a copy of one breaker record
type Snapshot struct {
	Service      string    `json:"service"`
	State        State     `json:"state"`
	FailureCount int64     `json:"failure_count"`
	SuccessCount int64     `json:"success_count"`
	RequestCount int64     `json:"request_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	NextRetry    time.Time `json:"next_retry,omitempty"`
	Trial        bool      `json:"trial_in_flight"` // half-open trial request admitted, not yet reported
}

// Transition describes a state change
type Transition struct {
	Service string
	From    State
	To      State
	At      time.Time
}

type breaker struct {
	mu   sync.Mutex
	snap Snapshot
}

// Registry owns the breakers of every backend instance
type Registry struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	onOpen       func(service string)
	onTransition []func(Transition)

	mu       sync.RWMutex
	breakers map[string]*breaker
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// OnOpen registers the hook fired, in its own goroutine, on every closed→open transition
func OnOpen(fn func(service string)) Option {
	return func(r *Registry) { r.onOpen = fn }
}

// OnTransition registers a hook called synchronously on every transition.
// Hooks run under the breaker lock and must not call back into the registry.
func OnTransition(fn func(Transition)) Option {
	return func(r *Registry) { r.onTransition = append(r.onTransition, fn) }
}

// NewRegistry creates an empty registry
func NewRegistry(cfg Config, opts ...Option) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	r := &Registry{
		cfg:      cfg,
		now:      time.Now,
		logger:   zap.NewNop(),
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a closed breaker for service if none exists
func (r *Registry) Register(service string) {
	r.get(service)
}

func (r *Registry) get(service string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[service]; ok {
		return b
	}
	b = &breaker{snap: Snapshot{Service: service, State: StateClosed}}
	r.breakers[service] = b
	return b
}

func (r *Registry) lookup(service string) (*breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[service]
	return b, ok
}

// Report records the outcome of one probe or request and returns the resulting state
func (r *Registry) Report(service string, success bool, latency time.Duration) State {
	b := r.get(service)

	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.snap
	now := r.now()
	s.RequestCount++
	s.Trial = false
	from := s.State

	switch s.State {
	case StateOpen:
		if now.Before(s.NextRetry) {
			if success {
				s.SuccessCount++
			} else {
				s.FailureCount++
				s.LastFailure = now
			}
			return s.State
		}
		// The first signal after the retry deadline only admits the trial.
		s.State = StateHalfOpen

	case StateHalfOpen:
		if success {
			s.SuccessCount++
			s.FailureCount = 0
			s.State = StateClosed
		} else {
			s.FailureCount++
			s.LastFailure = now
			s.NextRetry = now.Add(r.cfg.OpenTimeout)
			s.State = StateOpen
		}

	case StateClosed:
		if success {
			s.SuccessCount++
			break
		}
		s.FailureCount++
		s.LastFailure = now
		if s.FailureCount >= int64(r.cfg.FailureThreshold) {
			s.NextRetry = now.Add(r.cfg.OpenTimeout)
			s.State = StateOpen
		}
	}

	if s.State != from {
		r.transitioned(Transition{Service: service, From: from, To: s.State, At: now}, latency)
	}
	return s.State
}

func (r *Registry) transitioned(t Transition, latency time.Duration) {
	r.logger.Info("circuit breaker transition",
		zap.String("service", t.Service),
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
		zap.Duration("latency", latency))

	for _, fn := range r.onTransition {
		fn(t)
	}

	if t.From == StateClosed && t.To == StateOpen && r.onOpen != nil {
		go r.fireOpen(t.Service)
	}
}

func (r *Registry) fireOpen(service string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("open hook panicked",
				zap.String("service", service),
				zap.Any("panic", rec))
		}
	}()
	r.onOpen(service)
}

// State returns the current state of service; unknown services are closed
func (r *Registry) State(service string) State {
	b, ok := r.lookup(service)
	if !ok {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.State
}

// Usable reports whether service may receive traffic. Only open breakers are unusable.
func (r *Registry) Usable(service string) bool {
	return r.State(service) != StateOpen
}

// TryAcquire admits one request to service. Closed breakers admit everything and open
// ones nothing; a half-open breaker admits a single trial until the next Report or
// ReleaseTrial. Refusals are *BreakerOpenError.
func (r *Registry) TryAcquire(service string) error {
	b, ok := r.lookup(service)
	if !ok {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.snap.State {
	case StateOpen:
		return &BreakerOpenError{Service: service, NextRetry: b.snap.NextRetry}
	case StateHalfOpen:
		if b.snap.Trial {
			return &BreakerOpenError{Service: service, NextRetry: b.snap.NextRetry, Trial: true}
		}
		b.snap.Trial = true
	}
	return nil
}

// Admits reports whether TryAcquire would admit a request right now, without taking
// the trial slot
func (r *Registry) Admits(service string) bool {
	b, ok := r.lookup(service)
	if !ok {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.snap.State {
	case StateOpen:
		return false
	case StateHalfOpen:
		return !b.snap.Trial
	}
	return true
}

// ReleaseTrial frees the half-open trial slot of a request that never reached service
func (r *Registry) ReleaseTrial(service string) {
	b, ok := r.lookup(service)
	if !ok {
		return
	}
	b.mu.Lock()
	b.snap.Trial = false
	b.mu.Unlock()
}

// Reset forces service back to closed with zeroed failure count
func (r *Registry) Reset(service string) {
	b := r.get(service)

	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.snap.State
	b.snap.State = StateClosed
	b.snap.FailureCount = 0
	b.snap.NextRetry = time.Time{}
	b.snap.Trial = false
	if from != StateClosed {
		r.transitioned(Transition{Service: service, From: from, To: StateClosed, At: r.now()}, 0)
	}
}

// Snapshot returns a copy of one breaker
func (r *Registry) Snapshot(service string) (Snapshot, bool) {
	b, ok := r.lookup(service)
	if !ok {
		return Snapshot{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap, true
}

// Snapshots returns copies of every breaker, ordered by service
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	services := make([]string, 0, len(r.breakers))
	for id := range r.breakers {
		services = append(services, id)
	}
	r.mu.RUnlock()
	sort.Strings(services)

	out := make([]Snapshot, 0, len(services))
	for _, id := range services {
		if s, ok := r.Snapshot(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// BreakerOpenError is returned when a caller asks for an instance whose breaker is open
type BreakerOpenError struct {
	Service   string
	NextRetry time.Time
	Trial     bool // half-open with its trial request in flight
}

func (e *BreakerOpenError) Error() string {
	if e.Trial {
		return fmt.Sprintf("circuit breaker half-open for %s, trial request in flight", e.Service)
	}
	return fmt.Sprintf("circuit breaker open for %s until %s", e.Service, e.NextRetry.Format(time.RFC3339))
}

// Is lets errors.Is match ErrBreakerOpen
func (e *BreakerOpenError) Is(target error) bool {
	return target == ErrBreakerOpen
}

// ErrBreakerOpen matches any *BreakerOpenError
var ErrBreakerOpen = fmt.Errorf("circuit breaker open")
