// Package failover decides what to do when an instance's circuit breaker opens.
//
// The coordinator never talks replication protocols itself. Promotion is delegated to a
// pluggable promoter; the coordinator only rewires routing in Topology and records the
// outcome. A failed procedure halts the instance until an operator restores it.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/events"
)

// Common errors
var (
	ErrFailoverHalted  = errors.New("failover: instance halted until restored")
	ErrFailoverRunning = errors.New("failover: already in progress")
	ErrNoStandby       = errors.New("failover: no standby available")
	ErrUnknownInstance = errors.New("failover: unknown instance")
)

// CachePromoter promotes a standby for a failed cache instance and returns the new target
type CachePromoter interface {
	Promote(ctx context.Context, instance string) (string, error)
}

// CachePromoterFunc adapts a function to CachePromoter
type CachePromoterFunc func(ctx context.Context, instance string) (string, error)

func (f CachePromoterFunc) Promote(ctx context.Context, instance string) (string, error) {
	return f(ctx, instance)
}

// StorePromoter turns a read replica into a writable primary
type StorePromoter interface {
	Promote(ctx context.Context, replica string) error
}

// StorePromoterFunc adapts a function to StorePromoter
type StorePromoterFunc func(ctx context.Context, replica string) error

func (f StorePromoterFunc) Promote(ctx context.Context, replica string) error {
	return f(ctx, replica)
}

// Health answers whether an instance may take traffic
type Health interface {
	Usable(service string) bool
}

// Publisher receives failover events
type Publisher interface {
	Publish(event events.Event)
}

// Config configures a Coordinator
type Config struct {
	Timeout     time.Duration // bound on one whole procedure
	HistorySize int
}

// Coordinator reacts to breaker openings
type Coordinator struct {
	cfg           Config
	topology      *Topology
	health        Health
	publisher     Publisher
	logger        *zap.Logger
	cachePromoter CachePromoter
	storePromoter StorePromoter
	history       *History
	onRecord      []func(Event)
	now           func() time.Time

	mu      sync.Mutex
	halted  map[string]error
	running map[string]bool
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithCachePromoter sets the cache standby promotion action
func WithCachePromoter(p CachePromoter) Option {
	return func(c *Coordinator) { c.cachePromoter = p }
}

// WithStorePromoter sets the replica promotion action; without one, promotion only
// rewires routing
func WithStorePromoter(p StorePromoter) Option {
	return func(c *Coordinator) { c.storePromoter = p }
}

// OnRecord registers a callback invoked after each event is appended to history
func OnRecord(fn func(Event)) Option {
	return func(c *Coordinator) { c.onRecord = append(c.onRecord, fn) }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithHistory seeds history with previously recorded events, oldest first
func WithHistory(events []Event) Option {
	return func(c *Coordinator) {
		for _, e := range events {
			c.history.Append(e)
		}
	}
}

// NewCoordinator creates a coordinator over topology
func NewCoordinator(cfg Config, topology *Topology, health Health, publisher Publisher, logger *zap.Logger, opts ...Option) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		cfg:       cfg,
		topology:  topology,
		health:    health,
		publisher: publisher,
		logger:    logger,
		history:   NewHistory(cfg.HistorySize),
		now:       time.Now,
		halted:    make(map[string]error),
		running:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger runs Handle with the configured timeout. It is meant to be called from the
// breaker open hook; errors are recorded and logged, never returned.
func (c *Coordinator) Trigger(service string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	if _, err := c.Handle(ctx, service); err != nil {
		c.logger.Warn("failover did not complete", zap.String("service", service), zap.Error(err))
	}
}

// Handle executes the failover procedure for service according to its role
func (c *Coordinator) Handle(ctx context.Context, service string) (Event, error) {
	c.mu.Lock()
	if cause, halted := c.halted[service]; halted {
		c.mu.Unlock()
		err := fmt.Errorf("%w: %s: %v", ErrFailoverHalted, service, cause)
		event := Event{
			ID:               uuid.NewString(),
			Timestamp:        c.now(),
			Service:          service,
			From:             service,
			Reason:           "circuit breaker opened while halted",
			AffectedServices: []string{service},
			Error:            err.Error(),
		}
		c.record(event, c.topology.Role(service))
		return event, err
	}
	if c.running[service] {
		c.mu.Unlock()
		return Event{}, fmt.Errorf("%w: %s", ErrFailoverRunning, service)
	}
	c.running[service] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.running, service)
		c.mu.Unlock()
	}()

	start := c.now()
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: start,
		Service:   service,
		From:      service,
		Reason:    "circuit breaker opened",
	}

	role := c.topology.Role(service)
	var err error
	switch role {
	case RoleCache:
		event.To, err = c.failoverCache(ctx, service)
		event.AffectedServices = []string{service}
	case RolePrimary:
		event.To, err = c.failoverPrimary(ctx, service)
		event.AffectedServices = []string{service}
		if event.To != "" {
			event.AffectedServices = append(event.AffectedServices, event.To)
		}
	case RoleReplica:
		err = c.topology.RemoveReplica(service)
		event.AffectedServices = []string{service}
	default:
		return Event{}, fmt.Errorf("%w: %s (%s)", ErrUnknownInstance, service, role)
	}

	event.Duration = c.now().Sub(start)
	event.Success = err == nil
	if err != nil {
		event.Error = err.Error()
		c.mu.Lock()
		c.halted[service] = err
		c.mu.Unlock()
	}
	c.record(event, role)

	if err != nil {
		return event, fmt.Errorf("failover %s: %w", service, err)
	}
	return event, nil
}

func (c *Coordinator) failoverCache(ctx context.Context, service string) (string, error) {
	if c.cachePromoter == nil {
		return "", ErrNoStandby
	}
	return c.cachePromoter.Promote(ctx, service)
}

func (c *Coordinator) failoverPrimary(ctx context.Context, service string) (string, error) {
	var candidate string
	for _, r := range c.topology.Replicas() {
		if c.health.Usable(r) {
			candidate = r
			break
		}
	}
	if candidate == "" {
		return "", fmt.Errorf("%w: no healthy replica to promote", ErrNoStandby)
	}

	if c.storePromoter != nil {
		if err := c.storePromoter.Promote(ctx, candidate); err != nil {
			return "", fmt.Errorf("promote %s: %w", candidate, err)
		}
	}

	if _, err := c.topology.Promote(candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

func (c *Coordinator) record(e Event, role Role) {
	c.history.Append(e)

	fields := []zap.Field{
		zap.String("service", e.Service),
		zap.Stringer("role", role),
		zap.String("to", e.To),
		zap.Duration("duration", e.Duration),
	}

	evType := events.FailoverCompleted
	msg := "failover completed"
	if !e.Success {
		evType = events.FailoverFailed
		msg = "failover failed"
		c.logger.Error(msg, append(fields, zap.String("error", e.Error))...)
	} else {
		c.logger.Info(msg, fields...)
	}

	if c.publisher != nil {
		c.publisher.Publish(events.Event{
			Type:      evType,
			Service:   e.Service,
			Timestamp: e.Timestamp,
			Message:   msg,
			Error:     e.Error,
			Details: map[string]interface{}{
				"failover_id": e.ID,
				"role":        role.String(),
				"from":        e.From,
				"to":          e.To,
				"duration":    e.Duration.String(),
				"affected":    e.AffectedServices,
			},
		})
	}

	for _, fn := range c.onRecord {
		fn(e.clone())
	}
}

// Restore clears the halt on id and returns it to routing when it was excluded
func (c *Coordinator) Restore(id string) error {
	c.mu.Lock()
	_, wasHalted := c.halted[id]
	delete(c.halted, id)
	c.mu.Unlock()

	if c.topology.Role(id) == RoleExcluded {
		return c.topology.Restore(id)
	}
	if !wasHalted {
		return fmt.Errorf("%w: %s is neither halted nor excluded", ErrUnknownInstance, id)
	}
	return nil
}

// Halted lists halted instances with the error that halted them
func (c *Coordinator) Halted() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.halted))
	for id, err := range c.halted {
		out[id] = err.Error()
	}
	return out
}

// History returns the recorded failover events, oldest first
func (c *Coordinator) History() []Event {
	return c.history.List()
}
