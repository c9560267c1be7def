// internal/health/monitor.go
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/breaker"
	"github.com/FairForge/resilience/internal/events"
	"github.com/FairForge/resilience/internal/scheduler"
)

// ProbeFunc checks one instance and returns details worth surfacing
type ProbeFunc func(ctx context.Context) (map[string]interface{}, error)

// Target is one probed instance
type Target struct {
	ID    string
	Probe ProbeFunc
}

// Reporter receives probe outcomes
type Reporter interface {
	Report(service string, success bool, latency time.Duration) breaker.State
}

// Publisher receives health events
type Publisher interface {
	Publish(event events.Event)
}

// Config configures a Monitor
type Config struct {
	Interval        time.Duration
	ProbeTimeout    time.Duration
	DegradedLatency time.Duration
	WindowSize      int
}

// ApplyDefaults fills in default values
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.DegradedLatency <= 0 {
		c.DegradedLatency = time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
}

type instance struct {
	target Target
	family string
	window *window
	health ServiceHealth
}

// Monitor runs probes per backend family
type Monitor struct {
	cfg       Config
	reporter  Reporter
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	onProbe   []func(ServiceHealth)

	mu        sync.RWMutex
	families  map[string][]string
	instances map[string]*instance
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// OnProbe registers a callback invoked after each probe with its result
func OnProbe(fn func(ServiceHealth)) Option {
	return func(m *Monitor) { m.onProbe = append(m.onProbe, fn) }
}

// NewMonitor creates a monitor reporting into reporter
func NewMonitor(cfg Config, reporter Reporter, publisher Publisher, logger *zap.Logger, opts ...Option) *Monitor {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		cfg:       cfg,
		reporter:  reporter,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		families:  make(map[string][]string),
		instances: make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddFamily registers the instances of one backend family
func (m *Monitor) AddFamily(family string, targets ...Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.families[family]; exists {
		return fmt.Errorf("health: family %s already registered", family)
	}

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		if _, exists := m.instances[t.ID]; exists {
			return fmt.Errorf("health: instance %s already registered", t.ID)
		}
		m.instances[t.ID] = &instance{
			target: t,
			family: family,
			window: newWindow(m.cfg.WindowSize),
			health: ServiceHealth{Service: t.ID, Family: family, Status: StatusUnknown},
		}
		ids = append(ids, t.ID)
	}
	m.families[family] = ids
	return nil
}

// TaskName is the scheduler name of a family's probe task
func TaskName(family string) string {
	return "health:" + family
}

// Start schedules one repeating probe task per family
func (m *Monitor) Start(s *scheduler.Scheduler) error {
	m.mu.RLock()
	families := make([]string, 0, len(m.families))
	for f := range m.families {
		families = append(families, f)
	}
	m.mu.RUnlock()
	sort.Strings(families)

	for _, family := range families {
		if err := s.Every(TaskName(family), m.cfg.Interval, func(ctx context.Context) {
			m.CheckFamily(ctx, family)
		}); err != nil {
			return err
		}
	}
	return nil
}

// CheckFamily probes every instance of family concurrently and returns the results
func (m *Monitor) CheckFamily(ctx context.Context, family string) []ServiceHealth {
	m.mu.RLock()
	ids := m.families[family]
	targets := make([]Target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, m.instances[id].target)
	}
	m.mu.RUnlock()

	results := make([]ServiceHealth, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			results[i] = m.checkOne(ctx, family, t)
		}(i, t)
	}
	wg.Wait()

	m.summarize(family, results)
	return results
}

func (m *Monitor) checkOne(ctx context.Context, family string, t Target) ServiceHealth {
	start := m.now()
	details, err := m.runProbe(ctx, t)
	latency := m.now().Sub(start)

	m.mu.Lock()
	inst := m.instances[t.ID]
	inst.window.add(err != nil)

	h := ServiceHealth{
		Service:      t.ID,
		Family:       family,
		LastCheck:    start,
		ResponseTime: latency,
		ErrorRate:    inst.window.errorRate(),
		Details:      details,
	}
	switch {
	case err != nil:
		h.Status = StatusUnhealthy
		h.Error = err.Error()
	case latency > m.cfg.DegradedLatency || h.ErrorRate > 0.5:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	inst.health = h
	m.mu.Unlock()

	if m.reporter != nil {
		m.reporter.Report(t.ID, err == nil, latency)
	}

	if err != nil {
		m.logger.Warn("health check failed",
			zap.String("service", t.ID),
			zap.Duration("latency", latency),
			zap.Error(err))
		m.publish(events.Event{
			Type:    events.HealthCheckFailed,
			Service: t.ID,
			Message: "health check failed",
			Error:   err.Error(),
			Details: map[string]interface{}{"family": family, "latency": latency.String()},
		})
	}

	for _, fn := range m.onProbe {
		fn(h.clone())
	}
	return h.clone()
}

// runProbe bounds the probe by ProbeTimeout even if it ignores its context, and turns
// panics into errors
func (m *Monitor) runProbe(ctx context.Context, t Target) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	type result struct {
		details map[string]interface{}
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("probe panicked: %v", rec)}
			}
		}()
		details, err := t.Probe(ctx)
		done <- result{details: details, err: err}
	}()

	select {
	case r := <-done:
		return r.details, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("probe timed out after %s: %w", m.cfg.ProbeTimeout, ctx.Err())
	}
}

func (m *Monitor) summarize(family string, results []ServiceHealth) {
	counts := map[Status]int{}
	var impaired []string
	for _, r := range results {
		counts[r.Status]++
		if r.Status == StatusDegraded || r.Status == StatusUnhealthy {
			impaired = append(impaired, r.Service)
		}
	}

	all := m.Statuses()
	summary := make(map[string]interface{}, len(all)+1)
	for _, h := range all {
		summary[h.Service] = string(h.Status)
	}
	summary["family"] = family

	m.publish(events.Event{
		Type:    events.SystemHealthUpdate,
		Message: fmt.Sprintf("%s: %d healthy, %d degraded, %d unhealthy", family, counts[StatusHealthy], counts[StatusDegraded], counts[StatusUnhealthy]),
		Details: summary,
	})

	if len(impaired) > 0 {
		m.publish(events.Event{
			Type:    events.ServicesDegraded,
			Message: fmt.Sprintf("%d %s instance(s) impaired", len(impaired), family),
			Details: map[string]interface{}{"family": family, "services": impaired},
		})
	}
}

func (m *Monitor) publish(e events.Event) {
	if m.publisher != nil {
		m.publisher.Publish(e)
	}
}

// Status returns the latest result for service
func (m *Monitor) Status(service string) (ServiceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[service]
	if !ok {
		return ServiceHealth{}, false
	}
	return inst.health.clone(), true
}

// Statuses returns the latest result for every instance, ordered by service
func (m *Monitor) Statuses() []ServiceHealth {
	m.mu.RLock()
	out := make([]ServiceHealth, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.health.clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
