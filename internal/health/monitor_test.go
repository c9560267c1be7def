package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/breaker"
	"github.com/FairForge/resilience/internal/events"
	"github.com/FairForge/resilience/internal/scheduler"
)

type report struct {
	service string
	success bool
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) Report(service string, success bool, latency time.Duration) breaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{service, success})
	return breaker.StateClosed
}

func (r *recordingReporter) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func ok(details map[string]interface{}) ProbeFunc {
	return func(context.Context) (map[string]interface{}, error) { return details, nil }
}

func failing(err error) ProbeFunc {
	return func(context.Context) (map[string]interface{}, error) { return nil, err }
}

func TestMonitor_CheckFamilyReportsEveryInstance(t *testing.T) {
	rep := &recordingReporter{}
	pub := &recordingPublisher{}
	m := NewMonitor(Config{ProbeTimeout: time.Second}, rep, pub, zap.NewNop())

	require.NoError(t, m.AddFamily("store",
		Target{ID: "primary", Probe: ok(map[string]interface{}{"connections": 3})},
		Target{ID: "replica-1", Probe: failing(errors.New("connection refused"))},
	))

	results := m.CheckFamily(context.Background(), "store")
	require.Len(t, results, 2)

	assert.Equal(t, StatusHealthy, results[0].Status)
	assert.Equal(t, 3, results[0].Details["connections"])
	assert.Equal(t, StatusUnhealthy, results[1].Status)
	assert.Equal(t, "connection refused", results[1].Error)

	assert.ElementsMatch(t, []report{{"primary", true}, {"replica-1", false}}, rep.all())

	failed := pub.ofType(events.HealthCheckFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "replica-1", failed[0].Service)

	assert.Len(t, pub.ofType(events.SystemHealthUpdate), 1)
	degraded := pub.ofType(events.ServicesDegraded)
	require.Len(t, degraded, 1)
	assert.Equal(t, []string{"replica-1"}, degraded[0].Details["services"])
}

func TestMonitor_NoDegradedEventWhenAllHealthy(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewMonitor(Config{}, &recordingReporter{}, pub, zap.NewNop())
	require.NoError(t, m.AddFamily("cache", Target{ID: "cache", Probe: ok(nil)}))

	m.CheckFamily(context.Background(), "cache")

	assert.Len(t, pub.ofType(events.SystemHealthUpdate), 1)
	assert.Empty(t, pub.ofType(events.ServicesDegraded))
}

func TestMonitor_ProbeTimeoutIsFailure(t *testing.T) {
	rep := &recordingReporter{}
	m := NewMonitor(Config{ProbeTimeout: 20 * time.Millisecond}, rep, nil, zap.NewNop())

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, m.AddFamily("cache", Target{ID: "cache", Probe: func(context.Context) (map[string]interface{}, error) {
		<-block // ignores its context
		return nil, nil
	}}))

	start := time.Now()
	results := m.CheckFamily(context.Background(), "cache")
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, results, 1)
	assert.Equal(t, StatusUnhealthy, results[0].Status)
	assert.Contains(t, results[0].Error, "timed out")
	assert.Equal(t, []report{{"cache", false}}, rep.all())
}

func TestMonitor_ProbePanicIsFailure(t *testing.T) {
	rep := &recordingReporter{}
	m := NewMonitor(Config{}, rep, nil, zap.NewNop())
	require.NoError(t, m.AddFamily("cache", Target{ID: "cache", Probe: func(context.Context) (map[string]interface{}, error) {
		panic("driver exploded")
	}}))

	results := m.CheckFamily(context.Background(), "cache")
	assert.Equal(t, StatusUnhealthy, results[0].Status)
	assert.Contains(t, results[0].Error, "driver exploded")
	assert.Equal(t, []report{{"cache", false}}, rep.all())
}

func TestMonitor_SlowProbeIsDegraded(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	m := NewMonitor(Config{DegradedLatency: 100 * time.Millisecond}, nil, nil, zap.NewNop(), WithClock(clock))
	require.NoError(t, m.AddFamily("store", Target{ID: "primary", Probe: func(context.Context) (map[string]interface{}, error) {
		now = now.Add(150 * time.Millisecond)
		return nil, nil
	}}))

	results := m.CheckFamily(context.Background(), "store")
	assert.Equal(t, StatusDegraded, results[0].Status)
	assert.Equal(t, 150*time.Millisecond, results[0].ResponseTime)
}

func TestMonitor_ErrorRateWindow(t *testing.T) {
	fail := true
	m := NewMonitor(Config{WindowSize: 4}, nil, nil, zap.NewNop())
	require.NoError(t, m.AddFamily("store", Target{ID: "primary", Probe: func(context.Context) (map[string]interface{}, error) {
		if fail {
			return nil, errors.New("down")
		}
		return nil, nil
	}}))

	for i := 0; i < 3; i++ {
		m.CheckFamily(context.Background(), "store")
	}
	fail = false
	results := m.CheckFamily(context.Background(), "store")

	// 3 of the last 4 failed
	assert.InDelta(t, 0.75, results[0].ErrorRate, 0.001)
	assert.Equal(t, StatusDegraded, results[0].Status)

	for i := 0; i < 3; i++ {
		results = m.CheckFamily(context.Background(), "store")
	}
	assert.InDelta(t, 0.0, results[0].ErrorRate, 0.001)
	assert.Equal(t, StatusHealthy, results[0].Status)
}

func TestMonitor_StatusBeforeFirstProbe(t *testing.T) {
	m := NewMonitor(Config{}, nil, nil, zap.NewNop())
	require.NoError(t, m.AddFamily("store", Target{ID: "primary", Probe: ok(nil)}))

	h, found := m.Status("primary")
	require.True(t, found)
	assert.Equal(t, StatusUnknown, h.Status)

	_, found = m.Status("nobody")
	assert.False(t, found)
}

func TestMonitor_AddFamilyRejectsDuplicates(t *testing.T) {
	m := NewMonitor(Config{}, nil, nil, zap.NewNop())
	require.NoError(t, m.AddFamily("store", Target{ID: "primary", Probe: ok(nil)}))

	assert.Error(t, m.AddFamily("store"))
	assert.Error(t, m.AddFamily("other", Target{ID: "primary", Probe: ok(nil)}))
}

func TestMonitor_StartSchedulesPerFamily(t *testing.T) {
	rep := &recordingReporter{}
	m := NewMonitor(Config{Interval: 10 * time.Millisecond}, rep, nil, zap.NewNop())
	require.NoError(t, m.AddFamily("cache", Target{ID: "cache", Probe: ok(nil)}))
	require.NoError(t, m.AddFamily("store", Target{ID: "primary", Probe: ok(nil)}))

	s := scheduler.New(zap.NewNop())
	require.NoError(t, m.Start(s))
	assert.Equal(t, []string{"health:cache", "health:store"}, s.Names())

	assert.Eventually(t, func() bool { return len(rep.all()) >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.StopAll(ctx))
}

func TestMonitor_OnProbe(t *testing.T) {
	var seen []ServiceHealth
	m := NewMonitor(Config{}, nil, nil, zap.NewNop(), OnProbe(func(h ServiceHealth) {
		seen = append(seen, h)
	}))
	require.NoError(t, m.AddFamily("cache", Target{ID: "cache", Probe: ok(nil)}))

	m.CheckFamily(context.Background(), "cache")
	require.Len(t, seen, 1)
	assert.Equal(t, "cache", seen[0].Service)
}

func TestDeriveState(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		state  breaker.State
		want   InstanceState
	}{
		{"never probed", StatusUnknown, breaker.StateClosed, StateUnprobed},
		{"healthy", StatusHealthy, breaker.StateClosed, StateHealthy},
		{"slow", StatusDegraded, breaker.StateClosed, StateDegraded},
		{"failing below threshold", StatusUnhealthy, breaker.StateClosed, StateDegraded},
		{"breaker open", StatusUnhealthy, breaker.StateOpen, StateUnhealthy},
		{"trial", StatusHealthy, breaker.StateHalfOpen, StateRecovering},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveState(ServiceHealth{Status: tt.status}, tt.state))
		})
	}
}
