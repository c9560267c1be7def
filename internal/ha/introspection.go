package ha

import (
	"sort"

	"github.com/FairForge/resilience/internal/balancer"
	"github.com/FairForge/resilience/internal/breaker"
	"github.com/FairForge/resilience/internal/failover"
	"github.com/FairForge/resilience/internal/health"
	"github.com/FairForge/resilience/internal/pool"
)

// TopologyView is the current routing state
type TopologyView struct {
	Cache    string   `json:"cache"`
	Primary  string   `json:"primary"`
	Replicas []string `json:"replicas"`
	Excluded []string `json:"excluded"`
}

// Metrics is a snapshot of load balancing, pool and routing state
type Metrics struct {
	Strategy      string                      `json:"strategy"`
	LoadBalancers map[string]balancer.Metrics `json:"load_balancers"`
	Pools         map[string]pool.Stats       `json:"pools"`
	Topology      TopologyView                `json:"topology"`
	Halted        map[string]string           `json:"halted,omitempty"`
	ReadsDegraded bool                        `json:"reads_degraded"`
}

// InstanceHealth is the latest probe result of an instance with its lifecycle state
type InstanceHealth struct {
	health.ServiceHealth
	State   health.InstanceState `json:"state"`
	Breaker breaker.State        `json:"breaker"`
}

// GetMetrics returns load balancer metrics for every strategy, pool stats and topology
func (m *Manager) GetMetrics() Metrics {
	out := Metrics{
		Strategy:      m.active.Name(),
		LoadBalancers: make(map[string]balancer.Metrics, len(m.strategies)),
		Pools:         make(map[string]pool.Stats),
		Topology:      m.Topology(),
		ReadsDegraded: m.degradedReads.Load(),
	}
	for name, s := range m.strategies {
		out.LoadBalancers[name] = s.Metrics()
	}
	for id, s := range m.stores {
		if s.pool != nil {
			out.Pools[id] = s.pool.Stats()
		}
	}
	m.poolsMu.Lock()
	for _, p := range m.extraPools {
		if sp, ok := p.(interface{ Stats() pool.Stats }); ok {
			out.Pools[p.Name()] = sp.Stats()
		}
	}
	m.poolsMu.Unlock()

	if m.coordinator != nil {
		out.Halted = m.coordinator.Halted()
	}
	return out
}

// Topology returns the current routing state
func (m *Manager) Topology() TopologyView {
	return TopologyView{
		Cache:    m.topology.Cache(),
		Primary:  m.topology.Primary(),
		Replicas: m.topology.Replicas(),
		Excluded: m.topology.Excluded(),
	}
}

// GetCircuitBreakerStatus returns every breaker, ordered by instance
func (m *Manager) GetCircuitBreakerStatus() []breaker.Snapshot {
	return m.registry.Snapshots()
}

// GetFailoverHistory returns recorded failover events, oldest first
func (m *Manager) GetFailoverHistory() []failover.Event {
	if m.coordinator == nil {
		return []failover.Event{}
	}
	return m.coordinator.History()
}

// GetHealthStatus returns the latest health of every instance, ordered by instance
func (m *Manager) GetHealthStatus() []InstanceHealth {
	statuses := m.monitor.Statuses()
	out := make([]InstanceHealth, 0, len(statuses))
	for _, h := range statuses {
		state := m.registry.State(h.Service)
		out = append(out, InstanceHealth{
			ServiceHealth: h,
			State:         health.DeriveState(h, state),
			Breaker:       state,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
