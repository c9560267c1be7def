// internal/metrics/collector.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/FairForge/resilience/internal/breaker"
	"github.com/FairForge/resilience/internal/failover"
	"github.com/FairForge/resilience/internal/health"
	"github.com/FairForge/resilience/internal/pool"
)

const namespace = "ha"

// Collector records HA state on a prometheus registerer
type Collector struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	failoversTotal     *prometheus.CounterVec
	failoverDuration   prometheus.Histogram
	probeDuration      *prometheus.HistogramVec
	instanceHealthy    *prometheus.GaugeVec
	readFallbacks      prometheus.Counter
	selections         *prometheus.CounterVec
	pools              *poolCollector
}

// NewCollector registers the HA metrics on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Backend requests by instance and outcome",
			},
			[]string{"instance", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Backend request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"instance"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"instance"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker transitions",
			},
			[]string{"instance", "from", "to"},
		),
		failoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failovers_total",
				Help:      "Failover procedures by instance and result",
			},
			[]string{"instance", "result"},
		),
		failoverDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "failover_duration_seconds",
				Help:      "Duration of failover procedures",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_probe_duration_seconds",
				Help:      "Health probe latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"instance", "status"},
		),
		instanceHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instance_healthy",
				Help:      "1 when the last probe of the instance succeeded",
			},
			[]string{"instance", "family"},
		),
		readFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "read_fallbacks_total",
				Help:      "Reads routed to the primary because no replica was usable",
			},
		),
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lb_selections_total",
				Help:      "Replica selections by strategy",
			},
			[]string{"strategy", "instance"},
		),
		pools: newPoolCollector(),
	}

	if reg != nil {
		reg.MustRegister(c.pools)
	}
	return c
}

// RecordRequest counts one backend request
func (c *Collector) RecordRequest(instance string, err error, latency time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.requestsTotal.WithLabelValues(instance, outcome).Inc()
	c.requestDuration.WithLabelValues(instance).Observe(latency.Seconds())
}

// ObserveTransition tracks breaker state; meant for breaker.OnTransition
func (c *Collector) ObserveTransition(t breaker.Transition) {
	c.breakerState.WithLabelValues(t.Service).Set(float64(t.To))
	c.breakerTransitions.WithLabelValues(t.Service, t.From.String(), t.To.String()).Inc()
}

// InitBreaker publishes the closed state of a newly registered instance
func (c *Collector) InitBreaker(instance string) {
	c.breakerState.WithLabelValues(instance).Set(float64(breaker.StateClosed))
}

// ObserveFailover records a failover outcome; meant for failover.OnRecord
func (c *Collector) ObserveFailover(e failover.Event) {
	result := "success"
	if !e.Success {
		result = "failure"
	}
	c.failoversTotal.WithLabelValues(e.Service, result).Inc()
	c.failoverDuration.Observe(e.Duration.Seconds())
}

// ObserveProbe records a probe result; meant for health.OnProbe
func (c *Collector) ObserveProbe(h health.ServiceHealth) {
	c.probeDuration.WithLabelValues(h.Service, string(h.Status)).Observe(h.ResponseTime.Seconds())
	healthy := 0.0
	if h.Status != health.StatusUnhealthy {
		healthy = 1
	}
	c.instanceHealthy.WithLabelValues(h.Service, h.Family).Set(healthy)
}

// RecordFallback counts a read served by the primary
func (c *Collector) RecordFallback() {
	c.readFallbacks.Inc()
}

// RecordSelection counts a balancer pick
func (c *Collector) RecordSelection(strategy, instance string) {
	c.selections.WithLabelValues(strategy, instance).Inc()
}

// TrackPool exports the stats of a pool at scrape time
func (c *Collector) TrackPool(name string, stats func() pool.Stats) {
	c.pools.add(name, stats)
}

// poolCollector reads pool stats on each scrape
type poolCollector struct {
	size      *prometheus.Desc
	available *prometheus.Desc
	pending   *prometheus.Desc
	max       *prometheus.Desc

	mu    sync.RWMutex
	pools map[string]func() pool.Stats
}

func newPoolCollector() *poolCollector {
	labels := []string{"pool"}
	return &poolCollector{
		size:      prometheus.NewDesc(namespace+"_pool_size", "Resources owned by the pool", labels, nil),
		available: prometheus.NewDesc(namespace+"_pool_available", "Idle resources", labels, nil),
		pending:   prometheus.NewDesc(namespace+"_pool_pending", "Callers waiting for a resource", labels, nil),
		max:       prometheus.NewDesc(namespace+"_pool_max", "Pool capacity", labels, nil),
		pools:     make(map[string]func() pool.Stats),
	}
}

func (p *poolCollector) add(name string, stats func() pool.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[name] = stats
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.size
	ch <- p.available
	ch <- p.pending
	ch <- p.max
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, statsFn := range p.pools {
		s := statsFn()
		ch <- prometheus.MustNewConstMetric(p.size, prometheus.GaugeValue, float64(s.Size), name)
		ch <- prometheus.MustNewConstMetric(p.available, prometheus.GaugeValue, float64(s.Available), name)
		ch <- prometheus.MustNewConstMetric(p.pending, prometheus.GaugeValue, float64(s.Pending), name)
		ch <- prometheus.MustNewConstMetric(p.max, prometheus.GaugeValue, float64(s.Max), name)
	}
}
