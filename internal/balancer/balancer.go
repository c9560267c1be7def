// internal/balancer/balancer.go
package balancer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Strategy names accepted by New
const (
	RoundRobin       = "round-robin"
	LeastConnections = "least-connections"
	Random           = "random"
	Weighted         = "weighted"
)

// Strategies lists every supported strategy name
var Strategies = []string{RoundRobin, LeastConnections, Random, Weighted}

// ErrNoCandidates is returned by Distribute for an empty candidate set
var ErrNoCandidates = errors.New("balancer: no candidates")

// Strategy selects one candidate per request.
//
// Callers pass only eligible candidates; filtering by breaker state happens before
// Distribute. Every dispatched request should be followed by exactly one RecordMetrics.
type Strategy interface {
	Name() string
	Distribute(candidates []string) (string, error)
	RecordMetrics(candidate string, success bool, latency time.Duration)
	Metrics() Metrics
	Reset()
}

// Metrics are per-strategy request counters
type Metrics struct {
	Strategy            string           `json:"strategy"`
	TotalRequests       int64            `json:"total_requests"`
	SuccessfulRequests  int64            `json:"successful_requests"`
	FailedRequests      int64            `json:"failed_requests"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	Distribution        map[string]int64 `json:"distribution"`
}

// Option configures a strategy
type Option func(*options)

type options struct {
	rng *rand.Rand
}

// WithRand makes random choices deterministic
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// New builds the strategy registered under name
func New(name string, opts ...Option) (Strategy, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch name {
	case RoundRobin:
		return NewRoundRobin(), nil
	case LeastConnections:
		return NewLeastConnections(), nil
	case Random:
		return NewRandom(o.rng), nil
	case Weighted:
		return NewWeighted(o.rng), nil
	default:
		return nil, fmt.Errorf("balancer: unknown strategy %q", name)
	}
}

// recorder holds the counters shared by every strategy
type recorder struct {
	mu           sync.Mutex
	total        int64
	succeeded    int64
	failed       int64
	latencySum   time.Duration
	distribution map[string]int64
}

func newRecorder() *recorder {
	return &recorder{distribution: make(map[string]int64)}
}

func (r *recorder) selected(candidate string) {
	r.mu.Lock()
	r.distribution[candidate]++
	r.mu.Unlock()
}

func (r *recorder) record(success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if success {
		r.succeeded++
	} else {
		r.failed++
	}
	r.latencySum += latency
}

func (r *recorder) snapshot(name string) Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		Strategy:           name,
		TotalRequests:      r.total,
		SuccessfulRequests: r.succeeded,
		FailedRequests:     r.failed,
		Distribution:       make(map[string]int64, len(r.distribution)),
	}
	if r.total > 0 {
		m.AverageResponseTime = r.latencySum / time.Duration(r.total)
	}
	for k, v := range r.distribution {
		m.Distribution[k] = v
	}
	return m
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total, r.succeeded, r.failed = 0, 0, 0
	r.latencySum = 0
	r.distribution = make(map[string]int64)
}

// lockedRand serializes access to a *rand.Rand; nil falls back to the global source
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	if l.rng == nil {
		return rand.IntN(n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.IntN(n)
}

func (l *lockedRand) Float64() float64 {
	if l.rng == nil {
		return rand.Float64()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}
