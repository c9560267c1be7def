package balancer

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// RoundRobinStrategy cycles through candidates with one index shared across calls
type RoundRobinStrategy struct {
	current uint64
	*recorder
}

// NewRoundRobin creates a round-robin strategy
func NewRoundRobin() *RoundRobinStrategy {
	return &RoundRobinStrategy{recorder: newRecorder()}
}

func (s *RoundRobinStrategy) Name() string { return RoundRobin }

func (s *RoundRobinStrategy) Distribute(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}
	n := atomic.AddUint64(&s.current, 1)
	chosen := candidates[(n-1)%uint64(len(candidates))]
	s.selected(chosen)
	return chosen, nil
}

func (s *RoundRobinStrategy) RecordMetrics(candidate string, success bool, latency time.Duration) {
	s.record(success, latency)
}

func (s *RoundRobinStrategy) Metrics() Metrics { return s.snapshot(RoundRobin) }

// Reset clears the counters; the rotation index keeps going
func (s *RoundRobinStrategy) Reset() { s.reset() }

// LeastConnectionsStrategy picks the candidate with the fewest in-flight requests
type LeastConnectionsStrategy struct {
	mu       sync.Mutex
	inFlight map[string]int64
	*recorder
}

// NewLeastConnections creates a least-connections strategy
func NewLeastConnections() *LeastConnectionsStrategy {
	return &LeastConnectionsStrategy{
		inFlight: make(map[string]int64),
		recorder: newRecorder(),
	}
}

func (s *LeastConnectionsStrategy) Name() string { return LeastConnections }

func (s *LeastConnectionsStrategy) Distribute(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	s.mu.Lock()
	selected := candidates[0]
	minConns := s.inFlight[selected]
	for _, c := range candidates[1:] {
		if conns := s.inFlight[c]; conns < minConns {
			minConns = conns
			selected = c
		}
	}
	s.inFlight[selected]++
	s.mu.Unlock()

	s.selected(selected)
	return selected, nil
}

// RecordMetrics ends one in-flight request regardless of outcome
func (s *LeastConnectionsStrategy) RecordMetrics(candidate string, success bool, latency time.Duration) {
	s.mu.Lock()
	if s.inFlight[candidate] > 0 {
		s.inFlight[candidate]--
	}
	s.mu.Unlock()

	s.record(success, latency)
}

// Active returns the in-flight count for a candidate
func (s *LeastConnectionsStrategy) Active(candidate string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[candidate]
}

func (s *LeastConnectionsStrategy) Metrics() Metrics { return s.snapshot(LeastConnections) }

// Reset clears the counters; in-flight accounting is preserved
func (s *LeastConnectionsStrategy) Reset() { s.reset() }

// RandomStrategy picks uniformly at random
type RandomStrategy struct {
	rng lockedRand
	*recorder
}

// NewRandom creates a random strategy; rng may be nil
func NewRandom(rng *rand.Rand) *RandomStrategy {
	return &RandomStrategy{rng: lockedRand{rng: rng}, recorder: newRecorder()}
}

func (s *RandomStrategy) Name() string { return Random }

func (s *RandomStrategy) Distribute(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}
	chosen := candidates[s.rng.IntN(len(candidates))]
	s.selected(chosen)
	return chosen, nil
}

func (s *RandomStrategy) RecordMetrics(candidate string, success bool, latency time.Duration) {
	s.record(success, latency)
}

func (s *RandomStrategy) Metrics() Metrics { return s.snapshot(Random) }

func (s *RandomStrategy) Reset() { s.reset() }

// Weight adaptation bounds
const (
	minWeight     = 0.1
	maxWeight     = 10.0
	fastResponse  = 100 * time.Millisecond
	slowResponse  = 1000 * time.Millisecond
	rewardFactor  = 1.1
	penaltyFactor = 0.9
)

// WeightedStrategy samples candidates proportionally to weights learned from outcomes
type WeightedStrategy struct {
	mu      sync.Mutex
	weights map[string]float64
	rng     lockedRand
	*recorder
}

// NewWeighted creates a weighted strategy; rng may be nil
func NewWeighted(rng *rand.Rand) *WeightedStrategy {
	return &WeightedStrategy{
		weights:  make(map[string]float64),
		rng:      lockedRand{rng: rng},
		recorder: newRecorder(),
	}
}

func (s *WeightedStrategy) Name() string { return Weighted }

func (s *WeightedStrategy) Distribute(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	s.mu.Lock()
	total := 0.0
	for _, c := range candidates {
		total += s.weightLocked(c)
	}
	target := s.rng.Float64() * total
	chosen := candidates[len(candidates)-1]
	cumulative := 0.0
	for _, c := range candidates {
		cumulative += s.weightLocked(c)
		if target < cumulative {
			chosen = c
			break
		}
	}
	s.mu.Unlock()

	s.selected(chosen)
	return chosen, nil
}

func (s *WeightedStrategy) RecordMetrics(candidate string, success bool, latency time.Duration) {
	s.mu.Lock()
	w := s.weightLocked(candidate)
	switch {
	case !success || latency > slowResponse:
		w *= penaltyFactor
	case latency < fastResponse:
		w *= rewardFactor
	}
	s.weights[candidate] = min(max(w, minWeight), maxWeight)
	s.mu.Unlock()

	s.record(success, latency)
}

// Weight returns the current weight of a candidate
func (s *WeightedStrategy) Weight(candidate string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weightLocked(candidate)
}

func (s *WeightedStrategy) weightLocked(candidate string) float64 {
	if w, ok := s.weights[candidate]; ok {
		return w
	}
	return 1.0
}

func (s *WeightedStrategy) Metrics() Metrics { return s.snapshot(Weighted) }

// Reset clears the counters; learned weights are kept
func (s *WeightedStrategy) Reset() { s.reset() }
