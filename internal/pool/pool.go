// internal/pool/pool.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Factory creates a new pooled resource
type Factory[T any] func(ctx context.Context) (T, error)

// Destroyer releases everything a resource holds
type Destroyer[T any] func(res T) error

// Validator reports whether an idle resource can be handed out again
type Validator[T any] func(ctx context.Context, res T) error

// Config sizes a pool
type Config struct {
	Name             string        `yaml:"name" json:"name"`
	Min              int           `yaml:"min" json:"min"`
	Max              int           `yaml:"max" json:"max"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	EvictionInterval time.Duration `yaml:"eviction_interval" json:"eviction_interval"`
	CreateRate       float64       `yaml:"create_rate" json:"create_rate"` // creations per second, 0 = unlimited
}

// ApplyDefaults fills in default values
func (c *Config) ApplyDefaults() {
	if c.Max == 0 {
		c.Max = 10
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.EvictionInterval == 0 {
		c.EvictionInterval = time.Minute
	}
}

// Validate checks configuration
func (c *Config) Validate() error {
	if c.Max <= 0 {
		return fmt.Errorf("pool: max must be positive, got %d", c.Max)
	}
	if c.Min < 0 || c.Min > c.Max {
		return fmt.Errorf("pool: min must be within [0, %d], got %d", c.Max, c.Min)
	}
	if c.CreateRate < 0 {
		return errors.New("pool: create rate must not be negative")
	}
	return nil
}

// Stats is a point-in-time view of a pool
type Stats struct {
	Size      int `json:"size"`
	Available int `json:"available"`
	Pending   int `json:"pending"`
	Max       int `json:"max"`
	Min       int `json:"min"`
}

type idleEntry[T any] struct {
	res   T
	since time.Time
}

// Pool is a bounded set of reusable resources.
//
// A slot token is held for every resource that is checked out, being created, or being
// validated. Idle resources hold no token, and idle+tokens never exceeds Max.
type Pool[T comparable] struct {
	cfg      Config
	create   Factory[T]
	destroy  Destroyer[T]
	validate Validator[T]
	limiter  *rate.Limiter
	logger   *zap.Logger

	slots  chan struct{}
	notify chan struct{}

	mu       sync.Mutex
	idle     []idleEntry[T]
	inUse    map[T]struct{}
	pending  int
	draining bool
	closing  chan struct{}

	stopEvict chan struct{}
	evictDone chan struct{}
}

// New creates a pool and prewarms Min resources
func New[T comparable](ctx context.Context, cfg Config, create Factory[T], destroy Destroyer[T], validate Validator[T], logger *zap.Logger) (*Pool[T], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if create == nil || destroy == nil {
		return nil, errors.New("pool: factory and destroyer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool[T]{
		cfg:       cfg,
		create:    create,
		destroy:   destroy,
		validate:  validate,
		logger:    logger.With(zap.String("pool", cfg.Name)),
		slots:     make(chan struct{}, cfg.Max),
		notify:    make(chan struct{}, 1),
		inUse:     make(map[T]struct{}),
		closing:   make(chan struct{}),
		stopEvict: make(chan struct{}),
		evictDone: make(chan struct{}),
	}
	if cfg.CreateRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.CreateRate), 1)
	}

	for i := 0; i < cfg.Min; i++ {
		res, err := create(ctx)
		if err != nil {
			for _, e := range p.idle {
				_ = destroy(e.res)
			}
			return nil, fmt.Errorf("pool %s: prewarm: %w", cfg.Name, err)
		}
		p.idle = append(p.idle, idleEntry[T]{res: res, since: time.Now()})
	}

	go p.evictLoop()

	return p, nil
}

// Name returns the configured pool name
func (p *Pool[T]) Name() string {
	return p.cfg.Name
}

// Acquire checks out a resource, waiting up to AcquireTimeout for a free slot
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return zero, ErrPoolDraining
	}
	p.pending++
	p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	select {
	case p.slots <- struct{}{}:
		p.donePending()
	case <-p.closing:
		p.donePending()
		return zero, ErrPoolDraining
	case <-waitCtx.Done():
		p.donePending()
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Pool: p.cfg.Name, Timeout: p.cfg.AcquireTimeout}
	}

	for {
		p.mu.Lock()
		if p.draining {
			p.mu.Unlock()
			p.freeSlot()
			return zero, ErrPoolDraining
		}
		n := len(p.idle)
		if n == 0 {
			p.mu.Unlock()
			break
		}
		entry := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		if p.validate != nil {
			if err := p.validate(waitCtx, entry.res); err != nil {
				p.logger.Debug("idle resource failed validation", zap.Error(err))
				p.destroyQuietly(entry.res)
				continue
			}
		}
		if p.checkOut(entry.res) {
			return entry.res, nil
		}
		p.destroyQuietly(entry.res)
		p.freeSlot()
		return zero, ErrPoolDraining
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(waitCtx); err != nil {
			p.freeSlot()
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, &TimeoutError{Pool: p.cfg.Name, Timeout: p.cfg.AcquireTimeout}
		}
	}

	res, err := p.create(waitCtx)
	if err != nil {
		p.freeSlot()
		return zero, fmt.Errorf("pool %s: create: %w", p.cfg.Name, err)
	}
	if !p.checkOut(res) {
		p.destroyQuietly(res)
		p.freeSlot()
		return zero, ErrPoolDraining
	}
	return res, nil
}

// Release returns a checked-out resource for reuse
func (p *Pool[T]) Release(res T) error {
	p.mu.Lock()
	if _, ok := p.inUse[res]; !ok {
		p.mu.Unlock()
		p.logger.DPanic("release of resource that is not checked out")
		return ErrNotCheckedOut
	}
	delete(p.inUse, res)
	if p.draining {
		p.mu.Unlock()
		p.destroyQuietly(res)
		p.freeSlot()
		return nil
	}
	p.idle = append(p.idle, idleEntry[T]{res: res, since: time.Now()})
	p.mu.Unlock()

	p.freeSlot()
	return nil
}

// Destroy permanently removes a checked-out resource
func (p *Pool[T]) Destroy(res T) error {
	p.mu.Lock()
	if _, ok := p.inUse[res]; !ok {
		p.mu.Unlock()
		p.logger.DPanic("destroy of resource that is not checked out")
		return ErrNotCheckedOut
	}
	delete(p.inUse, res)
	p.mu.Unlock()

	err := p.destroy(res)
	p.freeSlot()
	if err != nil {
		return fmt.Errorf("pool %s: destroy: %w", p.cfg.Name, err)
	}
	return nil
}

// Drain stops new acquires, waits for every outstanding resource to come back and then
// destroys the whole pool
func (p *Pool[T]) Drain(ctx context.Context) error {
	p.mu.Lock()
	if !p.draining {
		p.draining = true
		close(p.closing)
		close(p.stopEvict)
	}
	p.mu.Unlock()

	<-p.evictDone

	for {
		p.mu.Lock()
		outstanding := len(p.slots)
		p.mu.Unlock()
		if outstanding == 0 {
			break
		}
		select {
		case <-p.notify:
		case <-ctx.Done():
			return fmt.Errorf("pool %s: drain: %d resources still checked out: %w", p.cfg.Name, outstanding, ctx.Err())
		}
	}

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, e := range idle {
		if err := p.destroy(e.res); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Debug("pool drained", zap.Int("destroyed", len(idle)))
	return errors.Join(errs...)
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:      len(p.idle) + len(p.inUse),
		Available: len(p.idle),
		Pending:   p.pending,
		Max:       p.cfg.Max,
		Min:       p.cfg.Min,
	}
}

func (p *Pool[T]) checkOut(res T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return false
	}
	p.inUse[res] = struct{}{}
	return true
}

func (p *Pool[T]) donePending() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
}

func (p *Pool[T]) freeSlot() {
	<-p.slots
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool[T]) destroyQuietly(res T) {
	if err := p.destroy(res); err != nil {
		p.logger.Warn("failed to destroy resource", zap.Error(err))
	}
}

func (p *Pool[T]) evictLoop() {
	defer close(p.evictDone)

	ticker := time.NewTicker(p.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stopEvict:
			return
		}
	}
}

// evictIdle destroys resources idle longer than IdleTimeout, oldest first, keeping Min
func (p *Pool[T]) evictIdle() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	live := len(p.idle) + len(p.slots)
	var expired []T
	i := 0
	for i < len(p.idle) && live > p.cfg.Min && p.idle[i].since.Before(cutoff) {
		expired = append(expired, p.idle[i].res)
		live--
		i++
	}
	p.idle = p.idle[i:]
	p.mu.Unlock()

	for _, res := range expired {
		p.destroyQuietly(res)
	}
	if len(expired) > 0 {
		p.logger.Debug("evicted idle resources", zap.Int("count", len(expired)))
	}
}
