package ha

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/balancer"
	"github.com/FairForge/resilience/internal/events"
	"github.com/FairForge/resilience/internal/pool"
)

// Operation selects how a store request is routed
type Operation int

const (
	Read Operation = iota
	Write
)

func (o Operation) String() string {
	if o == Write {
		return "write"
	}
	return "read"
}

// StoreClient is an exclusive, pooled connection to one store instance.
// Done must be called exactly once when the caller is finished with Conn.
type StoreClient struct {
	Instance  string
	Operation Operation
	Conn      *sql.Conn

	manager  *Manager
	pool     *pool.Pool[*sql.Conn]
	strategy balancer.Strategy // set when a balancer picked the instance
	start    time.Time
	done     atomic.Bool
}

// GetStoreClient routes op to an instance and checks out a connection from its pool.
// Writes fail fast with a *breaker.BreakerOpenError while the primary's breaker is open.
func (m *Manager) GetStoreClient(ctx context.Context, op Operation) (*StoreClient, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	instance, strategy, err := m.route(op)
	if err != nil {
		return nil, err
	}

	store, ok := m.stores[instance]
	if !ok {
		m.registry.ReleaseTrial(instance)
		return nil, fmt.Errorf("ha: no pool for %s", instance)
	}

	start := m.now()
	conn, err := store.pool.Acquire(ctx)
	if err != nil {
		latency := m.now().Sub(start)
		if strategy != nil {
			strategy.RecordMetrics(instance, false, latency)
		}
		// a saturated pool says nothing about the instance's health
		if !errors.Is(err, pool.ErrPoolTimeout) && !errors.Is(err, pool.ErrPoolDraining) && ctx.Err() == nil {
			m.ReportResult(instance, err, latency)
		} else {
			m.registry.ReleaseTrial(instance)
		}
		return nil, fmt.Errorf("ha: %s %s: %w", op, instance, err)
	}

	return &StoreClient{
		Instance:  instance,
		Operation: op,
		Conn:      conn,
		manager:   m,
		pool:      store.pool,
		strategy:  strategy,
		start:     m.now(),
	}, nil
}

// route picks the instance serving op and takes its breaker admission
func (m *Manager) route(op Operation) (string, balancer.Strategy, error) {
	primary := m.topology.Primary()
	if op == Write {
		if err := m.registry.TryAcquire(primary); err != nil {
			return "", nil, err
		}
		return primary, nil, nil
	}

	replicas := m.topology.Replicas()
	eligible := make([]string, 0, len(replicas))
	for _, r := range replicas {
		if m.registry.Admits(r) {
			eligible = append(eligible, r)
		}
	}

	for len(eligible) > 0 {
		instance, err := m.active.Distribute(eligible)
		if err != nil {
			return "", nil, err
		}
		if err := m.registry.TryAcquire(instance); err != nil {
			// another caller took the half-open trial first
			m.active.RecordMetrics(instance, false, 0)
			eligible = slices.DeleteFunc(eligible, func(r string) bool { return r == instance })
			continue
		}

		if m.degradedReads.CompareAndSwap(true, false) {
			m.logger.Info("reads served by replicas again", zap.String("service", instance))
		}
		m.collector.RecordSelection(m.active.Name(), instance)
		return instance, m.active, nil
	}

	if err := m.registry.TryAcquire(primary); err != nil {
		return "", nil, err
	}
	m.readFallback(primary)
	return primary, nil, nil
}

// readFallback warns once per episode of reads served by the primary
func (m *Manager) readFallback(primary string) {
	m.collector.RecordFallback()
	if !m.degradedReads.CompareAndSwap(false, true) {
		return
	}

	m.logger.Warn("no usable replica, reads fall back to primary", zap.String("service", primary))
	m.bus.Publish(events.Event{
		Type:    events.ServicesDegraded,
		Service: primary,
		Message: "no usable replica, reads fall back to primary",
		Details: map[string]interface{}{
			"reason":   "read-fallback",
			"replicas": m.topology.Replicas(),
			"excluded": m.topology.Excluded(),
		},
	})
}

// Done returns the connection to its pool and records the request outcome.
// A broken connection is destroyed instead of reused; sql.ErrNoRows counts as success.
// The outcome is recorded even when the pool rejects the connection; calls after the
// first return pool.ErrNotCheckedOut and record nothing.
func (c *StoreClient) Done(err error) error {
	if !c.done.CompareAndSwap(false, true) {
		c.manager.logger.DPanic("store client done twice", zap.String("service", c.Instance))
		return fmt.Errorf("ha: %s: %w", c.Instance, pool.ErrNotCheckedOut)
	}
	latency := c.manager.now().Sub(c.start)

	var releaseErr error
	if errors.Is(err, driver.ErrBadConn) {
		releaseErr = c.pool.Destroy(c.Conn)
	} else {
		releaseErr = c.pool.Release(c.Conn)
	}

	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	if c.strategy != nil {
		c.strategy.RecordMetrics(c.Instance, err == nil, latency)
	}
	c.manager.ReportResult(c.Instance, err, latency)
	return releaseErr
}
