package ha

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/events"
	"github.com/FairForge/resilience/internal/pool"
)

// CreateConnectionPool creates a pool owned by the manager: its stats are exported and
// it is drained by PerformGracefulShutdown.
func CreateConnectionPool[T comparable](ctx context.Context, m *Manager, cfg pool.Config, create pool.Factory[T], destroy pool.Destroyer[T], validate pool.Validator[T]) (*pool.Pool[T], error) {
	if m.shutdown.Load() {
		return nil, ErrShutdown
	}

	p, err := pool.New(ctx, cfg, create, destroy, validate, m.logger.Named("pool"))
	if err != nil {
		return nil, err
	}

	m.poolsMu.Lock()
	m.extraPools = append(m.extraPools, p)
	m.poolsMu.Unlock()

	m.collector.TrackPool(p.Name(), p.Stats)
	return p, nil
}

// PerformGracefulShutdown stops health tasks, drains every pool, closes the backends and
// publishes shutdown-completed. In-flight probes finish or hit their timeout first.
func (m *Manager) PerformGracefulShutdown(ctx context.Context) error {
	if !m.shutdown.CompareAndSwap(false, true) {
		return ErrShutdown
	}

	m.logger.Info("HA manager shutting down")

	var errs []error
	if err := m.scheduler.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop tasks: %w", err))
	}
	errs = append(errs, m.drainPools(ctx)...)
	if m.initialized.Load() {
		m.closeBackends()
	}

	err := errors.Join(errs...)
	event := events.Event{
		Type:    events.ShutdownCompleted,
		Message: "HA manager shut down",
	}
	if err != nil {
		event.Error = err.Error()
		m.logger.Warn("shutdown completed with errors", zap.Error(err))
	} else {
		m.logger.Info("shutdown completed")
	}
	m.bus.Publish(event)

	if m.ownsBus {
		m.bus.Close()
	}
	return err
}

func (m *Manager) drainPools(ctx context.Context) []error {
	pools := make([]drainer, 0, len(m.stores))
	ids := make([]string, 0, len(m.stores))
	for id, s := range m.stores {
		if s.pool != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		pools = append(pools, m.stores[id].pool)
	}

	m.poolsMu.Lock()
	pools = append(pools, m.extraPools...)
	m.poolsMu.Unlock()

	var errs []error
	for _, p := range pools {
		if err := p.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", p.Name(), err))
		}
	}
	return errs
}
