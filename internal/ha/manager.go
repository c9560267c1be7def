// internal/ha/manager.go
package ha

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/balancer"
	"github.com/FairForge/resilience/internal/breaker"
	"github.com/FairForge/resilience/internal/cache"
	"github.com/FairForge/resilience/internal/config"
	"github.com/FairForge/resilience/internal/database"
	"github.com/FairForge/resilience/internal/events"
	"github.com/FairForge/resilience/internal/failover"
	"github.com/FairForge/resilience/internal/health"
	"github.com/FairForge/resilience/internal/logging"
	"github.com/FairForge/resilience/internal/metrics"
	"github.com/FairForge/resilience/internal/pool"
	"github.com/FairForge/resilience/internal/scheduler"
)

// Backend families probed by the health monitor
const (
	FamilyCache = "cache"
	FamilyStore = "store"
)

// Common errors
var (
	ErrNotInitialized = errors.New("ha: manager not initialized")
	ErrShutdown       = errors.New("ha: manager shut down")
)

// drainer is any pool the manager drains at shutdown
type drainer interface {
	Name() string
	Drain(ctx context.Context) error
}

type storeInstance struct {
	pg   *database.Postgres
	pool *pool.Pool[*sql.Conn]
}

// Manager is the single entry point for HA access to the cache and the store
type Manager struct {
	cfg        *config.Config
	logger     *zap.Logger
	bus        *events.Bus
	ownsBus    bool
	registerer prometheus.Registerer
	now        func() time.Time
	rng        *rand.Rand

	openCache     CacheOpener
	openStore     StoreOpener
	cachePromoter failover.CachePromoter
	storePromoter failover.StorePromoter

	registry    *breaker.Registry
	monitor     *health.Monitor
	scheduler   *scheduler.Scheduler
	topology    *failover.Topology
	coordinator *failover.Coordinator
	collector   *metrics.Collector
	strategies  map[string]balancer.Strategy
	active      balancer.Strategy

	cacheClient redis.UniversalClient
	stores      map[string]*storeInstance

	poolsMu    sync.Mutex
	extraPools []drainer

	degradedReads atomic.Bool
	initialized   atomic.Bool
	shutdown      atomic.Bool
	initMu        sync.Mutex
}

// New builds a manager from cfg. No connection is made until Initialize.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("ha: config is required")
	}

	m := &Manager{
		cfg:       cfg,
		now:       time.Now,
		openCache: cache.Open,
		openStore: database.NewPostgres,
		stores:    make(map[string]*storeInstance),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.bus == nil {
		m.bus = events.NewBus(m.logger, 0)
		m.ownsBus = true
	}
	if m.registerer == nil {
		m.registerer = prometheus.NewRegistry()
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	if err := m.bus.Subscribe("event-log", events.LogHandler(m.logger.Named("events"))); err != nil {
		return nil, err
	}

	m.collector = metrics.NewCollector(m.registerer)

	m.strategies = make(map[string]balancer.Strategy, len(balancer.Strategies))
	for _, name := range balancer.Strategies {
		rng := rand.New(rand.NewPCG(m.rng.Uint64(), m.rng.Uint64()))
		s, err := balancer.New(name, balancer.WithRand(rng))
		if err != nil {
			return nil, err
		}
		m.strategies[name] = s
	}
	active, ok := m.strategies[cfg.LoadBalancing.Strategy]
	if !ok {
		return nil, fmt.Errorf("ha: unknown load balancing strategy: %s", cfg.LoadBalancing.Strategy)
	}
	m.active = active

	m.registry = breaker.NewRegistry(
		breaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			OpenTimeout:      cfg.Failover.Timeout,
		},
		breaker.WithClock(m.now),
		breaker.WithLogger(m.logger.Named("breaker")),
		breaker.OnTransition(m.collector.ObserveTransition),
		breaker.OnOpen(m.breakerOpened),
	)

	replicas := make([]string, 0, len(cfg.Store.Replicas))
	for _, r := range cfg.Store.Replicas {
		replicas = append(replicas, r.Name)
	}
	m.topology = failover.NewTopology(cfg.Cache.Name, cfg.Store.Primary.Name, replicas)

	m.scheduler = scheduler.New(m.logger.Named("scheduler"))
	m.monitor = health.NewMonitor(
		health.Config{
			Interval:        cfg.Health.Interval,
			ProbeTimeout:    cfg.Health.ProbeTimeout,
			DegradedLatency: cfg.Health.DegradedLatency,
		},
		m.registry, m.bus, m.logger.Named("health"),
		health.WithClock(m.now),
		health.OnProbe(m.collector.ObserveProbe),
	)

	return m, nil
}

// Initialize connects to every backend, starts health checks and publishes ha-initialized.
// The cache and the primary must be reachable; unreachable replicas start degraded.
// A manager whose Initialize failed cannot be reused.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.shutdown.Load() {
		return ErrShutdown
	}
	if m.initialized.Load() {
		return errors.New("ha: already initialized")
	}

	start := m.now()
	if err := m.initialize(ctx); err != nil {
		cleanup := context.WithoutCancel(ctx)
		_ = m.scheduler.StopAll(cleanup)
		for _, derr := range m.drainPools(cleanup) {
			m.logger.Warn("cleanup after failed initialize", zap.Error(derr))
		}
		m.closeBackends()
		m.shutdown.Store(true)
		if m.ownsBus {
			m.bus.Close()
		}
		return err
	}
	m.initialized.Store(true)

	m.logger.Info("HA manager initialized",
		zap.String("cache", m.topology.Cache()),
		zap.String("primary", m.topology.Primary()),
		zap.Strings("replicas", m.topology.Replicas()),
		zap.String("strategy", m.active.Name()),
		zap.Duration("took", m.now().Sub(start)))

	m.bus.Publish(events.Event{
		Type:    events.HAInitialized,
		Message: "HA manager initialized",
		Details: map[string]interface{}{
			"cache":    m.topology.Cache(),
			"primary":  m.topology.Primary(),
			"replicas": m.topology.Replicas(),
			"strategy": m.active.Name(),
		},
	})
	return nil
}

func (m *Manager) initialize(ctx context.Context) error {
	cacheOpts := cache.Options{
		Topology:    m.cfg.Cache.Topology,
		Addrs:       m.cfg.Cache.Addrs,
		MasterName:  m.cfg.Cache.MasterName,
		Username:    m.cfg.Cache.Username,
		Password:    m.cfg.Cache.Password,
		DB:          m.cfg.Cache.DB,
		DialTimeout: m.cfg.Cache.DialTimeout,
	}
	client, err := m.openCache(cacheOpts)
	if err != nil {
		return fmt.Errorf("ha: open cache: %w", err)
	}
	m.cacheClient = client
	if err := m.retry(ctx, m.cfg.Cache.Name, func(ctx context.Context) error {
		return cache.Ping(ctx, client)
	}); err != nil {
		return fmt.Errorf("ha: verify cache: %w", err)
	}

	if err := m.openStoreInstance(ctx, m.cfg.Store.Primary, true); err != nil {
		return err
	}
	for _, r := range m.cfg.Store.Replicas {
		if err := m.openStoreInstance(ctx, r, false); err != nil {
			return err
		}
	}

	m.registry.Register(m.cfg.Cache.Name)
	m.collector.InitBreaker(m.cfg.Cache.Name)
	for id := range m.stores {
		m.registry.Register(id)
		m.collector.InitBreaker(id)
	}

	if err := m.setupFailover(ctx, cacheOpts); err != nil {
		return err
	}

	if err := m.monitor.AddFamily(FamilyCache, health.Target{ID: m.cfg.Cache.Name, Probe: cache.Probe(client)}); err != nil {
		return err
	}
	targets := []health.Target{{ID: m.cfg.Store.Primary.Name, Probe: m.stores[m.cfg.Store.Primary.Name].pg.Probe()}}
	for _, r := range m.cfg.Store.Replicas {
		targets = append(targets, health.Target{ID: r.Name, Probe: m.stores[r.Name].pg.Probe()})
	}
	if err := m.monitor.AddFamily(FamilyStore, targets...); err != nil {
		return err
	}
	return m.monitor.Start(m.scheduler)
}

func nodeConfig(n config.NodeConfig) database.Config {
	return database.Config{
		Name:     n.Name,
		Host:     n.Host,
		Port:     n.Port,
		Database: n.Database,
		User:     n.User,
		Password: n.Password,
		SSLMode:  n.SSLMode,
	}
}

// openStoreInstance opens, verifies and pools one store instance. A replica that cannot
// be verified is still pooled (without prewarm) and reported to its breaker.
func (m *Manager) openStoreInstance(ctx context.Context, node config.NodeConfig, required bool) error {
	pg, err := m.openStore(nodeConfig(node), m.cfg.Pool.Max)
	if err != nil {
		return fmt.Errorf("ha: open %s: %w", node.Name, err)
	}
	m.stores[node.Name] = &storeInstance{pg: pg}

	verified := true
	if err := m.retry(ctx, node.Name, pg.Ping); err != nil {
		if required {
			return fmt.Errorf("ha: verify %s: %w", node.Name, err)
		}
		verified = false
		m.logger.Warn("replica unreachable at startup", zap.String("service", node.Name), zap.Error(err))
		m.registry.Report(node.Name, false, 0)
	}

	poolCfg := pool.Config{
		Name:             node.Name,
		Min:              m.cfg.Pool.Min,
		Max:              m.cfg.Pool.Max,
		AcquireTimeout:   m.cfg.Pool.AcquireTimeout,
		IdleTimeout:      m.cfg.Pool.IdleTimeout,
		EvictionInterval: m.cfg.Pool.EvictionInterval,
		CreateRate:       m.cfg.Pool.CreateRate,
	}
	if !verified {
		poolCfg.Min = 0
	}

	p, err := pool.New[*sql.Conn](ctx, poolCfg,
		pg.Conn,
		func(c *sql.Conn) error { return c.Close() },
		database.ValidateConn,
		m.logger.Named("pool"))
	if err != nil {
		return fmt.Errorf("ha: pool %s: %w", node.Name, err)
	}
	m.stores[node.Name].pool = p
	m.collector.TrackPool(node.Name, p.Stats)
	return nil
}

func (m *Manager) setupFailover(ctx context.Context, cacheOpts cache.Options) error {
	cachePromoter := m.cachePromoter
	if cachePromoter == nil {
		switch m.cfg.Cache.Topology {
		case cache.Sentinel:
			cachePromoter = cache.NewSentinelPromoter(cacheOpts)
		case cache.Cluster:
			if cc, ok := m.cacheClient.(*redis.ClusterClient); ok {
				cachePromoter = &cache.ClusterPromoter{Client: cc}
			} else {
				cachePromoter = cache.NoStandbyPromoter{}
			}
		default:
			cachePromoter = cache.NoStandbyPromoter{}
		}
		m.cachePromoter = cachePromoter
	}

	storePromoter := m.storePromoter
	if storePromoter == nil && m.cfg.Failover.StorePromoter == "pg_promote" {
		instances := make([]*database.Postgres, 0, len(m.stores))
		for _, s := range m.stores {
			instances = append(instances, s.pg)
		}
		storePromoter = database.NewPgPromoter(m.cfg.Failover.Timeout, instances...)
	}

	opts := []failover.Option{
		failover.WithCachePromoter(cachePromoter),
		failover.WithClock(m.now),
		failover.OnRecord(m.collector.ObserveFailover),
	}
	if storePromoter != nil {
		opts = append(opts, failover.WithStorePromoter(storePromoter))
	}

	if m.cfg.Failover.PersistLog {
		log := database.NewFailoverLog(m.stores[m.topology.Primary()].pg.DB())
		if err := log.CreateTable(ctx); err != nil {
			return fmt.Errorf("ha: failover log: %w", err)
		}
		recent, err := log.Recent(ctx, m.cfg.Failover.HistorySize)
		if err != nil {
			return fmt.Errorf("ha: failover log: %w", err)
		}
		slices.Reverse(recent)
		opts = append(opts, failover.WithHistory(recent))
		opts = append(opts, failover.OnRecord(m.persistFailover))
	}

	m.coordinator = failover.NewCoordinator(
		failover.Config{Timeout: m.cfg.Failover.Timeout, HistorySize: m.cfg.Failover.HistorySize},
		m.topology, m.registry, m.bus, m.logger.Named("failover"), opts...)
	return nil
}

// persistFailover writes an event to whichever instance is primary now
func (m *Manager) persistFailover(e failover.Event) {
	store, ok := m.stores[m.topology.Primary()]
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Failover.Timeout)
	defer cancel()
	if err := database.NewFailoverLog(store.pg.DB()).Record(ctx, e); err != nil {
		m.logger.Warn("failed to persist failover event", zap.String("failover_id", e.ID), zap.Error(err))
	}
}

// retry runs fn up to RetryAttempts times with exponential backoff
func (m *Manager) retry(ctx context.Context, service string, fn func(context.Context) error) error {
	attempts := m.cfg.Failover.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := 100 * time.Millisecond

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		m.logger.Debug("connection attempt failed",
			zap.String("service", service),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

// breakerOpened runs in its own goroutine for every closed→open transition
func (m *Manager) breakerOpened(service string) {
	m.bus.Publish(events.Event{
		Type:    events.CircuitBreakerOpened,
		Service: service,
		Message: "circuit breaker opened",
	})

	if m.shutdown.Load() || m.coordinator == nil {
		return
	}
	m.coordinator.Trigger(service)
}

func (m *Manager) ready() error {
	if m.shutdown.Load() {
		return ErrShutdown
	}
	if !m.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// GetCacheClient returns the cache client unless the cache breaker refuses the request.
// Callers report the outcome through ReportResult.
func (m *Manager) GetCacheClient() (redis.UniversalClient, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := m.registry.TryAcquire(m.topology.Cache()); err != nil {
		return nil, err
	}
	return m.cacheClient, nil
}

// ReportResult records the outcome of a request against instance for breaker and
// metrics bookkeeping
func (m *Manager) ReportResult(instance string, err error, latency time.Duration) {
	m.registry.Report(instance, err == nil, latency)
	m.collector.RecordRequest(instance, err, latency)
}

// RunHealthChecks probes every family once, outside the schedule
func (m *Manager) RunHealthChecks(ctx context.Context) {
	m.monitor.CheckFamily(ctx, FamilyCache)
	m.monitor.CheckFamily(ctx, FamilyStore)
}

// RestoreInstance returns a halted or excluded instance to service and closes its breaker
func (m *Manager) RestoreInstance(ctx context.Context, id string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.coordinator.Restore(id); err != nil {
		return err
	}
	m.registry.Reset(id)

	ctx = context.WithValue(ctx, logging.ContextKeyService, id)
	logging.WithContext(ctx, m.logger).Info("instance restored")
	return nil
}

func (m *Manager) closeBackends() {
	if m.cacheClient != nil {
		if err := m.cacheClient.Close(); err != nil {
			m.logger.Warn("failed to close cache client", zap.Error(err))
		}
	}
	if c, ok := m.cachePromoter.(io.Closer); ok {
		_ = c.Close()
	}
	for id, s := range m.stores {
		if err := s.pg.Close(); err != nil {
			m.logger.Warn("failed to close store", zap.String("service", id), zap.Error(err))
		}
	}
}
