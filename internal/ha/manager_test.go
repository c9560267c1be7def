package ha

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/balancer"
	"github.com/FairForge/resilience/internal/breaker"
	"github.com/FairForge/resilience/internal/config"
	"github.com/FairForge/resilience/internal/database"
	"github.com/FairForge/resilience/internal/events"
	"github.com/FairForge/resilience/internal/failover"
	"github.com/FairForge/resilience/internal/health"
	"github.com/FairForge/resilience/internal/pool"
)

var errBoom = errors.New("connection reset by peer")

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) count(t events.Type, match func(events.Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t && (match == nil || match(e)) {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func isReadFallback(e events.Event) bool {
	return e.Details["reason"] == "read-fallback"
}

type fixture struct {
	manager *Manager
	bus     *events.Bus
	log     *eventLog
	redis   *miniredis.Miniredis

	mu    sync.Mutex
	mocks map[string]sqlmock.Sqlmock

	// prepare, when set before init, queues expectations on a freshly opened store
	prepare func(name string, mock sqlmock.Sqlmock)
}

func (f *fixture) mock(id string) sqlmock.Sqlmock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mocks[id]
}

func testConfig(cacheAddr string) *config.Config {
	cfg := &config.Config{}
	cfg.Cache.Addrs = []string{cacheAddr}
	cfg.Store.Primary = config.NodeConfig{Name: "primary", Host: "db-primary"}
	cfg.Store.Replicas = []config.NodeConfig{
		{Name: "replica-1", Host: "db-replica-1"},
		{Name: "replica-2", Host: "db-replica-2"},
	}
	cfg.Pool.Max = 4
	cfg.Pool.AcquireTimeout = 200 * time.Millisecond
	cfg.Health.Interval = time.Hour
	cfg.Health.ProbeTimeout = time.Second
	cfg.Failover.RetryAttempts = 1
	cfg.Failover.Timeout = 5 * time.Second
	cfg.ApplyDefaults()
	return cfg
}

// newFixture builds a manager over miniredis and one sqlmock database per store instance.
// pingErrs makes the startup ping of the named instances fail.
func newFixture(t *testing.T, cfg *config.Config, pingErrs map[string]error, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		log:   &eventLog{},
		mocks: make(map[string]sqlmock.Sqlmock),
	}
	if cfg == nil {
		f.redis = miniredis.RunT(t)
		cfg = testConfig(f.redis.Addr())
	}

	f.bus = events.NewBus(zap.NewNop(), 100)
	require.NoError(t, f.bus.Subscribe("test", f.log.handle))

	opener := func(dbCfg database.Config, maxConns int) (*database.Postgres, error) {
		pingErr, failPing := pingErrs[dbCfg.Name]
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(failPing))
		if err != nil {
			return nil, err
		}
		if failPing {
			mock.ExpectPing().WillReturnError(pingErr)
		}
		database.Limit(db, maxConns)
		f.mu.Lock()
		f.mocks[dbCfg.Name] = mock
		prepare := f.prepare
		f.mu.Unlock()
		if prepare != nil {
			prepare(dbCfg.Name, mock)
		}
		return database.Wrap(dbCfg.Name, db), nil
	}

	opts = append([]Option{WithEventBus(f.bus), WithStoreOpener(opener)}, opts...)
	m, err := New(cfg, opts...)
	require.NoError(t, err)
	f.manager = m

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.PerformGracefulShutdown(ctx)
		f.bus.Close()
	})
	return f
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Initialize(context.Background()))
}

func expectHealthy(mock sqlmock.Sqlmock, times int) {
	for i := 0; i < times; i++ {
		mock.ExpectQuery(`^SELECT 1$`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		mock.ExpectQuery(`pg_stat_activity`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))
	}
}

func expectUnhealthy(mock sqlmock.Sqlmock, times int) {
	for i := 0; i < times; i++ {
		mock.ExpectQuery(`^SELECT 1$`).WillReturnError(errBoom)
	}
}

func failN(m *Manager, instance string, n int) {
	for i := 0; i < n; i++ {
		m.ReportResult(instance, errBoom, time.Millisecond)
	}
}

func read(t *testing.T, m *Manager) string {
	t.Helper()
	client, err := m.GetStoreClient(context.Background(), Read)
	require.NoError(t, err)
	require.NoError(t, client.Done(nil))
	return client.Instance
}

func TestManager_ReplicaOpensAfterFailedProbesAndIsNeverSelected(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	expectHealthy(f.mock("primary"), 5)
	expectHealthy(f.mock("replica-1"), 5)
	expectUnhealthy(f.mock("replica-2"), 5)

	for i := 0; i < 4; i++ {
		m.RunHealthChecks(context.Background())
	}
	assert.Equal(t, breaker.StateClosed, m.registry.State("replica-2"))

	m.RunHealthChecks(context.Background())
	assert.Equal(t, breaker.StateOpen, m.registry.State("replica-2"))

	for i := 0; i < 20; i++ {
		assert.Equal(t, "replica-1", read(t, m))
	}

	assert.Eventually(t, func() bool {
		return len(m.GetFailoverHistory()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	event := m.GetFailoverHistory()[0]
	assert.Equal(t, "replica-2", event.Service)
	assert.True(t, event.Success)
	assert.Equal(t, []string{"replica-1"}, m.Topology().Replicas)
	assert.Equal(t, []string{"replica-2"}, m.Topology().Excluded)

	assert.Eventually(t, func() bool {
		return f.log.count(events.CircuitBreakerOpened, nil) == 1 &&
			f.log.count(events.FailoverCompleted, nil) == 1 &&
			f.log.count(events.HealthCheckFailed, nil) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_WritesFailFastWhilePrimaryOpen(t *testing.T) {
	promoting := make(chan string, 1)
	release := make(chan struct{})
	promoter := failover.StorePromoterFunc(func(ctx context.Context, replica string) error {
		promoting <- replica
		<-release
		return nil
	})

	f := newFixture(t, nil, nil, WithStorePromoter(promoter))
	f.init(t)
	m := f.manager

	client, err := m.GetStoreClient(context.Background(), Write)
	require.NoError(t, err)
	assert.Equal(t, "primary", client.Instance)
	require.NoError(t, client.Done(nil))

	failN(m, "primary", 5)

	_, err = m.GetStoreClient(context.Background(), Write)
	require.Error(t, err)
	assert.ErrorIs(t, err, breaker.ErrBreakerOpen)
	var openErr *breaker.BreakerOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "primary", openErr.Service)

	select {
	case replica := <-promoting:
		assert.Equal(t, "replica-1", replica)
	case <-time.After(2 * time.Second):
		t.Fatal("failover never started")
	}

	_, err = m.GetStoreClient(context.Background(), Write)
	assert.ErrorIs(t, err, breaker.ErrBreakerOpen)

	close(release)
	require.Eventually(t, func() bool {
		return m.Topology().Primary == "replica-1"
	}, 2*time.Second, 10*time.Millisecond)

	client, err = m.GetStoreClient(context.Background(), Write)
	require.NoError(t, err)
	assert.Equal(t, "replica-1", client.Instance)
	require.NoError(t, client.Done(nil))

	assert.Equal(t, []string{"replica-2"}, m.Topology().Replicas)
	assert.Equal(t, []string{"primary"}, m.Topology().Excluded)
}

func TestManager_HalfOpenPrimaryAdmitsOneWrite(t *testing.T) {
	clock := newTestClock()
	promoter := failover.StorePromoterFunc(func(context.Context, string) error { return errBoom })
	f := newFixture(t, nil, nil, WithStorePromoter(promoter), WithClock(clock.Now))
	f.init(t)
	m := f.manager

	failN(m, "primary", 5)
	require.Eventually(t, func() bool {
		_, halted := m.GetMetrics().Halted["primary"]
		return halted
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "primary", m.Topology().Primary)

	clock.Advance(m.cfg.Failover.Timeout)
	m.ReportResult("primary", nil, time.Millisecond)
	require.Equal(t, breaker.StateHalfOpen, m.registry.State("primary"))

	trial, err := m.GetStoreClient(context.Background(), Write)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := m.GetStoreClient(context.Background(), Write)
		var openErr *breaker.BreakerOpenError
		require.ErrorAs(t, err, &openErr)
		assert.True(t, openErr.Trial)
	}

	require.NoError(t, trial.Done(nil))
	assert.Equal(t, breaker.StateClosed, m.registry.State("primary"))

	for i := 0; i < 3; i++ {
		client, err := m.GetStoreClient(context.Background(), Write)
		require.NoError(t, err)
		require.NoError(t, client.Done(nil))
	}
}

func TestManager_HalfOpenCacheAdmitsOneCaller(t *testing.T) {
	clock := newTestClock()
	f := newFixture(t, nil, nil, WithClock(clock.Now))
	f.init(t)
	m := f.manager

	failN(m, "cache", 5)
	clock.Advance(m.cfg.Failover.Timeout)
	m.ReportResult("cache", nil, time.Millisecond)
	require.Equal(t, breaker.StateHalfOpen, m.registry.State("cache"))

	admitted := 0
	for i := 0; i < 5; i++ {
		if _, err := m.GetCacheClient(); err == nil {
			admitted++
		} else {
			assert.ErrorIs(t, err, breaker.ErrBreakerOpen)
		}
	}
	assert.Equal(t, 1, admitted)

	m.ReportResult("cache", nil, time.Millisecond)
	_, err := m.GetCacheClient()
	assert.NoError(t, err)
}

func TestManager_AllReplicasDownFallsBackWithOneWarning(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	failN(m, "replica-1", 5)
	failN(m, "replica-2", 5)

	for i := 0; i < 10; i++ {
		assert.Equal(t, "primary", read(t, m))
	}

	assert.Eventually(t, func() bool {
		return f.log.count(events.ServicesDegraded, isReadFallback) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.GetMetrics().ReadsDegraded)

	// a new episode after a replica comes back and is lost again
	require.Eventually(t, func() bool {
		return len(m.Topology().Excluded) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, m.RestoreInstance(context.Background(), "replica-1"))

	assert.Equal(t, "replica-1", read(t, m))
	assert.False(t, m.GetMetrics().ReadsDegraded)

	failN(m, "replica-1", 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "primary", read(t, m))
	}

	assert.Eventually(t, func() bool {
		return f.log.count(events.ServicesDegraded, isReadFallback) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ReadsRoundRobinAcrossReplicas(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		counts[read(t, m)]++
	}
	assert.Equal(t, map[string]int{"replica-1": 5, "replica-2": 5}, counts)

	lb := m.GetMetrics().LoadBalancers["round-robin"]
	assert.Equal(t, int64(10), lb.TotalRequests)
	assert.Equal(t, int64(10), lb.SuccessfulRequests)
}

func TestManager_InitializeFailsWithoutCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	cfg.Cache.DialTimeout = 100 * time.Millisecond
	mr.Close()

	f := newFixture(t, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := f.manager.Initialize(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify cache")

	_, err = f.manager.GetStoreClient(context.Background(), Read)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestManager_InitializeFailsWithoutPrimary(t *testing.T) {
	f := newFixture(t, nil, map[string]error{"primary": errBoom})

	err := f.manager.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestManager_UnreachableReplicaStartsDegraded(t *testing.T) {
	f := newFixture(t, nil, map[string]error{"replica-2": errBoom})
	f.init(t)

	snap, ok := f.manager.registry.Snapshot("replica-2")
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.FailureCount)
	assert.Equal(t, breaker.StateClosed, snap.State)
}

func TestManager_NotInitialized(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.manager.GetCacheClient()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = f.manager.GetStoreClient(context.Background(), Write)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestManager_CacheBreakerAndRestore(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	client, err := m.GetCacheClient()
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())

	failN(m, "cache", 5)
	_, err = m.GetCacheClient()
	assert.ErrorIs(t, err, breaker.ErrBreakerOpen)

	// standalone cache has no standby, so failover fails and halts the instance
	require.Eventually(t, func() bool {
		h := m.GetFailoverHistory()
		return len(h) == 1 && !h[0].Success
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, m.GetMetrics().Halted, "cache")
	assert.Eventually(t, func() bool {
		return f.log.count(events.FailoverFailed, nil) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.RestoreInstance(context.Background(), "cache"))
	assert.Empty(t, m.GetMetrics().Halted)

	client, err = m.GetCacheClient()
	require.NoError(t, err)
	assert.Equal(t, "v", client.Get(context.Background(), "k").Val())
}

func TestManager_HealthStatus(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	for _, h := range m.GetHealthStatus() {
		assert.Equal(t, health.StateUnprobed, h.State)
	}

	expectHealthy(f.mock("primary"), 1)
	expectHealthy(f.mock("replica-1"), 1)
	expectUnhealthy(f.mock("replica-2"), 1)
	m.RunHealthChecks(context.Background())

	statuses := m.GetHealthStatus()
	require.Len(t, statuses, 4)

	byID := map[string]InstanceHealth{}
	for _, h := range statuses {
		byID[h.Service] = h
	}
	assert.Equal(t, health.StateHealthy, byID["cache"].State)
	assert.Equal(t, health.StateHealthy, byID["primary"].State)
	assert.Equal(t, int64(4), byID["primary"].Details["connections"])
	assert.Equal(t, health.StateDegraded, byID["replica-2"].State)
	assert.Equal(t, health.StatusUnhealthy, byID["replica-2"].Status)
}

func TestManager_PrewarmedPoolsDoNotStarveHealthChecks(t *testing.T) {
	r := miniredis.RunT(t)
	cfg := testConfig(r.Addr())
	cfg.Pool.Min = cfg.Pool.Max
	cfg.Health.ProbeTimeout = 300 * time.Millisecond
	cfg.CircuitBreaker.FailureThreshold = 2

	f := newFixture(t, cfg, nil)
	f.init(t)
	m := f.manager

	for _, id := range []string{"primary", "replica-1", "replica-2"} {
		expectHealthy(f.mock(id), 3)
	}
	for i := 0; i < 3; i++ {
		m.RunHealthChecks(context.Background())
	}

	for _, h := range m.GetHealthStatus() {
		assert.Equal(t, health.StateHealthy, h.State, h.Service)
		assert.Equal(t, breaker.StateClosed, h.Breaker, h.Service)
	}
	assert.Equal(t, cfg.Pool.Max, m.GetMetrics().Pools["replica-1"].Size)
	assert.Empty(t, m.GetFailoverHistory())
}

func TestManager_PoolTimeoutIsNotReported(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	var held []*StoreClient
	for i := 0; i < 4; i++ {
		c, err := m.GetStoreClient(context.Background(), Write)
		require.NoError(t, err)
		held = append(held, c)
	}

	_, err := m.GetStoreClient(context.Background(), Write)
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrPoolTimeout)

	snap, _ := m.registry.Snapshot("primary")
	assert.Equal(t, int64(0), snap.FailureCount)

	for _, c := range held {
		require.NoError(t, c.Done(nil))
	}
}

func TestStoreClient_Done(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	client, err := m.GetStoreClient(context.Background(), Write)
	require.NoError(t, err)
	require.NoError(t, client.Done(errBoom))
	assert.ErrorIs(t, client.Done(nil), pool.ErrNotCheckedOut)

	snap, _ := m.registry.Snapshot("primary")
	assert.Equal(t, int64(1), snap.FailureCount)

	client, err = m.GetStoreClient(context.Background(), Write)
	require.NoError(t, err)
	size := m.GetMetrics().Pools["primary"].Size
	require.NoError(t, client.Done(driver.ErrBadConn))
	assert.Equal(t, size-1, m.GetMetrics().Pools["primary"].Size)
}

func TestStoreClient_OutcomeRecordedWhenReleaseFails(t *testing.T) {
	r := miniredis.RunT(t)
	cfg := testConfig(r.Addr())
	cfg.LoadBalancing.Strategy = balancer.LeastConnections
	f := newFixture(t, cfg, nil)
	f.init(t)
	m := f.manager
	lc, ok := m.active.(*balancer.LeastConnectionsStrategy)
	require.True(t, ok)

	client, err := m.GetStoreClient(context.Background(), Read)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lc.Active(client.Instance))

	// closing the conn behind the pool's back makes the destroyer fail
	require.NoError(t, client.Conn.Close())
	assert.Error(t, client.Done(driver.ErrBadConn))
	assert.Equal(t, int64(0), lc.Active(client.Instance))

	snap, _ := m.registry.Snapshot(client.Instance)
	assert.Equal(t, int64(1), snap.FailureCount)

	// a second Done records nothing
	assert.ErrorIs(t, client.Done(nil), pool.ErrNotCheckedOut)
	assert.Equal(t, int64(0), lc.Active(client.Instance))
	assert.Equal(t, int64(1), lc.Metrics().TotalRequests)
}

func TestCreateConnectionPool(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	next := 0
	p, err := CreateConnectionPool(context.Background(), m,
		pool.Config{Name: "sessions", Max: 2},
		func(ctx context.Context) (int, error) { next++; return next, nil },
		func(int) error { return nil },
		nil)
	require.NoError(t, err)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res))
	assert.Contains(t, m.GetMetrics().Pools, "sessions")

	require.NoError(t, m.PerformGracefulShutdown(context.Background()))
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, pool.ErrPoolDraining)
}

func TestManager_GracefulShutdown(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.init(t)
	m := f.manager

	assert.Equal(t, []string{"health:cache", "health:store"}, m.scheduler.Names())

	require.NoError(t, m.PerformGracefulShutdown(context.Background()))
	assert.Empty(t, m.scheduler.Names())
	assert.ErrorIs(t, m.PerformGracefulShutdown(context.Background()), ErrShutdown)

	_, err := m.GetStoreClient(context.Background(), Read)
	assert.ErrorIs(t, err, ErrShutdown)

	assert.Eventually(t, func() bool {
		return f.log.count(events.HAInitialized, nil) == 1 &&
			f.log.count(events.ShutdownCompleted, nil) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_RejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig("localhost:6379")
	cfg.LoadBalancing.Strategy = "fastest"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestManager_FailoverHistoryRestoredFromLog(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	cfg.Failover.PersistLog = true
	cfg.Failover.HistorySize = 10

	f := newFixture(t, cfg, nil)
	older := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	f.prepare = func(name string, mock sqlmock.Sqlmock) {
		if name != "primary" {
			return
		}
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS failover_events`).WillReturnResult(sqlmock.NewResult(0, 0))
		rows := sqlmock.NewRows([]string{"id", "occurred_at", "service", "from_instance", "to_instance",
			"reason", "duration_ms", "affected_services", "success", "error"}).
			AddRow("evt-2", newer, "cache", "cache", nil, "circuit breaker opened",
				int64(20), "{cache}", false, "no standby").
			AddRow("evt-1", older, "primary", "db-old", "primary", "circuit breaker opened",
				int64(1500), "{db-old,primary}", true, nil)
		mock.ExpectQuery(`FROM failover_events`).WithArgs(10).WillReturnRows(rows)
	}
	f.init(t)

	history := f.manager.GetFailoverHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "evt-1", history[0].ID)
	assert.True(t, history[0].Success)
	assert.Equal(t, []string{"db-old", "primary"}, history[0].AffectedServices)
	assert.Equal(t, "evt-2", history[1].ID)
	assert.Equal(t, "no standby", history[1].Error)
	assert.NoError(t, f.mock("primary").ExpectationsWereMet())
}

func TestManager_FailoverLogUnreadableFailsInitialize(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	cfg.Failover.PersistLog = true

	f := newFixture(t, cfg, nil)
	f.prepare = func(name string, mock sqlmock.Sqlmock) {
		if name != "primary" {
			return
		}
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS failover_events`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`FROM failover_events`).WillReturnError(errBoom)
	}

	err := f.manager.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failover log")
}
