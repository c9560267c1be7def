package ha

import (
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FairForge/resilience/internal/cache"
	"github.com/FairForge/resilience/internal/database"
	"github.com/FairForge/resilience/internal/events"
	"github.com/FairForge/resilience/internal/failover"
)

// CacheOpener builds the cache client
type CacheOpener func(opts cache.Options) (redis.UniversalClient, error)

// StoreOpener opens one store instance
type StoreOpener func(cfg database.Config, maxConns int) (*database.Postgres, error)

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithEventBus publishes events on bus instead of a private one
func WithEventBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithRegisterer registers metrics on reg instead of a private registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.registerer = reg }
}

// WithCacheOpener overrides how the cache client is built
func WithCacheOpener(open CacheOpener) Option {
	return func(m *Manager) { m.openCache = open }
}

// WithStoreOpener overrides how store instances are opened
func WithStoreOpener(open StoreOpener) Option {
	return func(m *Manager) { m.openStore = open }
}

// WithCachePromoter overrides the promoter chosen from the cache topology
func WithCachePromoter(p failover.CachePromoter) Option {
	return func(m *Manager) { m.cachePromoter = p }
}

// WithStorePromoter overrides the promoter chosen from failover.store_promoter
func WithStorePromoter(p failover.StorePromoter) Option {
	return func(m *Manager) { m.storePromoter = p }
}

// WithClock overrides time.Now for breakers and failover records
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRand seeds the random and weighted strategies
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}
