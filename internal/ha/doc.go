// Package ha gives the rest of the platform fault-tolerant access to the cache and the
// relational store.
//
// # Overview
//
// The Manager owns every piece of HA state and wires it together:
//   - one circuit breaker per backend instance (cache, primary, each replica)
//   - a health monitor probing each backend family on a named, cancellable task
//   - load balancing strategies for reads across replicas
//   - a failover coordinator reacting to breakers that open
//   - one connection pool per store instance
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                        Manager                          │
//	│   GetCacheClient / GetStoreClient / introspection       │
//	├──────────────────┬──────────────────┬───────────────────┤
//	│  health.Monitor  │ breaker.Registry │ failover.Coordinator
//	│  (probe ticks)   │ (per instance)   │ (promote / remove)│
//	├──────────────────┴──────────────────┴───────────────────┤
//	│     balancer.Strategy        pool.Pool[*sql.Conn]       │
//	├─────────────────────────────────────────────────────────┤
//	│        cache (go-redis)        database (lib/pq)        │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	cfg, err := config.Load("ha.yaml")
//	manager, err := ha.New(cfg, ha.WithLogger(logger))
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//	defer manager.PerformGracefulShutdown(ctx)
//
//	client, err := manager.GetStoreClient(ctx, ha.Read)
//	if err != nil {
//		return err // breaker open or pool timeout
//	}
//	rows, err := client.Conn.QueryContext(ctx, "SELECT ...")
//	client.Done(err)
//
// # Routing
//
// Writes go to the current primary and fail fast with a *breaker.BreakerOpenError while
// its breaker is open. Reads go through the configured strategy over replicas whose
// breaker is not open; when none is usable they fall back to the primary and a single
// services-degraded event is emitted for that fallback episode.
//
// # Failover
//
// A breaker moving from closed to open triggers the coordinator in the background. A failed
// cache is handed to its promoter (sentinel, cluster or none), a failed primary is
// replaced by the first usable replica, and a failed replica is removed from the read
// pool. A failed procedure halts the instance until RestoreInstance is called.
//
// # Thread Safety
//
// The Manager is safe for concurrent use.
package ha
