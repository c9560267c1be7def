// Package cache builds Redis clients for the supported topologies and probes them.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Topologies
const (
	Standalone = "standalone"
	Sentinel   = "sentinel"
	Cluster    = "cluster"
)

// Options describes how to reach the cache
type Options struct {
	Topology    string
	Addrs       []string
	MasterName  string
	Username    string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Open creates a client for the configured topology. No connection is made until the
// first command.
func Open(opts Options) (redis.UniversalClient, error) {
	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("cache: no addresses configured")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	switch opts.Topology {
	case Standalone, "":
		return redis.NewClient(&redis.Options{
			Addr:        opts.Addrs[0],
			Username:    opts.Username,
			Password:    opts.Password,
			DB:          opts.DB,
			DialTimeout: opts.DialTimeout,
		}), nil

	case Sentinel:
		if opts.MasterName == "" {
			return nil, fmt.Errorf("cache: sentinel topology requires a master name")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    opts.MasterName,
			SentinelAddrs: opts.Addrs,
			Username:      opts.Username,
			Password:      opts.Password,
			DB:            opts.DB,
			DialTimeout:   opts.DialTimeout,
		}), nil

	case Cluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       opts.Addrs,
			Username:    opts.Username,
			Password:    opts.Password,
			DialTimeout: opts.DialTimeout,
		}), nil

	default:
		return nil, fmt.Errorf("cache: unknown topology: %s", opts.Topology)
	}
}

// Ping verifies a round trip to the cache
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}
