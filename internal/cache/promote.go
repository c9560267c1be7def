package cache

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
)

// ErrNoStandby is returned when the topology has no standby to promote
var ErrNoStandby = errors.New("cache: no standby available for standalone topology")

// SentinelPromoter asks the sentinels to fail the master over to a replica
type SentinelPromoter struct {
	Sentinel   *redis.SentinelClient
	MasterName string
}

// NewSentinelPromoter connects to the first sentinel address
func NewSentinelPromoter(opts Options) *SentinelPromoter {
	return &SentinelPromoter{
		Sentinel: redis.NewSentinelClient(&redis.Options{
			Addr:        opts.Addrs[0],
			Username:    opts.Username,
			Password:    opts.Password,
			DialTimeout: opts.DialTimeout,
		}),
		MasterName: opts.MasterName,
	}
}

// Promote forces a sentinel failover and returns the new master address
func (p *SentinelPromoter) Promote(ctx context.Context, instance string) (string, error) {
	if err := p.Sentinel.Failover(ctx, p.MasterName).Err(); err != nil {
		return "", fmt.Errorf("sentinel failover %s: %w", p.MasterName, err)
	}
	addr, err := p.Sentinel.GetMasterAddrByName(ctx, p.MasterName).Result()
	if err != nil {
		return "", fmt.Errorf("sentinel master address %s: %w", p.MasterName, err)
	}
	if len(addr) != 2 {
		return "", fmt.Errorf("sentinel master address %s: unexpected reply %v", p.MasterName, addr)
	}
	return net.JoinHostPort(addr[0], addr[1]), nil
}

// Close closes the sentinel connection
func (p *SentinelPromoter) Close() error {
	return p.Sentinel.Close()
}

// ClusterPromoter lets the cluster elect a new master and refreshes the slot map
type ClusterPromoter struct {
	Client *redis.ClusterClient
}

// Promote reloads cluster state so routing follows the cluster's own failover
func (p *ClusterPromoter) Promote(ctx context.Context, instance string) (string, error) {
	p.Client.ReloadState(ctx)
	if err := p.Client.Ping(ctx).Err(); err != nil {
		return "", fmt.Errorf("cluster reload: %w", err)
	}
	return instance, nil
}

// NoStandbyPromoter is used for standalone caches
type NoStandbyPromoter struct{}

// Promote always fails
func (NoStandbyPromoter) Promote(context.Context, string) (string, error) {
	return "", ErrNoStandby
}
