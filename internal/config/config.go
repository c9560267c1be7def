// Package config loads the HA configuration.
//
// A Config is read once from YAML, checked against a JSON schema, overlaid with HA_*
// environment variables, defaulted and validated. It is treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/resilience/internal/balancer"
)

// Cache topologies
const (
	TopologyStandalone = "standalone"
	TopologySentinel   = "sentinel"
	TopologyCluster    = "cluster"
)

type Config struct {
	Cache          CacheConfig          `yaml:"cache"`
	Store          StoreConfig          `yaml:"store"`
	Pool           PoolConfig           `yaml:"pool"`
	LoadBalancing  LoadBalancingConfig  `yaml:"load_balancing"`
	Health         HealthConfig         `yaml:"health"`
	Failover       FailoverConfig       `yaml:"failover"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Logging        LoggingConfig        `yaml:"logging"`
	Admin          AdminConfig          `yaml:"admin"`
}

type CacheConfig struct {
	Name        string        `yaml:"name"`
	Topology    string        `yaml:"topology" default:"standalone"`
	Addrs       []string      `yaml:"addrs"`
	MasterName  string        `yaml:"master_name"` // sentinel only
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
}

type NodeConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" default:"5432"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode" default:"disable"`
}

type StoreConfig struct {
	Primary  NodeConfig   `yaml:"primary"`
	Replicas []NodeConfig `yaml:"replicas"`
}

type PoolConfig struct {
	Min              int           `yaml:"min"`
	Max              int           `yaml:"max" default:"10"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout" default:"5s"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" default:"5m"`
	EvictionInterval time.Duration `yaml:"eviction_interval" default:"1m"`
	CreateRate       float64       `yaml:"create_rate"`
}

type LoadBalancingConfig struct {
	Strategy string `yaml:"strategy" default:"round-robin"`
}

type HealthConfig struct {
	Interval        time.Duration `yaml:"interval" default:"10s"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout" default:"5s"`
	DegradedLatency time.Duration `yaml:"degraded_latency" default:"1s"`
}

type FailoverConfig struct {
	Timeout       time.Duration `yaml:"timeout" default:"30s"`
	RetryAttempts int           `yaml:"retry_attempts" default:"3"`
	HistorySize   int           `yaml:"history_size" default:"100"`
	StorePromoter string        `yaml:"store_promoter" default:"routing"` // routing | pg_promote
	PersistLog    bool          `yaml:"persist_log"`                      // also write failover events to the primary
}

type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" default:"5"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
}

type AdminConfig struct {
	Addr string `yaml:"addr" default:":9090"`
}

// Load reads, validates and defaults the configuration at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes, applying env overrides and defaults
func Parse(data []byte) (*Config, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	LoadFromEnv(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in default values
func (c *Config) ApplyDefaults() {
	if c.Cache.Name == "" {
		c.Cache.Name = "cache"
	}
	if c.Cache.Topology == "" {
		c.Cache.Topology = TopologyStandalone
	}
	if len(c.Cache.Addrs) == 0 {
		c.Cache.Addrs = []string{"localhost:6379"}
	}
	if c.Cache.DialTimeout == 0 {
		c.Cache.DialTimeout = 5 * time.Second
	}

	c.Store.Primary.applyDefaults("primary")
	for i := range c.Store.Replicas {
		c.Store.Replicas[i].applyDefaults(fmt.Sprintf("replica-%d", i))
	}

	if c.Pool.Max == 0 {
		c.Pool.Max = 10
	}
	if c.Pool.AcquireTimeout == 0 {
		c.Pool.AcquireTimeout = 5 * time.Second
	}
	if c.Pool.IdleTimeout == 0 {
		c.Pool.IdleTimeout = 5 * time.Minute
	}
	if c.Pool.EvictionInterval == 0 {
		c.Pool.EvictionInterval = time.Minute
	}

	if c.LoadBalancing.Strategy == "" {
		c.LoadBalancing.Strategy = balancer.RoundRobin
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = 10 * time.Second
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = 5 * time.Second
	}
	if c.Health.DegradedLatency == 0 {
		c.Health.DegradedLatency = time.Second
	}

	if c.Failover.Timeout == 0 {
		c.Failover.Timeout = 30 * time.Second
	}
	if c.Failover.RetryAttempts == 0 {
		c.Failover.RetryAttempts = 3
	}
	if c.Failover.HistorySize == 0 {
		c.Failover.HistorySize = 100
	}
	if c.Failover.StorePromoter == "" {
		c.Failover.StorePromoter = "routing"
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":9090"
	}
}

func (n *NodeConfig) applyDefaults(name string) {
	if n.Name == "" {
		n.Name = name
	}
	if n.Port == 0 {
		n.Port = 5432
	}
	if n.SSLMode == "" {
		n.SSLMode = "disable"
	}
}

// Validate checks configuration
func (c *Config) Validate() error {
	var errs []error

	switch c.Cache.Topology {
	case TopologyStandalone, TopologyCluster:
	case TopologySentinel:
		if c.Cache.MasterName == "" {
			errs = append(errs, errors.New("config: cache.master_name is required for sentinel topology"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: invalid cache topology: %s", c.Cache.Topology))
	}

	if c.Store.Primary.Host == "" {
		errs = append(errs, errors.New("config: store.primary.host is required"))
	}
	seen := map[string]bool{c.Cache.Name: true, c.Store.Primary.Name: true}
	if c.Cache.Name == c.Store.Primary.Name {
		errs = append(errs, fmt.Errorf("config: duplicate instance name: %s", c.Cache.Name))
	}
	for _, r := range c.Store.Replicas {
		if r.Host == "" {
			errs = append(errs, fmt.Errorf("config: store replica %s: host is required", r.Name))
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("config: duplicate instance name: %s", r.Name))
		}
		seen[r.Name] = true
	}

	if c.Pool.Min < 0 || c.Pool.Min > c.Pool.Max {
		errs = append(errs, fmt.Errorf("config: pool.min must be within [0, %d]", c.Pool.Max))
	}

	if !validStrategy(c.LoadBalancing.Strategy) {
		errs = append(errs, fmt.Errorf("config: invalid load balancing strategy: %s", c.LoadBalancing.Strategy))
	}

	if c.Health.ProbeTimeout > c.Health.Interval {
		errs = append(errs, errors.New("config: health.probe_timeout must not exceed health.interval"))
	}
	if c.Failover.RetryAttempts < 0 {
		errs = append(errs, errors.New("config: failover.retry_attempts must not be negative"))
	}
	switch c.Failover.StorePromoter {
	case "routing", "pg_promote":
	default:
		errs = append(errs, fmt.Errorf("config: invalid failover.store_promoter: %s", c.Failover.StorePromoter))
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, errors.New("config: circuit_breaker.failure_threshold must be at least 1"))
	}

	return errors.Join(errs...)
}

func validStrategy(name string) bool {
	for _, s := range balancer.Strategies {
		if s == name {
			return true
		}
	}
	return false
}
