package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overlays HA_* environment variables onto cfg
func LoadFromEnv(cfg *Config) {
	if addrs := os.Getenv("HA_CACHE_ADDRS"); addrs != "" {
		cfg.Cache.Addrs = strings.Split(addrs, ",")
	}
	if pw := os.Getenv("HA_CACHE_PASSWORD"); pw != "" {
		cfg.Cache.Password = pw
	}

	if host := os.Getenv("HA_STORE_PRIMARY_HOST"); host != "" {
		cfg.Store.Primary.Host = host
	}
	// One password for every store node; per-node secrets belong in the file
	if pw := os.Getenv("HA_STORE_PASSWORD"); pw != "" {
		cfg.Store.Primary.Password = pw
		for i := range cfg.Store.Replicas {
			cfg.Store.Replicas[i].Password = pw
		}
	}

	if strategy := os.Getenv("HA_LB_STRATEGY"); strategy != "" {
		cfg.LoadBalancing.Strategy = strategy
	}

	if interval := os.Getenv("HA_HEALTH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Health.Interval = d
		}
	}
	if threshold := os.Getenv("HA_BREAKER_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			cfg.CircuitBreaker.FailureThreshold = n
		}
	}

	if level := os.Getenv("HA_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if addr := os.Getenv("HA_ADMIN_ADDR"); addr != "" {
		cfg.Admin.Addr = addr
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
