//go:build !prod
// +build !prod

package database

import (
	"os"
	"strconv"
)

// TestConfig returns the instance used by integration tests, from TEST_DB_* variables
func TestConfig() Config {
	port, err := strconv.Atoi(getEnv("TEST_DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return Config{
		Name:     "test-primary",
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("TEST_DB_NAME", "resilience_test"),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", ""),
		SSLMode:  "disable",
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
