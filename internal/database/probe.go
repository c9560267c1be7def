package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Probe returns a health probe for the instance: a dedicated connection must answer
// SELECT 1. The pg_stat_activity count is informational.
func (p *Postgres) Probe() func(ctx context.Context) (map[string]interface{}, error) {
	return func(ctx context.Context) (map[string]interface{}, error) {
		conn, err := p.Conn(ctx)
		if err != nil {
			return nil, err
		}
		defer func() { _ = conn.Close() }()

		var one int
		if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return nil, fmt.Errorf("probe %s: %w", p.name, err)
		}

		details := map[string]interface{}{}
		var connections int64
		if err := conn.QueryRowContext(ctx, "SELECT count(*) FROM pg_stat_activity").Scan(&connections); err != nil {
			details["stats_error"] = err.Error()
		} else {
			details["connections"] = connections
		}
		return details, nil
	}
}

// ValidateConn checks a pooled connection before reuse
func ValidateConn(ctx context.Context, conn *sql.Conn) error {
	return conn.PingContext(ctx)
}
