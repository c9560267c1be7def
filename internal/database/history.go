package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/FairForge/resilience/internal/failover"
)

// FailoverLog persists failover events so they survive restarts
type FailoverLog struct {
	db *sql.DB
}

func NewFailoverLog(db *sql.DB) *FailoverLog {
	return &FailoverLog{db: db}
}

// CreateTable creates the failover_events table if needed
func (l *FailoverLog) CreateTable(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS failover_events (
            id VARCHAR(36) PRIMARY KEY,
            occurred_at TIMESTAMP NOT NULL,
            service VARCHAR(255) NOT NULL,
            from_instance VARCHAR(255) NOT NULL,
            to_instance VARCHAR(255),
            reason TEXT NOT NULL,
            duration_ms BIGINT NOT NULL,
            affected_services TEXT[] NOT NULL,
            success BOOLEAN NOT NULL,
            error TEXT
        )
    `
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create failover_events: %w", err)
	}
	return nil
}

// Record stores one event
func (l *FailoverLog) Record(ctx context.Context, e failover.Event) error {
	query := `
        INSERT INTO failover_events
            (id, occurred_at, service, from_instance, to_instance, reason, duration_ms, affected_services, success, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err := l.db.ExecContext(ctx, query,
		e.ID, e.Timestamp, e.Service, e.From, e.To, e.Reason,
		e.Duration.Milliseconds(), pq.Array(e.AffectedServices), e.Success, e.Error)
	if err != nil {
		return fmt.Errorf("record failover %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns the newest events, newest first
func (l *FailoverLog) Recent(ctx context.Context, limit int) ([]failover.Event, error) {
	query := `
        SELECT id, occurred_at, service, from_instance, to_instance, reason, duration_ms, affected_services, success, error
        FROM failover_events
        ORDER BY occurred_at DESC
        LIMIT $1
    `
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query failover events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []failover.Event
	for rows.Next() {
		var (
			e          failover.Event
			to, errStr sql.NullString
			durationMs int64
		)
		err := rows.Scan(&e.ID, &e.Timestamp, &e.Service, &e.From, &to, &e.Reason,
			&durationMs, pq.Array(&e.AffectedServices), &e.Success, &errStr)
		if err != nil {
			return nil, fmt.Errorf("scan failover event: %w", err)
		}
		e.To = to.String
		e.Error = errStr.String
		e.Duration = time.Duration(durationMs) * time.Millisecond
		events = append(events, e)
	}
	return events, rows.Err()
}
