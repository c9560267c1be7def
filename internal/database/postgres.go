// Package database opens PostgreSQL instances and probes them.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds one instance's connection settings
type Config struct {
	Name     string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// DSN renders the lib/pq connection string
func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslmode)
}

// Postgres is one PostgreSQL instance (primary or replica)
type Postgres struct {
	name string
	db   *sql.DB
}

// ReservedConns is the headroom database/sql keeps beyond the HA pool, so health
// probes, promotion and the failover log never queue behind pooled connections.
const ReservedConns = 3

// NewPostgres opens a handle to the instance for an HA pool of at most maxConns
func NewPostgres(cfg Config, maxConns int) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Name, err)
	}
	Limit(db, maxConns)
	return &Postgres{name: cfg.Name, db: db}, nil
}

// Limit sizes db for an HA pool of at most maxConns plus ReservedConns
func Limit(db *sql.DB, maxConns int) {
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns + ReservedConns)
	db.SetMaxIdleConns(maxConns + ReservedConns)
	db.SetConnMaxLifetime(30 * time.Minute)
}

// Wrap adopts an existing handle
func Wrap(name string, db *sql.DB) *Postgres {
	return &Postgres{name: name, db: db}
}

// Name returns the instance id
func (p *Postgres) Name() string {
	return p.name
}

// DB exposes the underlying handle
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", p.name, err)
	}
	return nil
}

// Conn checks out a dedicated connection
func (p *Postgres) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", p.name, err)
	}
	return conn, nil
}
