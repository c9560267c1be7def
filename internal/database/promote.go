package database

import (
	"context"
	"fmt"
	"time"
)

// PgPromoter promotes a streaming replica with pg_promote()
type PgPromoter struct {
	instances map[string]*Postgres
	wait      time.Duration
}

// NewPgPromoter promotes any of instances, waiting up to wait for promotion to finish
func NewPgPromoter(wait time.Duration, instances ...*Postgres) *PgPromoter {
	if wait <= 0 {
		wait = 60 * time.Second
	}
	p := &PgPromoter{instances: make(map[string]*Postgres, len(instances)), wait: wait}
	for _, inst := range instances {
		p.instances[inst.Name()] = inst
	}
	return p
}

// Promote runs pg_promote on replica
func (p *PgPromoter) Promote(ctx context.Context, replica string) error {
	inst, ok := p.instances[replica]
	if !ok {
		return fmt.Errorf("promote: unknown instance %s", replica)
	}

	var promoted bool
	err := inst.DB().QueryRowContext(ctx, "SELECT pg_promote(true, $1)", int(p.wait.Seconds())).Scan(&promoted)
	if err != nil {
		return fmt.Errorf("promote %s: %w", replica, err)
	}
	if !promoted {
		return fmt.Errorf("promote %s: pg_promote returned false", replica)
	}
	return nil
}
