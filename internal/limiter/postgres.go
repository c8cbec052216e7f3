package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed FloodControl that survives restarts and is shared
// between replicas.
type PG struct {
	pool pgxQuerier
	now  func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed flood control.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool, now: time.Now}
}

// NewPGWithQuerier constructs a PostgreSQL-backed flood control over any querier.
func NewPGWithQuerier(q pgxQuerier, now func() time.Time) *PG {
	if now == nil {
		now = time.Now
	}
	return &PG{pool: q, now: now}
}

const (
	qBlocked = `SELECT resume_at FROM flood_control WHERE telegram_id=$1`
	qArm     = `INSERT INTO flood_control (telegram_id, resume_at, updated_at) VALUES ($1, $2, now()) ON CONFLICT (telegram_id) DO UPDATE SET resume_at = EXCLUDED.resume_at, updated_at = now()`
	qClear   = `DELETE FROM flood_control WHERE telegram_id=$1`
)

func (l *PG) Blocked(ctx context.Context, identity string) (bool, time.Time, error) {
	var resumeAt time.Time
	err := l.pool.QueryRow(ctx, qBlocked, identity).Scan(&resumeAt)
	switch {
	case err == nil:
		if resumeAt.After(l.now()) {
			return true, resumeAt, nil
		}
		return false, time.Time{}, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, time.Time{}, nil
	default:
		return false, time.Time{}, err
	}
}

func (l *PG) Arm(ctx context.Context, identity string, resumeAt time.Time) error {
	_, err := l.pool.Exec(ctx, qArm, identity, resumeAt)
	return err
}

func (l *PG) Clear(ctx context.Context, identity string) error {
	_, err := l.pool.Exec(ctx, qClear, identity)
	return err
}
