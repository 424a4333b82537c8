package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL implementation of all capability interfaces.
// The pool is internally synchronised; one Store is shared by every task.
type Store struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a connection pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// inTx runs fn inside a transaction. Rollback after Commit is a no-op, so
// the deferred rollback is always safe.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// recomputeCounters refreshes the aggregate counters on an email row from
// its recipients. Runs inside the same transaction as the mutation that
// triggered it.
func recomputeCounters(ctx context.Context, tx pgx.Tx, emailID int32) error {
	_, err := tx.Exec(ctx, `
		UPDATE emails SET
			num_sent    = (SELECT count(*) FROM recipients WHERE email_id = $1 AND is_sent),
			num_opened  = (SELECT count(*) FROM recipients WHERE email_id = $1 AND opened),
			num_replied = (SELECT count(*) FROM recipients WHERE email_id = $1 AND reply IS NOT NULL)
		WHERE id = $1
	`, emailID)
	if err != nil {
		return fmt.Errorf("recompute counters for email %d: %w", emailID, err)
	}
	return nil
}
