// Package postgres is the only implementation of truth.Store allowed to
// mutate Truth tables (component A, §4.A). It is built on sqlx over the
// pgx stdlib driver, grounded on the teacher pack's connection-pooling
// style (evalgo-org-eve/db/postgres_pgx.go) adapted to sqlx's thin
// ExecContext/QueryRowContext/QueryContext surface so both *sqlx.DB and
// *sqlx.Tx satisfy the same execer interface — WithTx just swaps which
// one a Store wraps.
//
// Every table that stores a nested structure (WorkflowVersion.Nodes,
// EvidenceAttachment.Data, ScheduleBlock.Metadata, ...) uses a JSONB
// column marshaled/unmarshaled at the Go boundary rather than a join
// table — the kernel and every service above this package only ever see
// the reassembled struct.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flowspec/engine/truth"
)

// execer is the subset of *sqlx.DB / *sqlx.Tx every repository method
// needs. Defining it narrowly (rather than depending on *sqlx.DB
// directly) is what lets Store be reused unchanged inside WithTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store implements truth.Store against PostgreSQL.
type Store struct {
	db execer
	// conn is non-nil only for a top-level Store (one not already bound
	// to a transaction via WithTx); it is what WithTx opens a new
	// transaction from. A Store obtained from inside WithTx has conn nil
	// and re-entrant WithTx calls just run fn against the same tx.
	conn *sqlx.DB
}

// Open connects to Postgres using the pgx stdlib driver through sqlx and
// verifies the connection with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	conn, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: conn, conn: conn}, nil
}

// Close releases the underlying connection pool. No-op on a Store bound
// to a transaction.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// WithTx opens a REPEATABLE READ transaction (§5) and invokes fn with a
// Store bound to it, committing on success and rolling back on error or
// panic.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx truth.Store) error) error {
	if s.conn == nil {
		// Already inside a transaction: nested WithTx calls share it.
		return fn(ctx, s)
	}
	tx, err := s.conn.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: tx}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ truth.Store = (*Store)(nil)
