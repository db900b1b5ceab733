// Package postgres implements the history store on PostgreSQL for
// deployments that already run one.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/auricle/internal/history"
	"github.com/MrWong99/auricle/pkg/types"
)

// Schema is the SQL DDL for the exchanges table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id         BIGSERIAL PRIMARY KEY,
    transcript TEXT NOT NULL,
    reply      TEXT NOT NULL,
    model      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Closer is optionally implemented by DB values that own a connection pool.
type Closer interface {
	Close()
}

// Store is a [history.Store] backed by PostgreSQL.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// New creates a Store over the given connection or pool. Call
// [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL, creating the exchanges table and index
// if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history/postgres: migrate: %w", err)
	}
	return nil
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, ex *types.Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO exchanges (transcript, reply, model, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err := s.db.QueryRow(ctx, query, ex.Transcript, ex.Reply, ex.Model, ex.CreatedAt).Scan(&ex.ID)
	if err != nil {
		return fmt.Errorf("history/postgres: insert exchange: %w", err)
	}
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, transcript, reply, model, created_at
		FROM exchanges ORDER BY id DESC LIMIT $1`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("history/postgres: query exchanges: %w", err)
	}
	defer rows.Close()

	var out []types.Exchange
	for rows.Next() {
		var ex types.Exchange
		if err := rows.Scan(&ex.ID, &ex.Transcript, &ex.Reply, &ex.Model, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("history/postgres: scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history/postgres: iterate exchanges: %w", err)
	}
	return out, nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("history/postgres: ping: %w", err)
	}
	return nil
}

// Close implements history.Store. It closes the underlying pool when the DB
// value owns one.
func (s *Store) Close() error {
	if c, ok := s.db.(Closer); ok {
		c.Close()
	}
	return nil
}
