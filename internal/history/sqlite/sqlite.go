// Package sqlite implements the history store on an embedded SQLite
// database via the pure-Go modernc.org/sqlite driver, so single-machine
// deployments need no external database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/auricle/internal/history"
	"github.com/MrWong99/auricle/pkg/types"
)

// schema is the DDL applied on open.
const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript TEXT NOT NULL,
	reply      TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);
`

// Store is a [history.Store] backed by SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history/sqlite: open %q: %w", path, err)
	}
	// The driver is not safe for concurrent writers on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history/sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, ex *types.Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (transcript, reply, model, created_at) VALUES (?, ?, ?, ?)`,
		ex.Transcript, ex.Reply, ex.Model, ex.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history/sqlite: insert exchange: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("history/sqlite: last insert id: %w", err)
	}
	ex.ID = id
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transcript, reply, model, created_at
		 FROM exchanges ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history/sqlite: query exchanges: %w", err)
	}
	defer rows.Close()

	var out []types.Exchange
	for rows.Next() {
		var ex types.Exchange
		var created string
		if err := rows.Scan(&ex.ID, &ex.Transcript, &ex.Reply, &ex.Model, &created); err != nil {
			return nil, fmt.Errorf("history/sqlite: scan exchange: %w", err)
		}
		if ex.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("history/sqlite: parse created_at %q: %w", created, err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history/sqlite: iterate exchanges: %w", err)
	}
	return out, nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements history.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
