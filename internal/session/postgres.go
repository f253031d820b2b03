package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by a PostgreSQL session_responses table.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// schema creates the backing table when missing.
const schema = `
CREATE TABLE IF NOT EXISTS session_responses (
    session_id  TEXT PRIMARY KEY,
    text        TEXT        NOT NULL,
    audio_file  TEXT        NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ NOT NULL
)`

// NewPostgresStore connects to the database at dsn and ensures the backing
// table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("session: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Put implements Store via upsert.
func (s *PostgresStore) Put(ctx context.Context, sessionID string, resp Response) error {
	const q = `
		INSERT INTO session_responses (session_id, text, audio_file, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET text = EXCLUDED.text,
		    audio_file = EXCLUDED.audio_file,
		    timestamp = EXCLUDED.timestamp`

	if _, err := s.pool.Exec(ctx, q, sessionID, resp.Text, resp.AudioFile, resp.Timestamp); err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Response, error) {
	const q = `
		SELECT text, audio_file, timestamp
		FROM   session_responses
		WHERE  session_id = $1`

	var resp Response
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&resp.Text, &resp.AudioFile, &resp.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Response{}, ErrNotFound
	}
	if err != nil {
		return Response{}, fmt.Errorf("session: get: %w", err)
	}
	return resp, nil
}

// Exists implements Store.
func (s *PostgresStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM session_responses WHERE session_id = $1)`

	var ok bool
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(&ok); err != nil {
		return false, fmt.Errorf("session: exists: %w", err)
	}
	return ok, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
