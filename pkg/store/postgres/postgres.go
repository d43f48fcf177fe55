// Package postgres implements store.Store backed by PostgreSQL via pgx.
//
// Only the transcript-engine fields of the consultations table are owned
// here; the surrounding consultation/patient columns belong to the external
// consultation service. Migrate is additive and safe to run at every startup.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remoteree/patient-note-taker-asean/pkg/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed session store. All operations are safe for
// concurrent use; the pool handles connection lifecycle.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection, and runs
// Migrate.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate ensures the consultations table and the engine-owned columns exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS consultations (
	id                TEXT PRIMARY KEY,
	language          TEXT NOT NULL DEFAULT 'auto',
	status            TEXT NOT NULL DEFAULT 'scheduled',
	transcript        TEXT NOT NULL DEFAULT '',
	detected_language TEXT NOT NULL DEFAULT '',
	processed_chunks  INTEGER NOT NULL DEFAULT 0,
	total_chunks      INTEGER NOT NULL DEFAULT 0,
	has_summary       BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create consultations table: %w", err)
	}
	return nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Get(ctx context.Context, id string) (store.Consultation, error) {
	const q = `
SELECT id, language, status, transcript, detected_language,
       processed_chunks, total_chunks, has_summary, updated_at
FROM consultations WHERE id = $1`
	var c store.Consultation
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.Language, &c.Status, &c.Transcript, &c.DetectedLanguage,
		&c.ProcessedChunks, &c.TotalChunks, &c.HasSummary, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Consultation{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return store.Consultation{}, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status store.Status) error {
	return s.exec(ctx, id,
		`UPDATE consultations SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
}

func (s *Store) Transcript(ctx context.Context, id string) (string, error) {
	var text string
	err := s.pool.QueryRow(ctx, `SELECT transcript FROM consultations WHERE id = $1`, id).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: transcript %s: %w", id, err)
	}
	return text, nil
}

func (s *Store) SetTranscript(ctx context.Context, id string, text string) error {
	return s.exec(ctx, id,
		`UPDATE consultations SET transcript = $2, updated_at = now() WHERE id = $1`,
		id, text)
}

func (s *Store) SetProgress(ctx context.Context, id string, processed, total int) error {
	return s.exec(ctx, id,
		`UPDATE consultations SET processed_chunks = $2, total_chunks = $3, updated_at = now() WHERE id = $1`,
		id, processed, total)
}

func (s *Store) SetDetectedLanguage(ctx context.Context, id string, language string) error {
	return s.exec(ctx, id,
		`UPDATE consultations SET detected_language = $2, updated_at = now() WHERE id = $1`,
		id, language)
}

func (s *Store) SetHasSummary(ctx context.Context, id string, has bool) error {
	return s.exec(ctx, id,
		`UPDATE consultations SET has_summary = $2, updated_at = now() WHERE id = $1`,
		id, has)
}

// exec runs an UPDATE and translates a zero-row result into ErrNotFound.
func (s *Store) exec(ctx context.Context, id, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("postgres store: update %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}
