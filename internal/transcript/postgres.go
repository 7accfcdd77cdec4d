package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sammywilko/channel-changers-live/pkg/live"
)

// PostgresStore is a Store backed by a transcript_entries table.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// schema creates the transcript_entries table when missing.
const schema = `
	CREATE TABLE IF NOT EXISTS transcript_entries (
	    id         BIGSERIAL PRIMARY KEY,
	    session_id TEXT        NOT NULL,
	    speaker    TEXT        NOT NULL,
	    text       TEXT        NOT NULL,
	    timestamp  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS transcript_entries_session_ts
	    ON transcript_entries (session_id, timestamp)`

// NewPostgresStore connects to the database at connString and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("transcript store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, entry live.TranscriptEntry) error {
	const q = `
		INSERT INTO transcript_entries (session_id, speaker, text, timestamp)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, sessionID, entry.Speaker, entry.Text, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// Recent implements Store. Entries come back chronologically, oldest first.
func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]live.TranscriptEntry, error) {
	q := `
		SELECT speaker, text, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY timestamp DESC`
	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (live.TranscriptEntry, error) {
		var e live.TranscriptEntry
		if err := row.Scan(&e.Speaker, &e.Text, &e.Timestamp); err != nil {
			return live.TranscriptEntry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}

	// Reverse to oldest-first to match MemoryStore ordering.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if entries == nil {
		entries = []live.TranscriptEntry{}
	}
	return entries, nil
}

// Ping verifies the database connection. Used by readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
