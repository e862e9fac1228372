// Package postgres provides a PostgreSQL-backed implementation of the
// conversation store.
//
// All operations share a single [pgxpool.Pool]. [New] bootstraps the schema
// via CREATE TABLE IF NOT EXISTS, so a freshly created database works without
// a separate migration step.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-ai/parley/pkg/store"
	"github.com/parley-ai/parley/pkg/turn"
)

// defaultLoadLimit bounds LoadRecentTurns when the caller passes 0.
const defaultLoadLimit = 200

const ddlTurns = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id              BIGSERIAL    PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    seq             BIGINT       NOT NULL,
    role            TEXT         NOT NULL,
    content         TEXT         NOT NULL,
    tokens          INTEGER      NOT NULL DEFAULT 0,
    audio_ref       TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_conv_seq
    ON conversation_turns (conversation_id, seq);
`

const ddlSummaries = `
CREATE TABLE IF NOT EXISTS conversation_summaries (
    conversation_id TEXT         PRIMARY KEY,
    summary         TEXT         NOT NULL,
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Store implements store.Store on PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// New creates a Store, establishes a connection pool to the database at dsn,
// and bootstraps the schema.
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

	for _, ddl := range []string{ddlTurns, ddlSummaries} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres store: bootstrap schema: %w", err)
		}
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadRecentTurns implements store.Store. Turns are returned oldest first.
func (s *Store) LoadRecentTurns(ctx context.Context, conversationID string, limit int) ([]turn.Turn, error) {
	if limit <= 0 {
		limit = defaultLoadLimit
	}

	// Select the newest rows, then flip them back into chronological order.
	const q = `
		SELECT seq, role, content, tokens, audio_ref, created_at
		FROM   (SELECT * FROM conversation_turns
		        WHERE  conversation_id = $1
		        ORDER  BY seq DESC
		        LIMIT  $2) recent
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load recent turns: %w", err)
	}
	defer rows.Close()

	var turns []turn.Turn
	for rows.Next() {
		var (
			t         turn.Turn
			role      string
			createdAt time.Time
		)
		if err := rows.Scan(&t.Seq, &role, &t.Content, &t.Tokens, &t.AudioRef, &createdAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan turn: %w", err)
		}
		t.Role = turn.Role(role)
		t.CreatedAt = createdAt
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: load recent turns: %w", err)
	}
	return turns, nil
}

// LoadContextSummary implements store.Store.
func (s *Store) LoadContextSummary(ctx context.Context, conversationID string) (string, error) {
	const q = `SELECT summary FROM conversation_summaries WHERE conversation_id = $1`

	var summary string
	err := s.pool.QueryRow(ctx, q, conversationID).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: load context summary: %w", err)
	}
	return summary, nil
}

// SaveTurn implements store.Store.
func (s *Store) SaveTurn(ctx context.Context, conversationID string, t turn.Turn) error {
	const q = `
		INSERT INTO conversation_turns
		    (conversation_id, seq, role, content, tokens, audio_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id, seq) DO NOTHING`

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, q,
		conversationID, t.Seq, string(t.Role), t.Content, t.Tokens, t.AudioRef, createdAt)
	if err != nil {
		return fmt.Errorf("postgres store: save turn: %w", err)
	}
	return nil
}

// SaveContextSummary implements store.Store. The summary upsert and the
// deletion of folded turns run in one transaction so a crash cannot leave the
// durable log claiming turns that the summary already covers.
func (s *Store) SaveContextSummary(ctx context.Context, conversationID string, summary string, throughSeq uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO conversation_summaries (conversation_id, summary, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (conversation_id)
		DO UPDATE SET summary = EXCLUDED.summary, updated_at = now()`
	if _, err := tx.Exec(ctx, upsert, conversationID, summary); err != nil {
		return fmt.Errorf("postgres store: save context summary: %w", err)
	}

	const del = `
		DELETE FROM conversation_turns
		WHERE conversation_id = $1 AND seq <= $2`
	if _, err := tx.Exec(ctx, del, conversationID, throughSeq); err != nil {
		return fmt.Errorf("postgres store: delete folded turns: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}
