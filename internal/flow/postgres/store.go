// Package postgres persists compiled agent flows and session records in
// PostgreSQL. The schema is intentionally minimal: the step/slot sequence
// needed to drive the pipeline plus a per-session audit row; everything else
// about the platform lives outside this core.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxwire/voxwire/internal/flow"
)

const ddl = `
CREATE TABLE IF NOT EXISTS flow_steps (
    agent_id   TEXT        NOT NULL,
    step_index INT         NOT NULL,
    step_text  TEXT        NOT NULL,
    slots      JSONB       NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (agent_id, step_index)
);

CREATE TABLE IF NOT EXISTS flow_scripts (
    agent_id   TEXT        PRIMARY KEY,
    script     TEXT        NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_records (
    session_id      TEXT        PRIMARY KEY,
    agent_id        TEXT        NOT NULL DEFAULT '',
    language        TEXT        NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ NOT NULL,
    ended_at        TIMESTAMPTZ,
    turns           INT         NOT NULL DEFAULT 0,
    expired         BOOLEAN     NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_session_records_agent
    ON session_records (agent_id, started_at);
`

// SessionRecord is the minimal audit row written per conversation session.
type SessionRecord struct {
	SessionID string
	AgentID   string
	Language  string
	StartedAt time.Time
	EndedAt   time.Time
	Turns     int
	Expired   bool
}

// Store is the PostgreSQL-backed flow and session store. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// runs the idempotent schema migration.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("flow store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("flow store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("flow store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ReplaceFlow atomically replaces the agent's entire compiled step sequence
// and the script it was compiled from. A partially written flow is never
// observable: the delete and inserts share one transaction.
func (s *Store) ReplaceFlow(ctx context.Context, agentID, script string, steps []flow.Step) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("flow store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM flow_steps WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("flow store: clear steps: %w", err)
	}
	for _, step := range steps {
		slots, err := json.Marshal(step.Slots)
		if err != nil {
			return fmt.Errorf("flow store: encode slots: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO flow_steps (agent_id, step_index, step_text, slots, updated_at)
			 VALUES ($1, $2, $3, $4, now())`,
			agentID, step.Index, step.Text, slots)
		if err != nil {
			return fmt.Errorf("flow store: insert step %d: %w", step.Index, err)
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO flow_scripts (agent_id, script, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (agent_id) DO UPDATE SET script = EXCLUDED.script, updated_at = now()`,
		agentID, script)
	if err != nil {
		return fmt.Errorf("flow store: upsert script: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("flow store: commit: %w", err)
	}
	return nil
}

// LoadFlow returns the agent's compiled steps ordered by index. A missing
// agent yields an empty slice, mirroring the compiler's zero-detection result.
func (s *Store) LoadFlow(ctx context.Context, agentID string) ([]flow.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT step_index, step_text, slots FROM flow_steps
		 WHERE agent_id = $1 ORDER BY step_index`, agentID)
	if err != nil {
		return nil, fmt.Errorf("flow store: query steps: %w", err)
	}
	defer rows.Close()

	var steps []flow.Step
	for rows.Next() {
		var (
			step  flow.Step
			slots []byte
		)
		if err := rows.Scan(&step.Index, &step.Text, &slots); err != nil {
			return nil, fmt.Errorf("flow store: scan step: %w", err)
		}
		if err := json.Unmarshal(slots, &step.Slots); err != nil {
			return nil, fmt.Errorf("flow store: decode slots: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow store: iterate steps: %w", err)
	}
	return steps, nil
}

// RecordSessionStart inserts the audit row for a newly started session.
func (s *Store) RecordSessionStart(ctx context.Context, rec SessionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_records (session_id, agent_id, language, started_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.AgentID, rec.Language, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("flow store: record session start: %w", err)
	}
	return nil
}

// RecordSessionEnd finalizes a session's audit row.
func (s *Store) RecordSessionEnd(ctx context.Context, sessionID string, endedAt time.Time, turns int, expired bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE session_records SET ended_at = $2, turns = $3, expired = $4
		 WHERE session_id = $1`,
		sessionID, endedAt, turns, expired)
	if err != nil {
		return fmt.Errorf("flow store: record session end: %w", err)
	}
	return nil
}
