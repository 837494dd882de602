// Package store archives finished turns in PostgreSQL so a task can be
// audited after the fact.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
        CREATE TABLE IF NOT EXISTS agent_turns (
            task_id      TEXT        NOT NULL,
            turn         INTEGER     NOT NULL,
            reasoning    TEXT        NOT NULL DEFAULT '',
            messages     JSONB       NOT NULL DEFAULT '[]',
            actions      JSONB       NOT NULL DEFAULT '[]',
            executed     INTEGER     NOT NULL DEFAULT 0,
            outcome      TEXT        NOT NULL,
            error_code   TEXT        NOT NULL DEFAULT '',
            error        TEXT        NOT NULL DEFAULT '',
            started_at   TIMESTAMPTZ NOT NULL,
            completed_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (task_id, turn)
        );
    `

const insertTurnSQL = `
        INSERT INTO agent_turns (task_id, turn, reasoning, messages, actions, executed, outcome, error_code, error, started_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (task_id, turn) DO UPDATE SET
            reasoning = EXCLUDED.reasoning,
            messages = EXCLUDED.messages,
            actions = EXCLUDED.actions,
            executed = EXCLUDED.executed,
            outcome = EXCLUDED.outcome,
            error_code = EXCLUDED.error_code,
            error = EXCLUDED.error,
            completed_at = EXCLUDED.completed_at;
    `

const selectTurnsSQL = `
        SELECT turn, reasoning, messages, actions, executed, outcome, error_code, error, started_at, completed_at
        FROM agent_turns
        WHERE task_id = $1
        ORDER BY turn ASC;
    `

// Store is the PostgreSQL turn archive.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Open builds a pgx pool from cfg, verifies it and ensures the schema. The
// returned cleanup closes the pool.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Store, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	cleanup := func() {
		s.log.Debug("Closing PostgreSQL connection pool.")
		pool.Close()
	}
	return s, cleanup, nil
}

// EnsureSchema creates the archive table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create agent_turns table: %w", err)
	}
	return nil
}

// RecordTurn upserts one turn. Re-recording a turn replaces its outcome.
func (s *Store) RecordTurn(ctx context.Context, rec schemas.TurnRecord) error {
	messages, err := jsonArray(rec.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	actions, err := jsonArray(rec.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	_, err = s.pool.Exec(ctx, insertTurnSQL,
		rec.TaskID, rec.Turn, rec.Reasoning,
		messages, actions,
		rec.Executed, string(rec.Outcome), rec.ErrorCode, rec.Error,
		rec.StartedAt.UTC(), rec.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn %d of task %s: %w", rec.Turn, rec.TaskID, err)
	}
	s.log.Debug("Turn recorded", zap.String("task_id", rec.TaskID), zap.Int("turn", rec.Turn), zap.String("outcome", string(rec.Outcome)))
	return nil
}

// TurnsByTask returns the archived turns of a task in order.
func (s *Store) TurnsByTask(ctx context.Context, taskID string) ([]schemas.TurnRecord, error) {
	rows, err := s.pool.Query(ctx, selectTurnsSQL, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []schemas.TurnRecord
	for rows.Next() {
		rec := schemas.TurnRecord{TaskID: taskID}
		var outcome string
		var messages, actions []byte
		if err := rows.Scan(
			&rec.Turn, &rec.Reasoning, &messages, &actions,
			&rec.Executed, &outcome, &rec.ErrorCode, &rec.Error,
			&rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		rec.Outcome = schemas.TurnOutcome(outcome)
		if err := json.Unmarshal(messages, &rec.Messages); err != nil {
			return nil, fmt.Errorf("turn %d: failed to decode messages: %w", rec.Turn, err)
		}
		if err := json.Unmarshal(actions, &rec.Actions); err != nil {
			return nil, fmt.Errorf("turn %d: failed to decode actions: %w", rec.Turn, err)
		}
		turns = append(turns, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return turns, nil
}

// jsonArray encodes a slice, writing [] rather than null for an empty one.
func jsonArray[T any](items []T) ([]byte, error) {
	if len(items) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}
