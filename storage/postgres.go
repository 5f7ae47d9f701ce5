package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/songzhibin97/flownet/internal/value"
	"github.com/songzhibin97/flownet/types"
	"github.com/songzhibin97/flownet/workflow"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint failure.
const uniqueViolation = "23505"

// maxVersionAttempts bounds the retries when concurrent writers race for the
// same definition version.
const maxVersionAttempts = 5

// PostgresStorage is a PostgreSQL-backed implementation of the Storage interface.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage opens a connection pool for dsn and verifies it.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// Migrate creates the storage tables if they do not exist.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS definitions (
    name        TEXT NOT NULL,
    version     INTEGER NOT NULL,
    definition  JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS executions (
    id          BIGINT PRIMARY KEY,
    parent_id   BIGINT NOT NULL DEFAULT 0,
    workflow    TEXT NOT NULL,
    state       TEXT NOT NULL,
    checkpoint  JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS execution_variables (
    execution_id BIGINT NOT NULL,
    name         TEXT NOT NULL,
    value        JSONB NOT NULL,
    PRIMARY KEY (execution_id, name)
);

CREATE INDEX IF NOT EXISTS idx_executions_parent_id ON executions(parent_id);
`

// SaveDefinition stores def as the next version of its name. A concurrent
// writer taking the same version makes the insert fail on the primary key,
// in which case the next version is tried.
func (s *PostgresStorage) SaveDefinition(ctx context.Context, def types.Definition) (int, error) {
	var lastErr error
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		version, err := s.insertDefinition(ctx, def)
		if err == nil {
			return version, nil
		}
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("save definition %s: %w", def.Name, lastErr)
}

func (s *PostgresStorage) insertDefinition(ctx context.Context, def types.Definition) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM definitions WHERE name = $1`,
		def.Name,
	).Scan(&def.Version); err != nil {
		return 0, fmt.Errorf("next version of %s: %w", def.Name, err)
	}

	data, err := json.Marshal(def)
	if err != nil {
		return 0, fmt.Errorf("marshal definition %s: %w", def.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO definitions (name, version, definition) VALUES ($1, $2, $3)`,
		def.Name, def.Version, data,
	); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit definition %s: %w", def.Name, err)
	}
	return def.Version, nil
}

// GetDefinition retrieves a definition. Version 0 selects the latest version.
func (s *PostgresStorage) GetDefinition(ctx context.Context, name string, version int) (types.Definition, error) {
	var data []byte
	var err error
	if version == 0 {
		err = s.db.QueryRowContext(ctx,
			`SELECT definition FROM definitions WHERE name = $1 ORDER BY version DESC LIMIT 1`,
			name,
		).Scan(&data)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT definition FROM definitions WHERE name = $1 AND version = $2`,
			name, version,
		).Scan(&data)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.Definition{}, fmt.Errorf("%w: %s version %d", ErrDefinitionNotFound, name, version)
	} else if err != nil {
		return types.Definition{}, fmt.Errorf("get definition %s: %w", name, err)
	}

	var def types.Definition
	if err := decodeJSON(data, &def); err != nil {
		return types.Definition{}, fmt.Errorf("unmarshal definition %s: %w", name, err)
	}
	return def, nil
}

// SaveExecution upserts an execution checkpoint.
func (s *PostgresStorage) SaveExecution(ctx context.Context, st types.ExecutionState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal execution %d: %w", st.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, parent_id, workflow, state, checkpoint, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, checkpoint = EXCLUDED.checkpoint, updated_at = NOW()`,
		int64(st.ID), int64(st.ParentID), st.Workflow, st.State, data,
	)
	if err != nil {
		return fmt.Errorf("save execution %d: %w", st.ID, err)
	}
	return nil
}

// GetExecution retrieves an execution checkpoint by ID.
func (s *PostgresStorage) GetExecution(ctx context.Context, id uint64) (types.ExecutionState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint FROM executions WHERE id = $1`, int64(id),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ExecutionState{}, fmt.Errorf("%w: id=%d", ErrExecutionNotFound, id)
	} else if err != nil {
		return types.ExecutionState{}, fmt.Errorf("get execution %d: %w", id, err)
	}

	var st types.ExecutionState
	if err := decodeJSON(data, &st); err != nil {
		return types.ExecutionState{}, fmt.Errorf("unmarshal execution %d: %w", id, err)
	}
	return st, nil
}

// DeleteExecution removes an execution checkpoint.
func (s *PostgresStorage) DeleteExecution(ctx context.Context, id uint64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = $1`, int64(id)); err != nil {
		return fmt.Errorf("delete execution %d: %w", id, err)
	}
	return nil
}

// VariableHandler returns a handler keeping variables in the
// execution_variables table.
func (s *PostgresStorage) VariableHandler() workflow.VariableHandler {
	return postgresVariables{db: s.db}
}

type postgresVariables struct {
	db *sql.DB
}

func (h postgresVariables) Load(ctx context.Context, e *workflow.Execution, name string) (interface{}, error) {
	var data []byte
	err := h.db.QueryRowContext(ctx,
		`SELECT value FROM execution_variables WHERE execution_id = $1 AND name = $2`,
		int64(e.ID()), name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("load variable %s: %w", name, err)
	}
	var v interface{}
	if err := decodeJSON(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal variable %s: %w", name, err)
	}
	return value.Normalize(v), nil
}

func (h postgresVariables) Save(ctx context.Context, e *workflow.Execution, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal variable %s: %w", name, err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO execution_variables (execution_id, name, value) VALUES ($1, $2, $3)
		 ON CONFLICT (execution_id, name) DO UPDATE SET value = EXCLUDED.value`,
		int64(e.ID()), name, data,
	)
	if err != nil {
		return fmt.Errorf("save variable %s: %w", name, err)
	}
	return nil
}
