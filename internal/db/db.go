// Package db provides PostgreSQL storage for lookup runs and their results.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/customs-lookup/internal/types"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS lookup_runs (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	source       TEXT NOT NULL,
	declarations INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS lookup_results (
	declaration TEXT PRIMARY KEY,
	run_id      UUID REFERENCES lookup_runs(id) ON DELETE SET NULL,
	lane        TEXT NOT NULL DEFAULT '',
	fields      JSONB NOT NULL,
	looked_up_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// EnsureSchema creates the lookup tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateRun records the start of a batch and returns its ID
func (db *DB) CreateRun(ctx context.Context, source string, declarations int) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO lookup_runs (source, declarations, status)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		source, declarations, RunStatusRunning,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// CompleteRun marks a batch as finished with the given status
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE lookup_runs SET status = $1, completed_at = NOW() WHERE id = $2`,
		status, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// UpsertResult stores the result fields of one declaration, replacing an earlier lookup of the same number.
func (db *DB) UpsertResult(ctx context.Context, runID uuid.UUID, declaration string, fields map[string]string) error {
	jsonBytes, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	var run any
	if runID != uuid.Nil {
		run = runID
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO lookup_results (declaration, run_id, lane, fields)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (declaration) DO UPDATE SET run_id = $2, lane = $3, fields = $4, looked_up_at = NOW()`,
		declaration, run, fields[LaneField], jsonBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to save result %s: %w", declaration, err)
	}
	return nil
}

// GetResult retrieves the latest result for a declaration, or nil if it was never looked up
func (db *DB) GetResult(ctx context.Context, declaration string) (*Result, error) {
	var r Result
	var fieldsJSON []byte
	var runID *uuid.UUID
	err := db.pool.QueryRow(ctx,
		`SELECT declaration, run_id, lane, fields, looked_up_at
		 FROM lookup_results WHERE declaration = $1`,
		declaration,
	).Scan(&r.Declaration, &runID, &r.Lane, &fieldsJSON, &r.LookedUpAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if runID != nil {
		r.RunID = *runID
	}
	if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode result fields: %w", err)
	}
	return &r, nil
}

// ListResults retrieves the results of one run, or the most recent results when runID is nil
func (db *DB) ListResults(ctx context.Context, runID uuid.UUID, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT declaration, run_id, lane, fields, looked_up_at FROM lookup_results`
	args := []any{}
	if runID != uuid.Nil {
		query += ` WHERE run_id = $1 ORDER BY looked_up_at DESC LIMIT $2`
		args = append(args, runID, limit)
	} else {
		query += ` ORDER BY looked_up_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var fieldsJSON []byte
		var run *uuid.UUID
		if err := rows.Scan(&r.Declaration, &run, &r.Lane, &fieldsJSON, &r.LookedUpAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if run != nil {
			r.RunID = *run
		}
		_ = json.Unmarshal(fieldsJSON, &r.Fields)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ResultStore binds a DB to one run so it can serve as a result sink.
type ResultStore struct {
	db    *DB
	runID uuid.UUID
}

// Results returns a result sink that tags every row with runID.
func (db *DB) Results(runID uuid.UUID) *ResultStore {
	return &ResultStore{db: db, runID: runID}
}

// SaveResult implements sink.Store.
func (s *ResultStore) SaveResult(ctx context.Context, task types.DeclarationTask, fields map[string]string) error {
	return s.db.UpsertResult(ctx, s.runID, task.Number, fields)
}
