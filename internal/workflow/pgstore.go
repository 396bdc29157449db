package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/discoflow/discoflow/model"
)

// PgRunStore is a PostgreSQL-backed RunStore using pgx/v5. It expects a
// workflow_runs table:
//
//	CREATE TABLE workflow_runs (
//	    id          TEXT PRIMARY KEY,
//	    workflow    TEXT NOT NULL,
//	    checksum    TEXT NOT NULL DEFAULT '',
//	    status      TEXT NOT NULL,
//	    error       TEXT NOT NULL DEFAULT '',
//	    tasks       INT NOT NULL DEFAULT 0,
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    finished_at TIMESTAMPTZ
//	);
type PgRunStore struct {
	pool *pgxpool.Pool
}

// NewPgRunStore creates a PostgreSQL run store on the given pool.
func NewPgRunStore(pool *pgxpool.Pool) *PgRunStore {
	return &PgRunStore{pool: pool}
}

// Begin inserts a new run record.
func (s *PgRunStore) Begin(ctx context.Context, rec model.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (
			id, workflow, checksum, status, error, tasks, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Workflow, rec.Checksum, rec.Status, rec.Error,
		rec.Tasks, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// Finish finalizes a run with its terminal status.
func (s *PgRunStore) Finish(ctx context.Context, runID, status, errMsg string, finishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_runs SET status = $1, error = $2, finished_at = $3
		WHERE id = $4`,
		status, errMsg, finishedAt, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Get retrieves a single run record by ID.
func (s *PgRunStore) Get(ctx context.Context, runID string) (model.RunRecord, error) {
	var rec model.RunRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow, checksum, status, error, tasks, started_at, finished_at
		FROM workflow_runs
		WHERE id = $1`,
		runID,
	).Scan(
		&rec.ID, &rec.Workflow, &rec.Checksum, &rec.Status, &rec.Error,
		&rec.Tasks, &rec.StartedAt, &rec.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("query run record: %w", err)
	}
	return rec, nil
}

// Recent returns run records newest first.
func (s *PgRunStore) Recent(ctx context.Context, workflow string, limit int) ([]model.RunRecord, error) {
	query := `SELECT id, workflow, checksum, status, error, tasks, started_at, finished_at
	          FROM workflow_runs`
	args := []any{}
	argIdx := 1

	if workflow != "" {
		query += fmt.Sprintf(" WHERE workflow = $%d", argIdx)
		args = append(args, workflow)
		argIdx++
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run records: %w", err)
	}
	defer rows.Close()

	var records []model.RunRecord
	for rows.Next() {
		var rec model.RunRecord
		if err := rows.Scan(
			&rec.ID, &rec.Workflow, &rec.Checksum, &rec.Status, &rec.Error,
			&rec.Tasks, &rec.StartedAt, &rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Purge removes finished runs that started before the cutoff.
func (s *PgRunStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM workflow_runs
		WHERE status <> $1 AND started_at < $2`,
		model.RunStatusRunning, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge run records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
