package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Job struct {
	ID           string
	SessionID    string
	ProjectID    string
	Kind         string
	Status       string
	CurrentStep  sql.NullString
	StartCommit  sql.NullString
	Payload      []byte
	Error        sql.NullString
	RestartCount int
	ParentJobID  sql.NullString
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}

const jobColumns = `id, session_id, project_id, kind, status, current_step, start_commit, payload, error, restart_count, parent_job_id, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	err := row.Scan(&j.ID, &j.SessionID, &j.ProjectID, &j.Kind, &j.Status, &j.CurrentStep, &j.StartCommit, &j.Payload, &j.Error, &j.RestartCount, &j.ParentJobID, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// CreateJob inserts a pending job together with its ordered tasks in one
// transaction.
func (db *DB) CreateJob(ctx context.Context, j *Job, taskTitles []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, session_id, project_id, kind, status, start_commit, payload, restart_count, parent_job_id)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8)`,
		j.ID, j.SessionID, j.ProjectID, j.Kind, j.StartCommit, j.Payload, j.RestartCount, j.ParentJobID,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for i, title := range taskTitles {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, job_id, position, title, status) VALUES ($1, $2, $3, $4, 'todo')`,
			fmt.Sprintf("%s-%d", j.ID, i), j.ID, i, title,
		)
		if err != nil {
			return fmt.Errorf("insert task %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job: %w", err)
	}
	return nil
}

func (db *DB) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (db *DB) ListJobsBySession(ctx context.Context, sessionID string) ([]*Job, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically picks the oldest pending job of the given kind and marks
// it running. SKIP LOCKED keeps concurrent claimers from blocking on each
// other. Returns nil when there is nothing to do.
func (db *DB) ClaimJob(ctx context.Context, kind string) (*Job, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs
		 WHERE kind = $1 AND status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		kind,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending job: %w", err)
	}

	j, err := scanJob(tx.QueryRowContext(ctx,
		`UPDATE jobs SET status = 'running', started_at = NOW() WHERE id = $1 RETURNING `+jobColumns,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return j, nil
}

func (db *DB) UpdateJobStep(ctx context.Context, id, step string) error {
	_, err := db.ExecContext(ctx, "UPDATE jobs SET current_step = $2 WHERE id = $1", id, step)
	if err != nil {
		return fmt.Errorf("update job step: %w", err)
	}
	return nil
}

func (db *DB) CompleteJob(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE jobs SET status = 'completed', completed_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (db *DB) FailJob(ctx context.Context, id, errMsg string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE jobs SET status = 'failed', error = $2, completed_at = NOW() WHERE id = $1", id, errMsg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// CancelJob cancels a pending or running job. Terminal jobs are left alone.
func (db *DB) CancelJob(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}
