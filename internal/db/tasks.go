package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Task struct {
	ID        string
	JobID     string
	Position  int
	Title     string
	Status    string
	Error     sql.NullString
	CreatedAt time.Time
}

// ListTasksByJob returns the job's tasks in execution order.
func (db *DB) ListTasksByJob(ctx context.Context, jobID string) ([]*Task, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, job_id, position, title, status, error, created_at
		 FROM tasks WHERE job_id = $1 ORDER BY position ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.JobID, &t.Position, &t.Title, &t.Status, &t.Error, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdateTaskStatus(ctx context.Context, id, status string) error {
	_, err := db.ExecContext(ctx, "UPDATE tasks SET status = $2 WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (db *DB) FailTask(ctx context.Context, id, errMsg string) error {
	_, err := db.ExecContext(ctx, "UPDATE tasks SET status = 'error', error = $2 WHERE id = $1", id, errMsg)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}
