package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Sandbox struct {
	SessionID      string
	ProjectID      string
	Status         string
	ServicesMode   string
	Address        sql.NullString
	ResourceRef    sql.NullString
	LastError      sql.NullString
	CreatedAt      time.Time
	LastActivityAt time.Time
	DestroyedAt    sql.NullTime
}

const sandboxColumns = `session_id, project_id, status, services_mode, address, resource_ref, last_error, created_at, last_activity_at, destroyed_at`

func scanSandbox(row interface{ Scan(...any) error }) (*Sandbox, error) {
	s := &Sandbox{}
	err := row.Scan(&s.SessionID, &s.ProjectID, &s.Status, &s.ServicesMode, &s.Address, &s.ResourceRef, &s.LastError, &s.CreatedAt, &s.LastActivityAt, &s.DestroyedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpsertSandbox inserts a new sandbox row for a session, replacing a destroyed
// or errored tombstone if one exists. The caller must have verified there is no
// live sandbox for the session.
func (db *DB) UpsertSandbox(ctx context.Context, sessionID, projectID, status, servicesMode string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sandboxes (session_id, project_id, status, services_mode, last_activity_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (session_id) DO UPDATE SET
		   project_id = EXCLUDED.project_id,
		   status = EXCLUDED.status,
		   services_mode = EXCLUDED.services_mode,
		   address = NULL,
		   resource_ref = NULL,
		   last_error = NULL,
		   created_at = NOW(),
		   last_activity_at = NOW(),
		   destroyed_at = NULL`,
		sessionID, projectID, status, servicesMode,
	)
	if err != nil {
		return fmt.Errorf("upsert sandbox: %w", err)
	}
	return nil
}

func (db *DB) GetSandbox(ctx context.Context, sessionID string) (*Sandbox, error) {
	s, err := scanSandbox(db.QueryRowContext(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes WHERE session_id = $1`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sandbox: %w", err)
	}
	return s, nil
}

func (db *DB) ListSandboxesByProject(ctx context.Context, projectID string) ([]*Sandbox, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes WHERE project_id = $1 ORDER BY created_at ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	defer rows.Close()

	var sandboxes []*Sandbox
	for rows.Next() {
		s, err := scanSandbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sandbox: %w", err)
		}
		sandboxes = append(sandboxes, s)
	}
	return sandboxes, rows.Err()
}

func (db *DB) UpdateSandboxStatus(ctx context.Context, sessionID, status string) error {
	_, err := db.ExecContext(ctx, "UPDATE sandboxes SET status = $2 WHERE session_id = $1", sessionID, status)
	if err != nil {
		return fmt.Errorf("update sandbox status: %w", err)
	}
	return nil
}

// MarkSandboxRunning records a successful boot: address, resource handle and
// the running status in one write. The update only lands on a row still in
// provisioning, so a destroy that raced the boot keeps its tombstone.
func (db *DB) MarkSandboxRunning(ctx context.Context, sessionID, address, resourceRef string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sandboxes SET status = 'running', address = $2, resource_ref = $3, last_error = NULL, last_activity_at = NOW()
		 WHERE session_id = $1 AND status = 'provisioning'`,
		sessionID, address, resourceRef,
	)
	if err != nil {
		return fmt.Errorf("mark sandbox running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark sandbox running: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sandbox for session %s is no longer provisioning", sessionID)
	}
	return nil
}

func (db *DB) MarkSandboxError(ctx context.Context, sessionID, msg string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sandboxes SET status = 'error', address = NULL, last_error = $2 WHERE session_id = $1`,
		sessionID, msg,
	)
	if err != nil {
		return fmt.Errorf("mark sandbox error: %w", err)
	}
	return nil
}

// MarkSandboxDestroyed leaves the row behind as a tombstone.
func (db *DB) MarkSandboxDestroyed(ctx context.Context, sessionID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sandboxes SET status = 'destroyed', address = NULL, destroyed_at = NOW() WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark sandbox destroyed: %w", err)
	}
	return nil
}

func (db *DB) UpdateSandboxActivity(ctx context.Context, sessionID string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE sandboxes SET last_activity_at = GREATEST(last_activity_at, NOW()) WHERE session_id = $1",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("update sandbox activity: %w", err)
	}
	return nil
}

func (db *DB) ListIdleSandboxes(ctx context.Context, idleTimeout time.Duration) ([]*Sandbox, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes
		 WHERE status = 'running' AND last_activity_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(idleTimeout.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("list idle sandboxes: %w", err)
	}
	defer rows.Close()

	var sandboxes []*Sandbox
	for rows.Next() {
		s, err := scanSandbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle sandbox: %w", err)
		}
		sandboxes = append(sandboxes, s)
	}
	return sandboxes, rows.Err()
}

// ListActiveResourceRefs returns runtime handles for every non-destroyed
// sandbox, used on startup to avoid reaping resources that are still tracked.
func (db *DB) ListActiveResourceRefs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT resource_ref FROM sandboxes WHERE resource_ref IS NOT NULL AND status NOT IN ('destroyed', 'error')`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active resource refs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan resource ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
