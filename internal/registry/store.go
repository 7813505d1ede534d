package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sandboxd/sandboxd/internal/db"
)

// ServicesMode selects which services a sandbox runs.
const (
	ModeFull      = "full"       // agent control plane plus live dev server
	ModeAgentOnly = "agent-only" // agent/file/git control plane only
)

// Sandbox is the registry's view of one session's execution environment.
type Sandbox struct {
	SessionID      string     `json:"sessionId"`
	ProjectID      string     `json:"projectId"`
	Status         string     `json:"status"`
	ServicesMode   string     `json:"servicesMode"`
	Address        string     `json:"address,omitempty"`
	ResourceRef    string     `json:"-"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	DestroyedAt    *time.Time `json:"destroyedAt,omitempty"`
}

// Store is the durable sandbox registry backed by PostgreSQL. It is the single
// source of truth for which sandboxes exist and where they are reachable.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Get returns the registry record for a session, or nil when none exists.
func (s *Store) Get(ctx context.Context, sessionID string) (*Sandbox, error) {
	row, err := s.db.GetSandbox(ctx, sessionID)
	if err != nil || row == nil {
		return nil, err
	}
	return fromRow(row), nil
}

func (s *Store) ListByProject(ctx context.Context, projectID string) ([]*Sandbox, error) {
	rows, err := s.db.ListSandboxesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Sandbox, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *Store) ListIdle(ctx context.Context, threshold time.Duration) ([]*Sandbox, error) {
	rows, err := s.db.ListIdleSandboxes(ctx, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]*Sandbox, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// CreateProvisioning records a new sandbox in provisioning state, replacing any
// tombstone left by a previous sandbox for the session.
func (s *Store) CreateProvisioning(ctx context.Context, sessionID, projectID, servicesMode string) error {
	return s.db.UpsertSandbox(ctx, sessionID, projectID, StatusProvisioning, servicesMode)
}

func (s *Store) MarkRunning(ctx context.Context, sessionID, address, resourceRef string) error {
	return s.db.MarkSandboxRunning(ctx, sessionID, address, resourceRef)
}

// MarkStopped records an explicit stop. Only a running sandbox can be
// stopped; anything else is a caller bug.
func (s *Store) MarkStopped(ctx context.Context, sessionID string) error {
	row, err := s.db.GetSandbox(ctx, sessionID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("no sandbox for session %s", sessionID)
	}
	if !ValidTransition(row.Status, StatusStopped) {
		return fmt.Errorf("cannot stop sandbox in state %s", row.Status)
	}
	return s.db.UpdateSandboxStatus(ctx, sessionID, StatusStopped)
}

func (s *Store) MarkError(ctx context.Context, sessionID, msg string) error {
	return s.db.MarkSandboxError(ctx, sessionID, msg)
}

func (s *Store) MarkDestroyed(ctx context.Context, sessionID string) error {
	return s.db.MarkSandboxDestroyed(ctx, sessionID)
}

// Touch records activity on a sandbox. lastActivityAt never moves backwards.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	return s.db.UpdateSandboxActivity(ctx, sessionID)
}

func fromRow(r *db.Sandbox) *Sandbox {
	sb := &Sandbox{
		SessionID:      r.SessionID,
		ProjectID:      r.ProjectID,
		Status:         r.Status,
		ServicesMode:   r.ServicesMode,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
	if r.Address.Valid {
		sb.Address = r.Address.String
	}
	if r.ResourceRef.Valid {
		sb.ResourceRef = r.ResourceRef.String
	}
	if r.LastError.Valid {
		sb.LastError = r.LastError.String
	}
	if r.DestroyedAt.Valid {
		t := r.DestroyedAt.Time
		sb.DestroyedAt = &t
	}
	return sb
}
