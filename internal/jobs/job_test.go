package jobs

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/db"
)

func TestDeriveStatus(t *testing.T) {
	now := sql.NullTime{Time: time.Now(), Valid: true}
	tests := []struct {
		name string
		job  db.Job
		want string
	}{
		{"pending", db.Job{Status: StatusPending}, StatusPending},
		{"running", db.Job{Status: StatusRunning}, StatusRunning},
		{"completed", db.Job{Status: StatusCompleted, CompletedAt: now}, StatusCompleted},
		{"cancelled", db.Job{Status: StatusCancelled, CompletedAt: now}, StatusCancelled},
		{"failed", db.Job{Status: StatusFailed, CompletedAt: now}, StatusFailed},

		// A recorded error always wins, whatever the stored status says.
		{"error while running", db.Job{Status: StatusRunning, Error: sql.NullString{String: "boom", Valid: true}}, StatusFailed},
		{"error while completed", db.Job{Status: StatusCompleted, Error: sql.NullString{String: "boom", Valid: true}, CompletedAt: now}, StatusFailed},

		// A completion timestamp on a non-terminal status means the worker
		// died mid-update.
		{"completed timestamp while pending", db.Job{Status: StatusPending, CompletedAt: now}, StatusFailed},
		{"completed timestamp while running", db.Job{Status: StatusRunning, CompletedAt: now}, StatusFailed},

		{"empty error string ignored", db.Job{Status: StatusRunning, Error: sql.NullString{String: "", Valid: true}}, StatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(&tt.job))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, Terminal(StatusPending))
	assert.False(t, Terminal(StatusRunning))
	assert.True(t, Terminal(StatusCompleted))
	assert.True(t, Terminal(StatusFailed))
	assert.True(t, Terminal(StatusCancelled))
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload(&db.Job{})
	require.NoError(t, err)
	assert.Equal(t, Payload{}, p)

	p, err = ParsePayload(&db.Job{Payload: []byte(`{"prompt":"add auth","repo":"acme/app"}`)})
	require.NoError(t, err)
	assert.Equal(t, "add auth", p.Prompt)
	assert.Equal(t, "acme/app", p.Repo)

	_, err = ParsePayload(&db.Job{Payload: []byte(`{`)})
	assert.Error(t, err)
}
