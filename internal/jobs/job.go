package jobs

import (
	"encoding/json"

	"github.com/sandboxd/sandboxd/internal/db"
)

// Job kinds, one worker role each.
const (
	KindPlan           = "plan"
	KindBuild          = "build"
	KindSubmit         = "submit"
	KindDeploy         = "deploy"
	KindPreviewCleanup = "preview_cleanup"
)

// Kinds returns every job kind in worker start order.
func Kinds() []string {
	return []string{KindPlan, KindBuild, KindSubmit, KindDeploy, KindPreviewCleanup}
}

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Task statuses.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskError      = "error"
	TaskCancelled  = "cancelled"
)

// DeriveStatus normalizes a job's effective status from its stored fields. A
// job that crashed mid-update can be left with a recorded error or a
// completion timestamp that disagrees with its stored status; the derived
// status is authoritative on every read path:
//   - error recorded            -> failed
//   - completedAt set while the stored status is still pending/running -> failed
//   - otherwise                 -> stored status
func DeriveStatus(j *db.Job) string {
	if j.Error.Valid && j.Error.String != "" {
		return StatusFailed
	}
	if j.CompletedAt.Valid && (j.Status == StatusPending || j.Status == StatusRunning) {
		return StatusFailed
	}
	return j.Status
}

// Terminal reports whether a derived status admits no further transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// Payload carries kind-specific parameters for a job.
type Payload struct {
	// plan
	Prompt string `json:"prompt,omitempty"`
	Cwd    string `json:"cwd,omitempty"`
	Resume bool   `json:"resume,omitempty"`

	// submit
	Repo          string `json:"repo,omitempty"`
	Branch        string `json:"branch,omitempty"`
	BaseBranch    string `json:"baseBranch,omitempty"`
	PRTitle       string `json:"prTitle,omitempty"`
	CommitMessage string `json:"commitMessage,omitempty"`

	// deploy
	DeployConfigPath string          `json:"deployConfigPath,omitempty"`
	DeployConfig     json.RawMessage `json:"deployConfig,omitempty"`
	DeployHookURL    string          `json:"deployHookURL,omitempty"`
}

// ParsePayload decodes a job row's payload. An empty payload is valid.
func ParsePayload(j *db.Job) (Payload, error) {
	var p Payload
	if len(j.Payload) == 0 {
		return p, nil
	}
	err := json.Unmarshal(j.Payload, &p)
	return p, err
}
