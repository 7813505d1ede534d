package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the sandbox exists but is not running or is
	// unreachable. Callers should create a sandbox (or tell the user to).
	ErrUnavailable = errors.New("sandbox not running")

	// ErrNotFound means the target file, session or record does not exist.
	ErrNotFound = errors.New("not found")
)

// ProvisioningError wraps a runtime failure to create or boot a sandbox.
// Fatal to the triggering call; never retried automatically.
type ProvisioningError struct {
	SessionID string
	Err       error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning sandbox for session %s: %v", e.SessionID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// OperationFailed reports a proxied operation (git revert, file write, task
// run) that failed while leaving the sandbox's prior state intact. The caller
// decides whether to retry.
type OperationFailed struct {
	Op     string
	Detail string
}

func (e *OperationFailed) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Detail)
}
