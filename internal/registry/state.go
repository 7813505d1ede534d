package registry

// Status constants for the sandbox lifecycle.
const (
	StatusProvisioning = "provisioning"
	StatusRunning      = "running"
	StatusStopped      = "stopped"
	StatusError        = "error"
	StatusDestroyed    = "destroyed"
)

// ValidTransition checks whether a status transition is allowed.
func ValidTransition(from, to string) bool {
	switch from {
	case StatusProvisioning:
		return to == StatusRunning || to == StatusError || to == StatusDestroyed
	case StatusRunning:
		return to == StatusStopped || to == StatusError || to == StatusDestroyed
	case StatusStopped:
		return to == StatusDestroyed
	case StatusError:
		return to == StatusDestroyed
	default:
		return false
	}
}

// Live reports whether a sandbox in this status holds (or is acquiring)
// runtime resources.
func Live(status string) bool {
	return status == StatusProvisioning || status == StatusRunning
}
