package notify

import "log"

// Notification templates.
const (
	TemplateJobCompleted = "job-completed"
	TemplateJobFailed    = "job-failed"
)

// Notifier delivers fire-and-forget notifications. Delivery is never awaited
// and failures never propagate to the caller.
type Notifier interface {
	Notify(recipient, template string, data map[string]any)
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(string, string, map[string]any) {}

// Log writes notifications to the process log, for deployments without an
// outbound mail service configured.
type Log struct{}

func (Log) Notify(recipient, template string, data map[string]any) {
	log.Printf("notify %s: %s %v", recipient, template, data)
}
