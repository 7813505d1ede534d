package cleanup

import (
	"context"
	"log"
	"time"

	"github.com/sandboxd/sandboxd/internal/metrics"
	"github.com/sandboxd/sandboxd/internal/registry"
)

// Lister finds idle sandboxes. Implemented by *registry.Store.
type Lister interface {
	ListIdle(ctx context.Context, threshold time.Duration) ([]*registry.Sandbox, error)
}

// Destroyer tears down a session's sandbox. Implemented by *sandbox.Manager;
// destroy is idempotent so racing a manual destroy is harmless.
type Destroyer interface {
	Destroy(ctx context.Context, sessionID string) error
}

// Scheduler periodically destroys sandboxes that have been idle past the
// threshold, recovering their resources.
type Scheduler struct {
	lister    Lister
	destroyer Destroyer
	interval  time.Duration
	threshold time.Duration
}

func NewScheduler(lister Lister, destroyer Destroyer, interval, threshold time.Duration) *Scheduler {
	if interval == 0 {
		interval = time.Minute
	}
	return &Scheduler{
		lister:    lister,
		destroyer: destroyer,
		interval:  interval,
		threshold: threshold,
	}
}

// Run blocks until ctx ends, sweeping on a fixed interval.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("cleanup scheduler: sweeping every %s, idle threshold %s", s.interval, s.threshold)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("cleanup scheduler: stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep destroys every idle sandbox. One failure never blocks the rest; the
// number destroyed is returned.
func (s *Scheduler) Sweep(ctx context.Context) int {
	sandboxes, err := s.lister.ListIdle(ctx, s.threshold)
	if err != nil {
		log.Printf("cleanup scheduler: failed to list idle sandboxes: %v", err)
		return 0
	}

	destroyed := 0
	for _, sb := range sandboxes {
		log.Printf("cleanup scheduler: destroying idle sandbox for session %s (last activity %s)",
			sb.SessionID, sb.LastActivityAt.Format(time.RFC3339))
		if err := s.destroyer.Destroy(ctx, sb.SessionID); err != nil {
			log.Printf("cleanup scheduler: failed to destroy sandbox for session %s: %v", sb.SessionID, err)
			continue
		}
		metrics.IncSandboxesReaped()
		destroyed++
	}
	return destroyed
}
