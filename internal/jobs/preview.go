package jobs

import (
	"context"
	"fmt"

	"github.com/sandboxd/sandboxd/internal/db"
)

// handlePreviewCleanup recovers the resources of a finished preview session by
// destroying its sandbox. Destroy is idempotent, so racing a manual destroy is
// harmless.
func (c *Coordinator) handlePreviewCleanup(ctx context.Context, job *db.Job) error {
	if err := c.sandboxes.Destroy(ctx, job.SessionID); err != nil {
		return fmt.Errorf("destroy preview sandbox: %w", err)
	}
	return nil
}
