package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/sandboxd/sandboxd/internal/db"
)

// handleBuild executes the job's tasks strictly in stored order. Tasks are
// assumed to depend on the git state left by their predecessors, so there is
// no parallelism within one job.
func (c *Coordinator) handleBuild(ctx context.Context, job *db.Job) error {
	tasks, err := c.store.ListTasksByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return fmt.Errorf("build job %s has no tasks", job.ID)
	}
	client := c.clients(job.SessionID)

	for _, task := range tasks {
		if task.Status == TaskDone {
			continue
		}
		if c.cancelled(ctx, job.ID) {
			if err := c.store.UpdateTaskStatus(ctx, task.ID, TaskCancelled); err != nil {
				log.Printf("build worker: failed to mark task %s cancelled: %v", task.ID, err)
			}
			return nil
		}

		if err := c.store.UpdateTaskStatus(ctx, task.ID, TaskInProgress); err != nil {
			return fmt.Errorf("mark task %d in progress: %w", task.Position, err)
		}
		if err := c.store.UpdateJobStep(ctx, job.ID, task.Title); err != nil {
			log.Printf("build worker: failed to record step for %s: %v", job.ID, err)
		}

		stepCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
		err := client.RunTask(stepCtx, task.Title)
		cancel()
		if err != nil {
			if ferr := c.store.FailTask(ctx, task.ID, err.Error()); ferr != nil {
				log.Printf("build worker: failed to record task failure for %s: %v", task.ID, ferr)
			}
			return fmt.Errorf("task %d (%s): %w", task.Position, task.Title, err)
		}

		if err := c.store.UpdateTaskStatus(ctx, task.ID, TaskDone); err != nil {
			return fmt.Errorf("mark task %d done: %w", task.Position, err)
		}
	}
	return nil
}
