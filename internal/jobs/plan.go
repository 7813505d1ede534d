package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sandboxd/sandboxd/internal/db"
	"github.com/sandboxd/sandboxd/internal/sandbox"
)

// Ticket is one work item in the tickets file a successful plan leaves behind.
type Ticket struct {
	Title string `json:"title"`
}

// handlePlan streams the agent's plan to completion, then turns the resulting
// tickets file into a build job and enqueues it.
func (c *Coordinator) handlePlan(ctx context.Context, job *db.Job) error {
	payload, err := ParsePayload(job)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	client := c.clients(job.SessionID)

	// Record where the build will start from before the agent touches the tree.
	startCommit, err := client.Head(ctx)
	if err != nil {
		return fmt.Errorf("read start commit: %w", err)
	}

	planCtx, cancel := context.WithTimeout(ctx, c.cfg.PlanTimeout)
	defer cancel()

	events, err := client.StreamPlan(planCtx, payload.Prompt, payload.Cwd, sandbox.PlanOptions{Resume: payload.Resume})
	if err != nil {
		return fmt.Errorf("start plan stream: %w", err)
	}

	var done *sandbox.PlanEvent
	for ev := range events {
		switch ev.Type {
		case sandbox.PlanEventToolCall:
			if err := c.store.UpdateJobStep(ctx, job.ID, "tool:"+ev.ToolName); err != nil {
				log.Printf("plan worker: failed to record step for %s: %v", job.ID, err)
			}
		case sandbox.PlanEventError:
			return fmt.Errorf("plan failed: %s", ev.Error)
		case sandbox.PlanEventDone:
			done = &ev
		}
		if c.cancelled(ctx, job.ID) {
			cancel()
			return nil
		}
	}
	if done == nil {
		if planCtx.Err() != nil {
			return fmt.Errorf("plan timed out: %w", planCtx.Err())
		}
		return fmt.Errorf("plan stream ended without a terminal event")
	}
	if done.Status != "success" {
		return fmt.Errorf("plan finished with status %q", done.Status)
	}
	if done.TicketsFile == "" {
		return fmt.Errorf("plan produced no tickets file")
	}

	raw, err := client.ReadFile(ctx, done.TicketsFile)
	if err != nil {
		return fmt.Errorf("read tickets file %s: %w", done.TicketsFile, err)
	}
	var tickets []Ticket
	if err := json.Unmarshal(raw, &tickets); err != nil {
		return fmt.Errorf("parse tickets file %s: %w", done.TicketsFile, err)
	}
	if len(tickets) == 0 {
		return fmt.Errorf("tickets file %s is empty", done.TicketsFile)
	}

	titles := make([]string, 0, len(tickets))
	for _, t := range tickets {
		titles = append(titles, t.Title)
	}

	build, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID:   job.SessionID,
		ProjectID:   job.ProjectID,
		Kind:        KindBuild,
		StartCommit: startCommit,
		Tasks:       titles,
	})
	if err != nil {
		return fmt.Errorf("enqueue build job: %w", err)
	}
	log.Printf("plan worker: job %s produced build job %s with %d tasks", job.ID, build.ID, len(titles))
	return nil
}
