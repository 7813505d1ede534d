package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/sandboxd/sandboxd/internal/db"
)

// handleSubmit runs review, commits and pushes the working tree, then opens a
// pull request on the hosting API.
func (c *Coordinator) handleSubmit(ctx context.Context, job *db.Job) error {
	payload, err := ParsePayload(job)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	client := c.clients(job.SessionID)

	c.step(ctx, job, "review")
	reviewCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	err = client.Review(reviewCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}

	c.step(ctx, job, "commit")
	credential := c.installationToken(ctx)
	message := payload.CommitMessage
	if message == "" {
		message = "Apply session changes"
	}
	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	sha, err := client.CommitAndPush(commitCtx, message, credential)
	cancel()
	if err != nil {
		return fmt.Errorf("commit and push: %w", err)
	}

	if c.vcs == nil {
		return fmt.Errorf("hosting API not configured")
	}
	c.step(ctx, job, "pull_request")
	title := payload.PRTitle
	if title == "" {
		title = message
	}
	base := payload.BaseBranch
	if base == "" {
		base = "main"
	}
	number, err := c.vcs.OpenPullRequest(ctx, payload.Repo, title, payload.Branch, base, "Automated submission from session "+job.SessionID)
	if err != nil {
		return fmt.Errorf("open pull request: %w", err)
	}

	c.step(ctx, job, fmt.Sprintf("pr #%d", number))
	log.Printf("submit worker: job %s opened PR #%d at commit %s", job.ID, number, sha)
	return nil
}

func (c *Coordinator) step(ctx context.Context, job *db.Job, step string) {
	if err := c.store.UpdateJobStep(ctx, job.ID, step); err != nil {
		log.Printf("%s worker: failed to record step %q for %s: %v", job.Kind, step, job.ID, err)
	}
}
