package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sandboxd/sandboxd/internal/db"
)

// handleDeploy pushes the deployment configuration into the sandbox and
// triggers the external deployment hook.
func (c *Coordinator) handleDeploy(ctx context.Context, job *db.Job) error {
	payload, err := ParsePayload(job)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	client := c.clients(job.SessionID)

	if len(payload.DeployConfig) > 0 {
		path := payload.DeployConfigPath
		if path == "" {
			path = "deploy.json"
		}
		c.step(ctx, job, "push_config")
		writeCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
		err := client.WriteFile(writeCtx, path, payload.DeployConfig)
		cancel()
		if err != nil {
			return fmt.Errorf("write deploy config: %w", err)
		}
	}

	if payload.DeployHookURL == "" {
		return fmt.Errorf("deploy job %s has no hook URL", job.ID)
	}

	c.step(ctx, job, "trigger")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.DeployHookURL, bytes.NewReader(payload.DeployConfig))
	if err != nil {
		return fmt.Errorf("deploy hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trigger deployment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("deploy hook returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
