package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/sandboxd/sandboxd/internal/registry"
)

// Client is the per-session façade for talking to one sandbox's in-container
// agent. The running address is resolved from the registry on every call so a
// sandbox recreated at a new address is picked up transparently.
type Client struct {
	sessionID string
	reg       Registry
	http      *http.Client
}

// NewClient builds a client bound to a session. The zero-timeout HTTP client
// is deliberate: plan streams are long-lived and bounded by caller contexts.
func NewClient(sessionID string, reg Registry) *Client {
	return &Client{
		sessionID: sessionID,
		reg:       reg,
		http:      &http.Client{Timeout: 0},
	}
}

// resolve returns the base URL of the session's running sandbox and records
// activity on it.
func (c *Client) resolve(ctx context.Context) (string, error) {
	sb, err := c.reg.Get(ctx, c.sessionID)
	if err != nil {
		return "", err
	}
	if sb == nil || sb.Status != registry.StatusRunning || sb.Address == "" {
		return "", ErrUnavailable
	}
	if err := c.reg.Touch(ctx, c.sessionID); err != nil {
		log.Printf("failed to record activity for session %s: %v", c.sessionID, err)
	}
	return "http://" + sb.Address, nil
}

// ReadFile fetches a file from the sandbox working tree.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	base, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/files?path="+url.QueryEscape(path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, &OperationFailed{Op: "read " + path, Detail: strings.TrimSpace(string(body))}
	}
}

// WriteFile writes a file into the sandbox working tree.
func (c *Client) WriteFile(ctx context.Context, path string, content []byte) error {
	base, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, base+"/files?path="+url.QueryEscape(path), bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return &OperationFailed{Op: "write " + path, Detail: strings.TrimSpace(string(body))}
	}
	return nil
}

// FileEntry is one entry in a sandbox file listing.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Dir  bool   `json:"dir,omitempty"`
}

func (c *Client) ListFiles(ctx context.Context) ([]FileEntry, error) {
	base, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/files", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &OperationFailed{Op: "list files", Detail: strings.TrimSpace(string(body))}
	}
	var entries []FileEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode file listing: %w", err)
	}
	return entries, nil
}

type opResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

// postJSON posts a JSON body and decodes the agent's standard result envelope.
func (c *Client) postJSON(ctx context.Context, base, path string, payload any) (*opResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var result opResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", path, err)
	}
	if resp.StatusCode >= 500 && result.Error == "" {
		result.Error = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return &result, nil
}

// Revert hard-resets the sandbox working tree to a prior commit and
// force-pushes. Either the sandbox ends up at the target commit with the
// remote updated, or the prior state is left intact and an error is returned.
func (c *Client) Revert(ctx context.Context, commitSHA, credential string) error {
	base, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	result, err := c.postJSON(ctx, base, "/git/revert", map[string]string{
		"commit":     commitSHA,
		"credential": credential,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return &OperationFailed{Op: "git revert to " + commitSHA, Detail: result.Error}
	}
	return nil
}

// Head returns the current commit SHA of the sandbox working tree.
func (c *Client) Head(ctx context.Context) (string, error) {
	base, err := c.resolve(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/git/head", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var result opResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode head response: %w", err)
	}
	if result.SHA == "" {
		return "", &OperationFailed{Op: "read head", Detail: result.Error}
	}
	return result.SHA, nil
}

// RunTask asks the agent to execute one build task to completion.
func (c *Client) RunTask(ctx context.Context, instruction string) error {
	base, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	result, err := c.postJSON(ctx, base, "/build/task", map[string]string{"instruction": instruction})
	if err != nil {
		return err
	}
	if !result.Success {
		return &OperationFailed{Op: "task", Detail: result.Error}
	}
	return nil
}

// Review asks the agent to review pending changes before submission.
func (c *Client) Review(ctx context.Context) error {
	base, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	result, err := c.postJSON(ctx, base, "/review", struct{}{})
	if err != nil {
		return err
	}
	if !result.Success {
		return &OperationFailed{Op: "review", Detail: result.Error}
	}
	return nil
}

// CommitAndPush commits the working tree and pushes, returning the new head SHA.
func (c *Client) CommitAndPush(ctx context.Context, message, credential string) (string, error) {
	base, err := c.resolve(ctx)
	if err != nil {
		return "", err
	}
	result, err := c.postJSON(ctx, base, "/git/commit", map[string]string{
		"message":    message,
		"credential": credential,
	})
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", &OperationFailed{Op: "commit and push", Detail: result.Error}
	}
	return result.SHA, nil
}

// PlanOptions tunes a plan stream.
type PlanOptions struct {
	// Resume continues the agent's prior conversation instead of starting
	// fresh. The stream object itself is still single-use.
	Resume bool
}

// StreamPlan opens a long-lived plan stream against the agent. Events arrive
// on the returned channel until a terminal done/error event or until ctx is
// cancelled; cancellation closes the upstream connection. The channel is
// closed when the stream ends.
func (c *Client) StreamPlan(ctx context.Context, prompt, cwd string, opts PlanOptions) (<-chan PlanEvent, error) {
	base, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"prompt": prompt,
		"cwd":    cwd,
		"resume": opts.Resume,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/plan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &OperationFailed{Op: "start plan", Detail: strings.TrimSpace(string(respBody))}
	}

	events := make(chan PlanEvent, 16)
	go c.readPlanEvents(ctx, resp.Body, events)
	return events, nil
}

// readPlanEvents decodes SSE frames from the agent until a terminal event,
// stream end, or context cancellation. Closing the body on ctx cancellation is
// handled by the request context; this loop just drains until the read fails.
func (c *Client) readPlanEvents(ctx context.Context, body io.ReadCloser, events chan<- PlanEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev PlanEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			log.Printf("plan stream for session %s: bad event: %v", c.sessionID, err)
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
		if ev.Terminal() {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		// Connection dropped mid-stream without a terminal event.
		select {
		case events <- PlanEvent{Type: PlanEventError, Error: err.Error()}:
		case <-ctx.Done():
		}
	}
}

// AgentHealth is the agent's self-reported health. A nil report means the
// sandbox was unreachable, distinct from a reachable-but-unhealthy agent.
type AgentHealth struct {
	Alive         bool  `json:"alive"`
	Ready         bool  `json:"ready"`
	Processing    bool  `json:"processing"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
	MemoryBytes   int64 `json:"memoryBytes"`
}

func (c *Client) AgentHealth(ctx context.Context) (*AgentHealth, error) {
	base, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/agent/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// Unreachable, not unhealthy.
		return nil, nil
	}
	defer resp.Body.Close()

	var health AgentHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		// The agent answered, so this is not "unreachable": a garbled body is
		// its own failure.
		return nil, fmt.Errorf("decode agent health: %w", err)
	}
	return &health, nil
}
