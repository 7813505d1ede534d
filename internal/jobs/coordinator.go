package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxd/sandboxd/internal/db"
	"github.com/sandboxd/sandboxd/internal/metrics"
	"github.com/sandboxd/sandboxd/internal/notify"
	"github.com/sandboxd/sandboxd/internal/sandbox"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrNotRestartable is returned when restarting a job that is not in a
	// terminal failed/cancelled state.
	ErrNotRestartable = errors.New("job is not restartable")
	// ErrRestartLimit caps restarts per job lineage so a flaky external
	// dependency cannot drive an endless restart loop.
	ErrRestartLimit = errors.New("job restart limit reached")
)

const maxRestarts = 5

// Store is the durable queue state. Implemented by *db.DB.
type Store interface {
	CreateJob(ctx context.Context, j *db.Job, taskTitles []string) error
	GetJob(ctx context.Context, id string) (*db.Job, error)
	ListJobsBySession(ctx context.Context, sessionID string) ([]*db.Job, error)
	ClaimJob(ctx context.Context, kind string) (*db.Job, error)
	UpdateJobStep(ctx context.Context, id, step string) error
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string) error
	CancelJob(ctx context.Context, id string) error
	ListTasksByJob(ctx context.Context, jobID string) ([]*db.Task, error)
	UpdateTaskStatus(ctx context.Context, id, status string) error
	FailTask(ctx context.Context, id, errMsg string) error
}

// Client is the slice of the sandbox client the workers drive. Implemented by
// *sandbox.Client.
type Client interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	Revert(ctx context.Context, commitSHA, credential string) error
	Head(ctx context.Context) (string, error)
	RunTask(ctx context.Context, instruction string) error
	Review(ctx context.Context) error
	CommitAndPush(ctx context.Context, message, credential string) (string, error)
	StreamPlan(ctx context.Context, prompt, cwd string, opts sandbox.PlanOptions) (<-chan sandbox.PlanEvent, error)
}

var _ Client = (*sandbox.Client)(nil)

// ClientFactory builds a sandbox client bound to a session.
type ClientFactory func(sessionID string) Client

// Destroyer destroys a session's sandbox. Implemented by *sandbox.Manager.
type Destroyer interface {
	Destroy(ctx context.Context, sessionID string) error
}

// VCS is the slice of the hosting API the submit worker needs.
type VCS interface {
	InstallationToken(ctx context.Context) (string, error)
	OpenPullRequest(ctx context.Context, repo, title, head, base, body string) (int, error)
}

// Config tunes the coordinator's polling and step bounds.
type Config struct {
	PollInterval time.Duration // queue poll cadence per worker role
	StepTimeout  time.Duration // single build/submit/deploy step bound
	PlanTimeout  time.Duration // full plan stream bound
}

// Coordinator owns the job pipeline: it enqueues work, runs one
// single-concurrency worker per job kind, and drives multi-step jobs against
// session sandboxes.
type Coordinator struct {
	store     Store
	clients   ClientFactory
	sandboxes Destroyer
	vcs       VCS
	notifier  notify.Notifier
	cfg       Config
	http      *http.Client
	wake      map[string]chan struct{}
}

func NewCoordinator(store Store, clients ClientFactory, sandboxes Destroyer, vcs VCS, notifier notify.Notifier, cfg Config) *Coordinator {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = 10 * time.Minute
	}
	if cfg.PlanTimeout == 0 {
		cfg.PlanTimeout = 30 * time.Minute
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	wake := make(map[string]chan struct{}, len(Kinds()))
	for _, kind := range Kinds() {
		wake[kind] = make(chan struct{}, 1)
	}
	return &Coordinator{
		store:     store,
		clients:   clients,
		sandboxes: sandboxes,
		vcs:       vcs,
		notifier:  notifier,
		cfg:       cfg,
		http:      &http.Client{Timeout: 30 * time.Second},
		wake:      wake,
	}
}

// EnqueueRequest describes a new pipeline job.
type EnqueueRequest struct {
	SessionID   string
	ProjectID   string
	Kind        string
	StartCommit string
	Payload     Payload
	Tasks       []string
}

// Enqueue records a pending job and nudges the matching worker.
func (c *Coordinator) Enqueue(ctx context.Context, req EnqueueRequest) (*db.Job, error) {
	if _, ok := c.wake[req.Kind]; !ok {
		return nil, fmt.Errorf("unknown job kind %q", req.Kind)
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	j := &db.Job{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		ProjectID: req.ProjectID,
		Kind:      req.Kind,
		Status:    StatusPending,
		Payload:   payload,
	}
	if req.StartCommit != "" {
		j.StartCommit = sql.NullString{String: req.StartCommit, Valid: true}
	}
	if err := c.store.CreateJob(ctx, j, req.Tasks); err != nil {
		return nil, err
	}
	c.nudge(req.Kind)
	return j, nil
}

// Get returns a job with its status normalized by the derivation rule.
func (c *Coordinator) Get(ctx context.Context, id string) (*db.Job, error) {
	j, err := c.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrJobNotFound
	}
	j.Status = DeriveStatus(j)
	return j, nil
}

// ListBySession returns a session's job history, statuses normalized.
func (c *Coordinator) ListBySession(ctx context.Context, sessionID string) ([]*db.Job, error) {
	list, err := c.store.ListJobsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, j := range list {
		j.Status = DeriveStatus(j)
	}
	return list, nil
}

// Tasks returns a job's ordered task list.
func (c *Coordinator) Tasks(ctx context.Context, jobID string) ([]*db.Task, error) {
	return c.store.ListTasksByJob(ctx, jobID)
}

// Cancel cancels a pending or running job.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	return c.store.CancelJob(ctx, id)
}

// Restart creates a new job from a failed or cancelled one: the ordered task
// list is inherited with every task reset to todo, the sandbox is reverted to
// the old job's start commit, and the new job is enqueued. The old row stays
// as immutable history.
func (c *Coordinator) Restart(ctx context.Context, id string) (*db.Job, error) {
	old, err := c.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ErrJobNotFound
	}
	switch DeriveStatus(old) {
	case StatusFailed, StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrNotRestartable, DeriveStatus(old))
	}
	if old.RestartCount >= maxRestarts {
		return nil, fmt.Errorf("%w (%d)", ErrRestartLimit, maxRestarts)
	}

	tasks, err := c.store.ListTasksByJob(ctx, old.ID)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(tasks))
	for _, t := range tasks {
		titles = append(titles, t.Title)
	}

	if old.StartCommit.Valid {
		credential := c.installationToken(ctx)
		if err := c.clients(old.SessionID).Revert(ctx, old.StartCommit.String, credential); err != nil {
			return nil, fmt.Errorf("revert to checkpoint %s: %w", old.StartCommit.String, err)
		}
	}

	nj := &db.Job{
		ID:           uuid.NewString(),
		SessionID:    old.SessionID,
		ProjectID:    old.ProjectID,
		Kind:         old.Kind,
		Status:       StatusPending,
		StartCommit:  old.StartCommit,
		Payload:      old.Payload,
		RestartCount: old.RestartCount + 1,
		ParentJobID:  sql.NullString{String: old.ID, Valid: true},
	}
	if err := c.store.CreateJob(ctx, nj, titles); err != nil {
		return nil, err
	}
	c.nudge(old.Kind)
	return nj, nil
}

// installationToken fetches a VCS credential, tolerating a missing or failing
// hosting API for flows that can proceed without one.
func (c *Coordinator) installationToken(ctx context.Context) string {
	if c.vcs == nil {
		return ""
	}
	token, err := c.vcs.InstallationToken(ctx)
	if err != nil {
		log.Printf("failed to fetch installation token: %v", err)
		return ""
	}
	return token
}

func (c *Coordinator) nudge(kind string) {
	select {
	case c.wake[kind] <- struct{}{}:
	default:
	}
}

// Run starts one worker goroutine per job kind and blocks until ctx ends.
func (c *Coordinator) Run(ctx context.Context) {
	for _, kind := range Kinds() {
		go c.runWorker(ctx, kind)
	}
	<-ctx.Done()
}

// runWorker processes jobs of one kind, one at a time.
func (c *Coordinator) runWorker(ctx context.Context, kind string) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		c.drain(ctx, kind)
		select {
		case <-ctx.Done():
			return
		case <-c.wake[kind]:
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) drain(ctx context.Context, kind string) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := c.store.ClaimJob(ctx, kind)
		if err != nil {
			log.Printf("%s worker: claim failed: %v", kind, err)
			return
		}
		if job == nil {
			return
		}
		c.process(ctx, job)
	}
}

func (c *Coordinator) process(ctx context.Context, job *db.Job) {
	log.Printf("%s worker: processing job %s (session %s)", job.Kind, job.ID, job.SessionID)
	start := time.Now()

	var err error
	switch job.Kind {
	case KindPlan:
		err = c.handlePlan(ctx, job)
	case KindBuild:
		err = c.handleBuild(ctx, job)
	case KindSubmit:
		err = c.handleSubmit(ctx, job)
	case KindDeploy:
		err = c.handleDeploy(ctx, job)
	case KindPreviewCleanup:
		err = c.handlePreviewCleanup(ctx, job)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	// An external cancel may have landed while the job ran; never overwrite it.
	current, gerr := c.store.GetJob(ctx, job.ID)
	if gerr == nil && current != nil && current.Status == StatusCancelled {
		log.Printf("%s worker: job %s was cancelled externally", job.Kind, job.ID)
		metrics.ObserveJob(job.Kind, StatusCancelled, time.Since(start))
		return
	}

	if err != nil {
		log.Printf("%s worker: job %s failed: %v", job.Kind, job.ID, err)
		if ferr := c.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			log.Printf("%s worker: failed to record failure for %s: %v", job.Kind, job.ID, ferr)
		}
		metrics.ObserveJob(job.Kind, StatusFailed, time.Since(start))
		c.notifier.Notify(job.SessionID, notify.TemplateJobFailed, map[string]any{
			"jobId": job.ID, "kind": job.Kind, "error": err.Error(),
		})
		return
	}

	if cerr := c.store.CompleteJob(ctx, job.ID); cerr != nil {
		log.Printf("%s worker: failed to record completion for %s: %v", job.Kind, job.ID, cerr)
	}
	metrics.ObserveJob(job.Kind, StatusCompleted, time.Since(start))
	c.notifier.Notify(job.SessionID, notify.TemplateJobCompleted, map[string]any{
		"jobId": job.ID, "kind": job.Kind,
	})
	log.Printf("%s worker: job %s completed in %s", job.Kind, job.ID, time.Since(start).Round(time.Millisecond))
}

// cancelled re-reads the job row and reports an external cancellation.
func (c *Coordinator) cancelled(ctx context.Context, id string) bool {
	j, err := c.store.GetJob(ctx, id)
	return err == nil && j != nil && j.Status == StatusCancelled
}
