package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/db"
	"github.com/sandboxd/sandboxd/internal/sandbox"
)

// memStore is an in-memory Store for coordinator tests.
type memStore struct {
	mu    sync.Mutex
	jobs  map[string]*db.Job
	tasks map[string][]*db.Task
}

func newMemStore() *memStore {
	return &memStore{
		jobs:  make(map[string]*db.Job),
		tasks: make(map[string][]*db.Task),
	}
}

func (s *memStore) CreateJob(ctx context.Context, j *db.Job, taskTitles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.jobs[j.ID] = &cp
	for i, title := range taskTitles {
		s.tasks[j.ID] = append(s.tasks[j.ID], &db.Task{
			ID:       fmt.Sprintf("%s-%d", j.ID, i),
			JobID:    j.ID,
			Position: i,
			Title:    title,
			Status:   TaskTodo,
		})
	}
	return nil
}

func (s *memStore) GetJob(ctx context.Context, id string) (*db.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) ListJobsBySession(ctx context.Context, sessionID string) ([]*db.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Job
	for _, j := range s.jobs {
		if j.SessionID == sessionID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *memStore) ClaimJob(ctx context.Context, kind string) (*db.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *db.Job
	for _, j := range s.jobs {
		if j.Kind != kind || j.Status != StatusPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = StatusRunning
	oldest.StartedAt = sql.NullTime{Time: time.Now(), Valid: true}
	cp := *oldest
	return &cp, nil
}

func (s *memStore) UpdateJobStep(ctx context.Context, id, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.CurrentStep = sql.NullString{String: step, Valid: true}
	}
	return nil
}

func (s *memStore) CompleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = StatusCompleted
		j.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	return nil
}

func (s *memStore) FailJob(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = StatusFailed
		j.Error = sql.NullString{String: errMsg, Valid: true}
		j.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	return nil
}

func (s *memStore) CancelJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && (j.Status == StatusPending || j.Status == StatusRunning) {
		j.Status = StatusCancelled
		j.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	return nil
}

func (s *memStore) ListTasksByJob(ctx context.Context, jobID string) ([]*db.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*db.Task, 0, len(s.tasks[jobID]))
	for _, t := range s.tasks[jobID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpdateTaskStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tasks := range s.tasks {
		for _, t := range tasks {
			if t.ID == id {
				t.Status = status
			}
		}
	}
	return nil
}

func (s *memStore) FailTask(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tasks := range s.tasks {
		for _, t := range tasks {
			if t.ID == id {
				t.Status = TaskError
				t.Error = sql.NullString{String: errMsg, Valid: true}
			}
		}
	}
	return nil
}

// fakeClient records sandbox calls and delegates to overridable funcs.
type fakeClient struct {
	mu           sync.Mutex
	reverts      []string
	credentials  []string
	instructions []string
	writes       map[string][]byte

	head       string
	files      map[string][]byte
	planEvents []sandbox.PlanEvent

	runTaskErr map[string]error
	reviewErr  error
	commitSHA  string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		head:      "abc123",
		commitSHA: "def456",
		files:     make(map[string][]byte),
		writes:    make(map[string][]byte),
	}
}

func (f *fakeClient) ReadFile(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sandbox.ErrNotFound, path)
	}
	return content, nil
}

func (f *fakeClient) WriteFile(ctx context.Context, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[path] = content
	return nil
}

func (f *fakeClient) Revert(ctx context.Context, commitSHA, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverts = append(f.reverts, commitSHA)
	f.credentials = append(f.credentials, credential)
	return nil
}

func (f *fakeClient) Head(ctx context.Context) (string, error) {
	return f.head, nil
}

func (f *fakeClient) RunTask(ctx context.Context, instruction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructions = append(f.instructions, instruction)
	return f.runTaskErr[instruction]
}

func (f *fakeClient) Review(ctx context.Context) error {
	return f.reviewErr
}

func (f *fakeClient) CommitAndPush(ctx context.Context, message, credential string) (string, error) {
	return f.commitSHA, nil
}

func (f *fakeClient) StreamPlan(ctx context.Context, prompt, cwd string, opts sandbox.PlanOptions) (<-chan sandbox.PlanEvent, error) {
	ch := make(chan sandbox.PlanEvent, len(f.planEvents))
	for _, ev := range f.planEvents {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type fakeDestroyer struct {
	mu        sync.Mutex
	destroyed []string
}

func (f *fakeDestroyer) Destroy(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, sessionID)
	return nil
}

type fakeVCS struct {
	token    string
	prNumber int

	mu     sync.Mutex
	opened []string
}

func (f *fakeVCS) InstallationToken(ctx context.Context) (string, error) {
	return f.token, nil
}

func (f *fakeVCS) OpenPullRequest(ctx context.Context, repo, title, head, base, body string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, fmt.Sprintf("%s %s %s->%s", repo, title, head, base))
	return f.prNumber, nil
}

func newTestCoordinator(store Store, client *fakeClient, destroyer Destroyer, vcs VCS) *Coordinator {
	return NewCoordinator(store,
		func(sessionID string) Client { return client },
		destroyer, vcs, nil, Config{})
}

func TestEnqueueUnknownKind(t *testing.T) {
	c := newTestCoordinator(newMemStore(), newFakeClient(), &fakeDestroyer{}, nil)
	_, err := c.Enqueue(context.Background(), EnqueueRequest{SessionID: "s1", Kind: "bogus"})
	assert.Error(t, err)
}

func TestEnqueueAndGet(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(store, newFakeClient(), &fakeDestroyer{}, nil)

	j, err := c.Enqueue(context.Background(), EnqueueRequest{
		SessionID: "s1",
		ProjectID: "p1",
		Kind:      KindBuild,
		Tasks:     []string{"first", "second"},
	})
	require.NoError(t, err)

	got, err := c.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	tasks, err := c.Tasks(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "first", tasks[0].Title)
	assert.Equal(t, "second", tasks[1].Title)

	_, err = c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestBuildRunsTasksInOrder(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	c := newTestCoordinator(store, client, &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindBuild,
		Tasks: []string{"set up schema", "add endpoints", "write tests"},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindBuild)
	require.NoError(t, err)
	c.process(ctx, claimed)

	assert.Equal(t, []string{"set up schema", "add endpoints", "write tests"}, client.instructions)

	got, err := store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	tasks, _ := store.ListTasksByJob(ctx, j.ID)
	for _, task := range tasks {
		assert.Equal(t, TaskDone, task.Status)
	}
}

func TestBuildTaskFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	client.runTaskErr = map[string]error{"add endpoints": fmt.Errorf("compile error")}
	c := newTestCoordinator(store, client, &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindBuild,
		Tasks: []string{"set up schema", "add endpoints", "write tests"},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindBuild)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error.String, "compile error")

	tasks, _ := store.ListTasksByJob(ctx, j.ID)
	assert.Equal(t, TaskDone, tasks[0].Status)
	assert.Equal(t, TaskError, tasks[1].Status)
	assert.Equal(t, "compile error", tasks[1].Error.String)
	// The failed task blocks everything after it.
	assert.Equal(t, TaskTodo, tasks[2].Status)
	assert.NotContains(t, client.instructions, "write tests")
}

func TestBuildSandboxDestroyedMidJob(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	// The sandbox was destroyed underneath the running job.
	client.runTaskErr = map[string]error{
		"second": fmt.Errorf("%w: connection refused", sandbox.ErrUnavailable),
	}
	c := newTestCoordinator(store, client, &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindBuild,
		Tasks: []string{"first", "second"},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindBuild)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error.String, sandbox.ErrUnavailable.Error())
}

func TestBuildExternalCancelStops(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	c := newTestCoordinator(store, client, &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindBuild,
		Tasks: []string{"only task"},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindBuild)
	require.NoError(t, err)
	require.NoError(t, store.CancelJob(ctx, j.ID))

	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Empty(t, client.instructions)

	tasks, _ := store.ListTasksByJob(ctx, j.ID)
	assert.Equal(t, TaskCancelled, tasks[0].Status)
}

func TestBuildResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	c := newTestCoordinator(store, client, &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindBuild,
		Tasks: []string{"done already", "still pending"},
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateTaskStatus(ctx, j.ID+"-0", TaskDone))

	claimed, err := store.ClaimJob(ctx, KindBuild)
	require.NoError(t, err)
	c.process(ctx, claimed)

	// Completed tasks are never re-run.
	assert.Equal(t, []string{"still pending"}, client.instructions)
}

func TestPlanEnqueuesBuild(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	client.head = "start-sha"
	client.files["tickets.json"] = []byte(`[{"title":"add login"},{"title":"add logout"}]`)
	client.planEvents = []sandbox.PlanEvent{
		{Type: sandbox.PlanEventToolCall, ToolName: "search"},
		{Type: sandbox.PlanEventMessage, Text: "thinking"},
		{Type: sandbox.PlanEventDone, Status: "success", TicketsFile: "tickets.json"},
	}
	c := newTestCoordinator(store, client, &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", ProjectID: "p1", Kind: KindPlan,
		Payload: Payload{Prompt: "build auth"},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindPlan)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)

	build, err := store.ClaimJob(ctx, KindBuild)
	require.NoError(t, err)
	require.NotNil(t, build)
	assert.Equal(t, "s1", build.SessionID)
	assert.Equal(t, "p1", build.ProjectID)
	assert.Equal(t, "start-sha", build.StartCommit.String)

	tasks, _ := store.ListTasksByJob(ctx, build.ID)
	require.Len(t, tasks, 2)
	assert.Equal(t, "add login", tasks[0].Title)
	assert.Equal(t, "add logout", tasks[1].Title)
}

func TestPlanErrorEventFailsJob(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	client.planEvents = []sandbox.PlanEvent{
		{Type: sandbox.PlanEventError, Error: "agent crashed"},
	}
	c := newTestCoordinator(store, client, &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{SessionID: "s1", Kind: KindPlan})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindPlan)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error.String, "agent crashed")

	// No build job may appear after a failed plan.
	build, err := store.ClaimJob(ctx, KindBuild)
	require.NoError(t, err)
	assert.Nil(t, build)
}

func TestSubmitOpensPullRequest(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	vcs := &fakeVCS{token: "tok", prNumber: 42}
	c := newTestCoordinator(store, client, &fakeDestroyer{}, vcs)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindSubmit,
		Payload: Payload{Repo: "acme/app", Branch: "session-s1", PRTitle: "Add auth"},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindSubmit)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "pr #42", got.CurrentStep.String)
	require.Len(t, vcs.opened, 1)
	assert.Equal(t, "acme/app Add auth session-s1->main", vcs.opened[0])
}

func TestSubmitWithoutVCSFails(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestCoordinator(store, newFakeClient(), &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{SessionID: "s1", Kind: KindSubmit})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindSubmit)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestDeployTriggersHook(t *testing.T) {
	ctx := context.Background()
	var hookBody []byte
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hook.Close()

	store := newMemStore()
	client := newFakeClient()
	c := newTestCoordinator(store, client, &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindDeploy,
		Payload: Payload{
			DeployConfig:  []byte(`{"service":"web"}`),
			DeployHookURL: hook.URL,
		},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindDeploy)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, []byte(`{"service":"web"}`), client.writes["deploy.json"])
	assert.Equal(t, `{"service":"web"}`, string(hookBody))
}

func TestDeployHookFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer hook.Close()

	store := newMemStore()
	c := newTestCoordinator(store, newFakeClient(), &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindDeploy,
		Payload: Payload{DeployHookURL: hook.URL},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindDeploy)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error.String, "quota exceeded")
}

func TestPreviewCleanupDestroysSandbox(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	destroyer := &fakeDestroyer{}
	c := newTestCoordinator(store, newFakeClient(), destroyer, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{SessionID: "preview-1", Kind: KindPreviewCleanup})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindPreviewCleanup)
	require.NoError(t, err)
	c.process(ctx, claimed)

	got, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, []string{"preview-1"}, destroyer.destroyed)
}

func TestRestartRevertsAndCopiesTasks(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := newFakeClient()
	client.runTaskErr = map[string]error{"second": fmt.Errorf("flaky dependency")}
	vcs := &fakeVCS{token: "install-token"}
	c := newTestCoordinator(store, client, &fakeDestroyer{}, vcs)

	j, err := c.Enqueue(ctx, EnqueueRequest{
		SessionID: "s1", Kind: KindBuild, StartCommit: "checkpoint-sha",
		Tasks: []string{"first", "second"},
	})
	require.NoError(t, err)

	claimed, err := store.ClaimJob(ctx, KindBuild)
	require.NoError(t, err)
	c.process(ctx, claimed)

	nj, err := c.Restart(ctx, j.ID)
	require.NoError(t, err)
	assert.NotEqual(t, j.ID, nj.ID)
	assert.Equal(t, 1, nj.RestartCount)
	assert.Equal(t, j.ID, nj.ParentJobID.String)
	assert.Equal(t, "checkpoint-sha", nj.StartCommit.String)

	// The sandbox is reverted to the checkpoint with a fresh credential.
	assert.Equal(t, []string{"checkpoint-sha"}, client.reverts)
	assert.Equal(t, []string{"install-token"}, client.credentials)

	// The new job inherits the full task list, reset to todo.
	tasks, _ := store.ListTasksByJob(ctx, nj.ID)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, TaskTodo, task.Status)
	}

	// The old row is untouched history.
	old, _ := store.GetJob(ctx, j.ID)
	assert.Equal(t, StatusFailed, old.Status)
}

func TestRestartRequiresTerminalFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestCoordinator(store, newFakeClient(), &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{SessionID: "s1", Kind: KindBuild, Tasks: []string{"t"}})
	require.NoError(t, err)

	_, err = c.Restart(ctx, j.ID)
	assert.ErrorIs(t, err, ErrNotRestartable)

	_, err = c.Restart(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRestartLimit(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestCoordinator(store, newFakeClient(), &fakeDestroyer{}, nil)

	j := &db.Job{
		ID: "exhausted", SessionID: "s1", Kind: KindBuild,
		Status: StatusFailed, RestartCount: maxRestarts,
		Error: sql.NullString{String: "boom", Valid: true},
	}
	require.NoError(t, store.CreateJob(ctx, j, []string{"t"}))

	_, err := c.Restart(ctx, "exhausted")
	assert.ErrorIs(t, err, ErrRestartLimit)
}

func TestCancelledJobIsRestartable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestCoordinator(store, newFakeClient(), &fakeDestroyer{}, nil)

	j, err := c.Enqueue(ctx, EnqueueRequest{SessionID: "s1", Kind: KindBuild, Tasks: []string{"t"}})
	require.NoError(t, err)
	require.NoError(t, c.Cancel(ctx, j.ID))

	nj, err := c.Restart(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, nj.Status)
}
