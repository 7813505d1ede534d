package sandbox

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sandboxd/sandboxd/internal/metrics"
	"github.com/sandboxd/sandboxd/internal/registry"
	"github.com/sandboxd/sandboxd/internal/runtime"
	"github.com/sandboxd/sandboxd/internal/shortid"
)

// Registry is the durable sandbox record store the manager coordinates
// through. Implemented by *registry.Store.
type Registry interface {
	Get(ctx context.Context, sessionID string) (*registry.Sandbox, error)
	ListByProject(ctx context.Context, projectID string) ([]*registry.Sandbox, error)
	CreateProvisioning(ctx context.Context, sessionID, projectID, servicesMode string) error
	MarkRunning(ctx context.Context, sessionID, address, resourceRef string) error
	MarkStopped(ctx context.Context, sessionID string) error
	MarkError(ctx context.Context, sessionID, msg string) error
	MarkDestroyed(ctx context.Context, sessionID string) error
	Touch(ctx context.Context, sessionID string) error
}

// Config holds manager-level settings.
type Config struct {
	// Image is the sandbox image to boot.
	Image string
	// DefaultModelKey is the platform model API key used when the caller
	// supplies no org-scoped key.
	DefaultModelKey string
	// BootTimeout bounds provisioning plus the first successful health check.
	BootTimeout time.Duration
}

// CreateSpec describes the sandbox a caller wants for a session.
type CreateSpec struct {
	SessionID      string
	ProjectID      string
	RepoURL        string
	Branch         string
	RepoCredential string
	ServicesMode   string
	// ModelAPIKey is the org's own key, if it has one.
	ModelAPIKey string
}

// Manager is the orchestration core: it creates sandboxes on demand, enforces
// at most one live sandbox per session, destroys them, and reconciles registry
// state against the actual runtime.
type Manager struct {
	reg     Registry
	adapter runtime.Adapter
	cfg     Config
	group   singleflight.Group
}

func NewManager(reg Registry, adapter runtime.Adapter, cfg Config) *Manager {
	if cfg.BootTimeout == 0 {
		cfg.BootTimeout = 2 * time.Minute
	}
	return &Manager{reg: reg, adapter: adapter, cfg: cfg}
}

// Get returns the current registry record for a session without creating
// anything. Destroyed tombstones are reported as nil.
func (m *Manager) Get(ctx context.Context, sessionID string) (*registry.Sandbox, error) {
	sb, err := m.reg.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sb == nil || sb.Status == registry.StatusDestroyed {
		return nil, nil
	}
	return sb, nil
}

// Create provisions a sandbox for the session, or returns the existing one if
// a live sandbox is already recorded. Concurrent calls for the same session
// are collapsed into a single provisioning attempt.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (*registry.Sandbox, error) {
	if spec.ServicesMode == "" {
		spec.ServicesMode = registry.ModeFull
	}
	v, err, _ := m.group.Do(spec.SessionID, func() (any, error) {
		return m.create(ctx, spec)
	})
	if err != nil {
		return nil, err
	}
	return v.(*registry.Sandbox), nil
}

func (m *Manager) create(ctx context.Context, spec CreateSpec) (*registry.Sandbox, error) {
	existing, err := m.reg.Get(ctx, spec.SessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil && registry.Live(existing.Status) {
		if existing.Status == registry.StatusProvisioning {
			return existing, nil
		}
		// Recorded running: verify before trusting. The runtime may have
		// been reclaimed out-of-band.
		if err := m.adapter.HealthCheck(ctx, existing.Address); err == nil {
			return existing, nil
		}
		log.Printf("sandbox for session %s recorded running but unreachable, recreating", spec.SessionID)
		if err := m.reg.MarkError(ctx, spec.SessionID, "runtime unreachable"); err != nil {
			return nil, err
		}
		metrics.DecSandboxesActive()
	}

	if err := m.reg.CreateProvisioning(ctx, spec.SessionID, spec.ProjectID, spec.ServicesMode); err != nil {
		return nil, err
	}

	modelKey := spec.ModelAPIKey
	if modelKey == "" {
		modelKey = m.cfg.DefaultModelKey
	}
	env := []string{
		"SESSION_ID=" + spec.SessionID,
		"REPO_URL=" + spec.RepoURL,
		"REPO_REF=" + spec.Branch,
		"REPO_CREDENTIAL=" + spec.RepoCredential,
		"MODEL_API_KEY=" + modelKey,
	}

	bootCtx, cancel := context.WithTimeout(ctx, m.cfg.BootTimeout)
	defer cancel()

	inst, err := m.adapter.Create(bootCtx, runtime.Spec{
		Name:         "sbx-" + shortid.Generate(),
		Image:        m.cfg.Image,
		Env:          env,
		FullServices: spec.ServicesMode == registry.ModeFull,
	})
	if err != nil {
		m.markBootFailed(spec.SessionID, err)
		return nil, &ProvisioningError{SessionID: spec.SessionID, Err: err}
	}

	if err := m.waitHealthy(bootCtx, inst.Address); err != nil {
		// Tear down the half-booted resource so nothing leaks.
		if derr := m.adapter.Destroy(context.WithoutCancel(ctx), inst.ResourceRef); derr != nil {
			log.Printf("failed to destroy unhealthy sandbox %s: %v", inst.ResourceRef, derr)
		}
		m.markBootFailed(spec.SessionID, err)
		return nil, &ProvisioningError{SessionID: spec.SessionID, Err: err}
	}

	if err := m.reg.MarkRunning(ctx, spec.SessionID, inst.Address, inst.ResourceRef); err != nil {
		// The record changed underneath us, typically a destroy that landed
		// mid-boot. The fresh instance must not outlive its record.
		if derr := m.adapter.Destroy(context.WithoutCancel(ctx), inst.ResourceRef); derr != nil {
			log.Printf("failed to destroy superseded sandbox %s: %v", inst.ResourceRef, derr)
		}
		return nil, err
	}
	metrics.IncSandboxesCreated()

	sb, err := m.reg.Get(ctx, spec.SessionID)
	if err != nil {
		return nil, err
	}
	if sb == nil {
		return nil, fmt.Errorf("sandbox for session %s vanished after boot", spec.SessionID)
	}
	log.Printf("sandbox for session %s running at %s", spec.SessionID, sb.Address)
	return sb, nil
}

func (m *Manager) markBootFailed(sessionID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.reg.MarkError(ctx, sessionID, cause.Error()); err != nil {
		log.Printf("failed to record boot error for session %s: %v", sessionID, err)
	}
}

func (m *Manager) waitHealthy(ctx context.Context, address string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if err := m.adapter.HealthCheck(ctx, address); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sandbox never became healthy: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Destroy tears down the session's sandbox. Best effort: a runtime that
// already reclaimed the resource is logged and ignored so higher-level
// deletion flows are never blocked. No-op when no sandbox exists.
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	sb, err := m.reg.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sb == nil || sb.Status == registry.StatusDestroyed {
		return nil
	}

	if sb.ResourceRef != "" {
		if err := m.adapter.Destroy(ctx, sb.ResourceRef); err != nil {
			log.Printf("failed to destroy runtime resource %s for session %s: %v", sb.ResourceRef, sessionID, err)
		}
	}

	if err := m.reg.MarkDestroyed(ctx, sessionID); err != nil {
		return err
	}
	if sb.Status == registry.StatusRunning {
		metrics.DecSandboxesActive()
	}
	metrics.IncSandboxesDestroyed()
	return nil
}

// Stop releases the runtime resource but keeps the registry row, so the
// session shows up as stopped rather than gone. A later Create provisions a
// fresh sandbox.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	sb, err := m.reg.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sb == nil || sb.Status != registry.StatusRunning {
		return ErrUnavailable
	}

	if sb.ResourceRef != "" {
		if err := m.adapter.Destroy(ctx, sb.ResourceRef); err != nil {
			log.Printf("failed to release runtime resource %s for session %s: %v", sb.ResourceRef, sessionID, err)
		}
	}
	if err := m.reg.MarkStopped(ctx, sessionID); err != nil {
		return err
	}
	metrics.DecSandboxesActive()
	return nil
}

// DestroyAllProject destroys every sandbox under a project. One item failure
// never aborts the batch; the method reports aggregate counts instead of
// erroring. A failure to enumerate the project is a real error, distinct from
// an empty project.
func (m *Manager) DestroyAllProject(ctx context.Context, projectID string) (destroyed, failed int, err error) {
	sandboxes, err := m.reg.ListByProject(ctx, projectID)
	if err != nil {
		return 0, 0, fmt.Errorf("list sandboxes for project %s: %w", projectID, err)
	}

	for _, sb := range sandboxes {
		if sb.Status == registry.StatusDestroyed {
			continue
		}
		if err := m.Destroy(ctx, sb.SessionID); err != nil {
			log.Printf("failed to destroy sandbox for session %s: %v", sb.SessionID, err)
			failed++
			continue
		}
		destroyed++
	}
	return destroyed, failed, nil
}

// ListProject returns all non-destroyed sandboxes under a project.
func (m *Manager) ListProject(ctx context.Context, projectID string) ([]*registry.Sandbox, error) {
	sandboxes, err := m.reg.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := sandboxes[:0]
	for _, sb := range sandboxes {
		if sb.Status != registry.StatusDestroyed {
			out = append(out, sb)
		}
	}
	return out, nil
}

// Ensure verifies that the session's recorded sandbox is actually reachable
// before trusting it. A running record whose runtime is gone is marked errored
// and reported as unavailable rather than trusted blindly.
func (m *Manager) Ensure(ctx context.Context, sessionID string) (*registry.Sandbox, error) {
	sb, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sb == nil || sb.Status != registry.StatusRunning {
		return nil, ErrUnavailable
	}
	if err := m.adapter.HealthCheck(ctx, sb.Address); err != nil {
		log.Printf("sandbox for session %s drifted (recorded running, runtime gone): %v", sessionID, err)
		if merr := m.reg.MarkError(ctx, sessionID, "runtime unreachable"); merr != nil {
			log.Printf("failed to mark drifted sandbox errored: %v", merr)
		}
		metrics.DecSandboxesActive()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sb, nil
}
