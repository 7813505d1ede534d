package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Spec describes the execution environment to create for one session.
type Spec struct {
	// Name is the runtime resource name, unique per live sandbox.
	Name string
	// Image is the sandbox image carrying the agent and toolchain.
	Image string
	// Env is the container environment (KEY=VALUE).
	Env []string
	// FullServices starts the live dev server alongside the agent control
	// plane. Agent-only sandboxes skip the dev server.
	FullServices bool
}

// Instance is a created execution environment.
type Instance struct {
	// Address is the agent control-plane endpoint (host:port).
	Address string
	// ResourceRef is the opaque handle needed to destroy the resource.
	ResourceRef string
}

// Adapter creates, destroys and probes isolated execution environments. The
// sandbox manager is written against this interface; docker and kubernetes
// backends implement it.
type Adapter interface {
	Create(ctx context.Context, spec Spec) (*Instance, error)
	// Destroy tears down the resource. Destroying a resource that is
	// already gone is not an error.
	Destroy(ctx context.Context, resourceRef string) error
	// HealthCheck probes the agent control plane at the given address.
	HealthCheck(ctx context.Context, address string) error
}

const healthCheckTimeout = 5 * time.Second

// httpHealthCheck probes the agent's health endpoint. Shared by both backends
// since the in-sandbox control plane is the same regardless of runtime.
func httpHealthCheck(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+"/health", nil)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check %s: status %d", address, resp.StatusCode)
	}
	return nil
}
