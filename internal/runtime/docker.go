package runtime

import (
	"context"
	"fmt"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

const (
	labelManagedBy = "managed-by"
	labelValue     = "sandboxd"
)

// Compile-time interface check.
var _ Adapter = (*DockerAdapter)(nil)

// DockerAdapter runs sandboxes as local Docker containers.
type DockerAdapter struct {
	cfg DockerConfig
	cli *client.Client
}

func NewDockerAdapter(cfg DockerConfig) (*DockerAdapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("docker ping: %w", err)
	}

	return &DockerAdapter{cfg: cfg, cli: cli}, nil
}

// CleanOrphans removes managed containers from previous runs that the registry
// no longer tracks.
func (a *DockerAdapter) CleanOrphans(ctx context.Context, known []string) {
	knownSet := make(map[string]bool, len(known))
	for _, ref := range known {
		knownSet[ref] = true
	}

	f := filters.NewArgs(filters.Arg("label", labelManagedBy+"="+labelValue))
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		log.Printf("failed to list orphan containers: %v", err)
		return
	}
	for _, c := range containers {
		if knownSet[c.ID] {
			continue
		}
		log.Printf("cleaning orphan container %s", c.ID[:12])
		a.cli.ContainerStop(ctx, c.ID, container.StopOptions{})
		a.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
	}
}

func (a *DockerAdapter) Create(ctx context.Context, spec Spec) (*Instance, error) {
	env := append([]string{}, spec.Env...)
	if spec.FullServices {
		env = append(env, "SANDBOX_SERVICES=full")
	} else {
		env = append(env, "SANDBOX_SERVICES=agent-only")
	}

	pidsLimit := a.cfg.PidsLimit
	resp, err := a.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  a.cfg.Image,
			Env:    env,
			Labels: map[string]string{labelManagedBy: labelValue},
		},
		&container.HostConfig{
			CapDrop:     []string{"ALL"},
			SecurityOpt: []string{"no-new-privileges"},
			NetworkMode: container.NetworkMode(a.cfg.NetworkMode),
			Resources: container.Resources{
				Memory:    a.cfg.MemoryLimit,
				NanoCPUs:  a.cfg.NanoCPUs,
				PidsLimit: &pidsLimit,
			},
		},
		nil, nil, spec.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		a.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("container start: %w", err)
	}

	inspect, err := a.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		a.destroyByID(ctx, resp.ID)
		return nil, fmt.Errorf("container inspect: %w", err)
	}
	ip := inspect.NetworkSettings.IPAddress
	if ip == "" {
		for _, netw := range inspect.NetworkSettings.Networks {
			if netw.IPAddress != "" {
				ip = netw.IPAddress
				break
			}
		}
	}
	if ip == "" {
		a.destroyByID(ctx, resp.ID)
		return nil, fmt.Errorf("container %s has no IP address", resp.ID[:12])
	}

	return &Instance{
		Address:     fmt.Sprintf("%s:%d", ip, a.cfg.AgentPort),
		ResourceRef: resp.ID,
	}, nil
}

func (a *DockerAdapter) Destroy(ctx context.Context, resourceRef string) error {
	return a.destroyByID(ctx, resourceRef)
}

func (a *DockerAdapter) destroyByID(ctx context.Context, id string) error {
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		log.Printf("failed to stop container %s: %v", id[:12], err)
	}
	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

func (a *DockerAdapter) HealthCheck(ctx context.Context, address string) error {
	return httpHealthCheck(ctx, address)
}

func (a *DockerAdapter) Close() error {
	return a.cli.Close()
}
