package runtime

import (
	"os"
	"strconv"
)

// DefaultAgentPort is the port the in-sandbox agent control plane listens on.
const DefaultAgentPort = 4096

// DockerConfig holds configuration for the Docker backend.
type DockerConfig struct {
	Image       string
	MemoryLimit int64
	NanoCPUs    int64
	PidsLimit   int64
	NetworkMode string
	AgentPort   int
}

func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Image:       envOrDefault("SANDBOX_IMAGE", "sandboxd-agent:latest"),
		MemoryLimit: envInt64OrDefault("SANDBOX_MEMORY_LIMIT", 2*1024*1024*1024), // 2GB
		NanoCPUs:    envInt64OrDefault("SANDBOX_NANO_CPUS", 2_000_000_000),       // 2 CPUs
		PidsLimit:   envInt64OrDefault("SANDBOX_PIDS_LIMIT", 256),
		NetworkMode: envOrDefault("SANDBOX_NETWORK_MODE", "bridge"),
		AgentPort:   DefaultAgentPort,
	}
}

// K8sConfig holds configuration for the Kubernetes backend.
type K8sConfig struct {
	Namespace       string
	MemoryLimit     string
	CPULimit        string
	ImagePullSecret string
	AgentPort       int
}

func DefaultK8sConfig() K8sConfig {
	return K8sConfig{
		Namespace:       envOrDefault("SANDBOX_NAMESPACE", "default"),
		MemoryLimit:     envOrDefault("SANDBOX_MEMORY_LIMIT", "2Gi"),
		CPULimit:        envOrDefault("SANDBOX_CPU_LIMIT", "2"),
		ImagePullSecret: os.Getenv("SANDBOX_IMAGE_PULL_SECRET"),
		AgentPort:       DefaultAgentPort,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64OrDefault(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
