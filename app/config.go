package app

import (
	"os"
	"strings"
	"time"

	"github.com/eric11eca/thinktank-ai/app/cluster"
)

// Config holds provisioner service configuration
type Config struct {
	ServerPort string

	// Cluster access
	Namespace         string
	KubeconfigPath    string
	APIServer         string
	KubeconfigTimeout time.Duration

	// Sandbox pod construction
	SandboxImage    string
	SkillsHostPath  string
	ThreadsHostPath string
	Resources       cluster.ResourceConfig

	// NodeHost is the hostname the backend uses to reach NodePort
	// services on the cluster node. On Docker Desktop for macOS this is
	// host.docker.internal; on Linux it may be the host's LAN IP.
	NodeHost string

	// InternalCIDRs are address ranges sandbox pods must not reach
	InternalCIDRs []string

	AllowedOrigins []string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:        getEnv("SERVER_PORT", "8002"),
		Namespace:         getEnv("K8S_NAMESPACE", "thinktank"),
		KubeconfigPath:    getEnv("KUBECONFIG_PATH", "/root/.kube/config"),
		APIServer:         os.Getenv("K8S_API_SERVER"),
		KubeconfigTimeout: 30 * time.Second,
		SandboxImage:      getEnv("SANDBOX_IMAGE", "python:3.12-slim"),
		SkillsHostPath:    getEnv("SKILLS_HOST_PATH", "/skills"),
		ThreadsHostPath:   getEnv("THREADS_HOST_PATH", "/.think-tank/threads"),
		Resources: cluster.ResourceConfig{
			CPURequest:       getEnv("SANDBOX_CPU_REQUEST", "100m"),
			CPULimit:         getEnv("SANDBOX_CPU_LIMIT", "1000m"),
			MemoryRequest:    getEnv("SANDBOX_MEMORY_REQUEST", "256Mi"),
			MemoryLimit:      getEnv("SANDBOX_MEMORY_LIMIT", "512Mi"),
			EphemeralRequest: getEnv("SANDBOX_EPHEMERAL_REQUEST", "1Gi"),
			EphemeralLimit:   getEnv("SANDBOX_EPHEMERAL_LIMIT", "5Gi"),
			PIDLimit:         getEnv("SANDBOX_PID_LIMIT", "256"),
		},
		NodeHost:       getEnv("NODE_HOST", "host.docker.internal"),
		InternalCIDRs:  splitList(getEnv("INTERNAL_CIDRS", "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16")),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
