package pool

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultImage is the sandbox image used when none is configured.
	DefaultImage = "python:3.12-slim"

	// DefaultAutoStopInterval is the backend auto-stop hint, in minutes.
	DefaultAutoStopInterval = 15

	// DefaultMaxSandboxesPerUser is the per-user live-sandbox quota.
	DefaultMaxSandboxesPerUser = 3
)

// DefaultIdleTimeout is how long a sandbox may sit unused before the
// idle sweep releases it.
const DefaultIdleTimeout = 15 * time.Minute

// Config holds pooled-provider configuration.
//
// String values prefixed with $ are resolved from the process environment
// at load time (empty string when unset), so credentials never live in
// the config file itself.
type Config struct {
	// APIURL is the base URL of the remote sandbox-creation API.
	APIURL string

	// APIKey authenticates calls to the remote API. Optional.
	APIKey string

	// Image is the container image new sandboxes run.
	Image string

	// AutoStopInterval is passed to the backend as an idle-to-zero
	// hint, in minutes. 0 disables the hint.
	AutoStopInterval int

	// IdleTimeout is the pool-side idle eviction threshold. Values
	// <= 0 disable the idle sweep entirely.
	IdleTimeout time.Duration

	// MaxSandboxesPerUser caps concurrent sandboxes per user.
	// 0 means unlimited.
	MaxSandboxesPerUser int

	// Environment is injected into every new sandbox.
	Environment map[string]string

	// SweepInterval is how often the idle sweep wakes up.
	SweepInterval time.Duration
}

// rawConfig mirrors the sandbox section of the YAML config file.
// Pointer fields distinguish "absent" from an explicit zero.
type rawConfig struct {
	Sandbox struct {
		APIURL              string            `yaml:"api_url"`
		APIKey              string            `yaml:"api_key"`
		Image               string            `yaml:"image"`
		AutoStopInterval    *int              `yaml:"auto_stop_interval"`
		IdleTimeout         *int              `yaml:"idle_timeout"`
		MaxSandboxesPerUser *int              `yaml:"max_sandboxes_per_user"`
		Environment         map[string]string `yaml:"environment"`
	} `yaml:"sandbox"`
}

// DefaultConfig returns a config with all defaults applied
func DefaultConfig() *Config {
	return &Config{
		Image:               DefaultImage,
		AutoStopInterval:    DefaultAutoStopInterval,
		IdleTimeout:         DefaultIdleTimeout,
		MaxSandboxesPerUser: DefaultMaxSandboxesPerUser,
		Environment:         map[string]string{},
		SweepInterval:       time.Minute,
	}
}

// LoadConfig reads the sandbox section from a YAML config file and
// resolves $NAME indirections against the process environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := DefaultConfig()
	sb := raw.Sandbox

	cfg.APIURL = resolveEnv(sb.APIURL)
	cfg.APIKey = resolveEnv(sb.APIKey)
	if sb.Image != "" {
		cfg.Image = resolveEnv(sb.Image)
	}
	if sb.AutoStopInterval != nil {
		cfg.AutoStopInterval = *sb.AutoStopInterval
	}
	if sb.IdleTimeout != nil {
		cfg.IdleTimeout = time.Duration(*sb.IdleTimeout) * time.Second
	}
	if sb.MaxSandboxesPerUser != nil {
		cfg.MaxSandboxesPerUser = *sb.MaxSandboxesPerUser
	}
	for key, value := range sb.Environment {
		cfg.Environment[key] = resolveEnv(value)
	}

	return cfg, nil
}

// resolveEnv substitutes values prefixed with $ from the process
// environment, defaulting to empty string when the variable is unset.
func resolveEnv(value string) string {
	if strings.HasPrefix(value, "$") {
		return os.Getenv(value[1:])
	}
	return value
}
