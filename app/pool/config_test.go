package pool

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadConfig_ResolvesEnvIndirection(t *testing.T) {
	t.Setenv("TEST_SANDBOX_API_KEY", "secret-123")
	t.Setenv("TEST_MY_API_KEY", "env-value")

	path := writeConfigFile(t, `
sandbox:
  api_url: https://sandboxes.example.com/api
  api_key: $TEST_SANDBOX_API_KEY
  environment:
    NODE_ENV: production
    API_KEY: $TEST_MY_API_KEY
    MISSING: $TEST_DOES_NOT_EXIST
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.APIKey != "secret-123" {
		t.Errorf("APIKey = %q; want secret-123", cfg.APIKey)
	}
	if cfg.Environment["NODE_ENV"] != "production" {
		t.Errorf("NODE_ENV = %q; want production (literal value untouched)", cfg.Environment["NODE_ENV"])
	}
	if cfg.Environment["API_KEY"] != "env-value" {
		t.Errorf("API_KEY = %q; want env-value", cfg.Environment["API_KEY"])
	}
	if cfg.Environment["MISSING"] != "" {
		t.Errorf("MISSING = %q; want empty string for unset variable", cfg.Environment["MISSING"])
	}
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
sandbox:
  api_url: https://sandboxes.example.com/api
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Image != DefaultImage {
		t.Errorf("Image = %q; want %q", cfg.Image, DefaultImage)
	}
	if cfg.AutoStopInterval != DefaultAutoStopInterval {
		t.Errorf("AutoStopInterval = %d; want %d", cfg.AutoStopInterval, DefaultAutoStopInterval)
	}
	if cfg.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %s; want %s", cfg.IdleTimeout, DefaultIdleTimeout)
	}
	if cfg.MaxSandboxesPerUser != DefaultMaxSandboxesPerUser {
		t.Errorf("MaxSandboxesPerUser = %d; want %d", cfg.MaxSandboxesPerUser, DefaultMaxSandboxesPerUser)
	}
}

func TestLoadConfig_ExplicitZeroDisablesQuotaAndSweep(t *testing.T) {
	path := writeConfigFile(t, `
sandbox:
  max_sandboxes_per_user: 0
  idle_timeout: 0
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.MaxSandboxesPerUser != 0 {
		t.Errorf("MaxSandboxesPerUser = %d; want 0 (unlimited)", cfg.MaxSandboxesPerUser)
	}
	if cfg.IdleTimeout != 0 {
		t.Errorf("IdleTimeout = %s; want 0 (sweep disabled)", cfg.IdleTimeout)
	}
}

func TestLoadConfig_ParsesIdleTimeoutSeconds(t *testing.T) {
	path := writeConfigFile(t, `
sandbox:
  idle_timeout: 120
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.IdleTimeout != 2*time.Minute {
		t.Errorf("IdleTimeout = %s; want 2m", cfg.IdleTimeout)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadConfig succeeded for a missing file; want error")
	}
}
