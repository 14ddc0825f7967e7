package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Server.BindAddress != "0.0.0.0:4433" {
		t.Errorf("Server.BindAddress = %s, want 0.0.0.0:4433", cfg.Server.BindAddress)
	}
	if cfg.Storage.MaxBlobSize != 1<<20 {
		t.Errorf("Storage.MaxBlobSize = %d, want %d", cfg.Storage.MaxBlobSize, 1<<20)
	}
	if cfg.Storage.MaxGroupStorage != 100<<20 {
		t.Errorf("Storage.MaxGroupStorage = %d, want %d", cfg.Storage.MaxGroupStorage, 100<<20)
	}
	if cfg.Storage.DefaultTTL != 7*24*time.Hour {
		t.Errorf("Storage.DefaultTTL = %v, want 7d", cfg.Storage.DefaultTTL)
	}
	if cfg.Limits.MaxConcurrentSessions != 10_000 {
		t.Errorf("Limits.MaxConcurrentSessions = %d, want 10000", cfg.Limits.MaxConcurrentSessions)
	}
	if cfg.HTTP.BindAddress != ":9090" {
		t.Errorf("HTTP.BindAddress = %s, want :9090", cfg.HTTP.BindAddress)
	}
	if !cfg.Cleanup.Enabled || cfg.Cleanup.IntervalSecs != 3600 {
		t.Errorf("Cleanup = %+v, want enabled/3600s", cfg.Cleanup)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestParseServerConfig_OverridesDefaults(t *testing.T) {
	yamlConfig := `
server:
  bind_address: "127.0.0.1:5000"
limits:
  max_concurrent_sessions: 50
`
	cfg, err := ParseServerConfig([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("ParseServerConfig() error = %v", err)
	}
	if cfg.Server.BindAddress != "127.0.0.1:5000" {
		t.Errorf("Server.BindAddress = %s, want 127.0.0.1:5000", cfg.Server.BindAddress)
	}
	// untouched fields keep their defaults
	if cfg.Storage.MaxBlobSize != 1<<20 {
		t.Errorf("Storage.MaxBlobSize = %d, want default", cfg.Storage.MaxBlobSize)
	}
	if cfg.Limits.MaxConcurrentSessions != 50 {
		t.Errorf("Limits.MaxConcurrentSessions = %d, want 50", cfg.Limits.MaxConcurrentSessions)
	}
}

func TestParseServerConfig_ExpandsEnvVars(t *testing.T) {
	os.Setenv("ZEROKSYNC_TEST_BIND", "10.0.0.1:4433")
	defer os.Unsetenv("ZEROKSYNC_TEST_BIND")

	yamlConfig := `
server:
  bind_address: "${ZEROKSYNC_TEST_BIND}"
`
	cfg, err := ParseServerConfig([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("ParseServerConfig() error = %v", err)
	}
	if cfg.Server.BindAddress != "10.0.0.1:4433" {
		t.Errorf("Server.BindAddress = %s, want env-expanded value", cfg.Server.BindAddress)
	}
}

func TestParseServerConfig_RejectsInvalidValues(t *testing.T) {
	yamlConfig := `
storage:
  max_blob_size: 0
`
	if _, err := ParseServerConfig([]byte(yamlConfig)); err == nil {
		t.Fatal("expected validation error for zero max_blob_size")
	}
}

func TestParseServerConfig_RejectsBlobSizeOverGroupStorage(t *testing.T) {
	yamlConfig := `
storage:
  max_blob_size: 200
  max_group_storage: 100
`
	if _, err := ParseServerConfig([]byte(yamlConfig)); err == nil {
		t.Fatal("expected validation error when max_blob_size exceeds max_group_storage")
	}
}

func TestLoadServerConfig_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("server:\n  bind_address: \"0.0.0.0:9999\"\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig() error = %v", err)
	}
	if cfg.Server.BindAddress != "0.0.0.0:9999" {
		t.Errorf("Server.BindAddress = %s, want 0.0.0.0:9999", cfg.Server.BindAddress)
	}
}

func TestLoadServerConfig_MissingFile(t *testing.T) {
	if _, err := LoadServerConfig("/nonexistent/relay.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
