// Package config provides configuration for both halves of 0k-Sync:
// ServerConfig, loaded from YAML and validated, for the relay process,
// and SyncConfig, built in memory, for the client-side library surface.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the relay's complete process configuration.
type ServerConfig struct {
	Server  ServerListenConfig `yaml:"server"`
	Logging LoggingConfig      `yaml:"logging"`
	Storage StorageConfig      `yaml:"storage"`
	Limits  ServerLimitsConfig `yaml:"limits"`
	HTTP    ServerHTTPConfig   `yaml:"http"`
	Cleanup CleanupConfig      `yaml:"cleanup"`
}

// LoggingConfig controls internal/logging.NewLogger's construction.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerListenConfig controls the relay's sync transport listener.
type ServerListenConfig struct {
	// BindAddress is where the relay listens for device connections.
	BindAddress string `yaml:"bind_address"`

	// SecretKeyPath is where the relay's long-term identity key is
	// stored. Generated on first run if the file does not exist.
	SecretKeyPath string `yaml:"secret_key_path"`
}

// StorageConfig bounds what the relay will store on a group's behalf.
type StorageConfig struct {
	// Database is the storage backend's path. Reserved: the relay's
	// current storage engine (internal/relaystore) is an in-process,
	// mutex-guarded store with no on-disk backing, so this field is
	// parsed and validated but not yet consumed. It exists so a future
	// durable backend can be swapped in without a config format change.
	Database string `yaml:"database"`

	// MaxBlobSize bounds a single PUSH payload, in bytes.
	MaxBlobSize int `yaml:"max_blob_size"`

	// MaxGroupStorage bounds total stored payload bytes per group.
	MaxGroupStorage int64 `yaml:"max_group_storage"`

	// DefaultTTL is used when a PUSH request's ttl is 0.
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ServerLimitsConfig holds the relay's admission and rate-limit knobs.
type ServerLimitsConfig struct {
	// ConnectionsPerIP bounds new connections per minute from one
	// remote endpoint.
	ConnectionsPerIP int `yaml:"connections_per_ip"`

	// MessagesPerMinute bounds messages per minute from one device.
	MessagesPerMinute int `yaml:"messages_per_minute"`

	// HelloTimeoutSecs bounds how long a connection may sit without
	// sending HELLO before the relay closes it.
	HelloTimeoutSecs int `yaml:"hello_timeout_secs"`

	// MaxConcurrentSessions caps sessions server-wide; further accepts
	// are closed immediately once reached.
	MaxConcurrentSessions int64 `yaml:"max_concurrent_sessions"`

	// MaxDeviceNameLen bounds a HELLO's device_name field, in runes.
	MaxDeviceNameLen int `yaml:"max_device_name_len"`

	// MaxPullLimit bounds a PULL request's limit field.
	MaxPullLimit int `yaml:"max_pull_limit"`

	// GlobalRequestsPerSecond bounds total message throughput across
	// every connected device.
	GlobalRequestsPerSecond int `yaml:"global_requests_per_second"`
}

// ServerHTTPConfig controls the relay's /health and /metrics side channel.
type ServerHTTPConfig struct {
	BindAddress    string `yaml:"bind_address"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// CleanupConfig controls the background expired-blob sweep.
type CleanupConfig struct {
	IntervalSecs int  `yaml:"interval_secs"`
	Enabled      bool `yaml:"enabled"`
}

// DefaultServerConfig returns the relay's defaults, matching the values
// a freshly generated config file would hold.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerListenConfig{
			BindAddress:   "0.0.0.0:4433",
			SecretKeyPath: "./relay-secret.key",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Database:        "./0k-sync.db",
			MaxBlobSize:     1 << 20,   // 1 MiB
			MaxGroupStorage: 100 << 20, // 100 MiB
			DefaultTTL:      7 * 24 * time.Hour,
		},
		Limits: ServerLimitsConfig{
			ConnectionsPerIP:        10,
			MessagesPerMinute:       100,
			HelloTimeoutSecs:        10,
			MaxConcurrentSessions:   10_000,
			MaxDeviceNameLen:        256,
			MaxPullLimit:            1000,
			GlobalRequestsPerSecond: 1000,
		},
		HTTP: ServerHTTPConfig{
			BindAddress:    ":9090",
			MetricsEnabled: true,
		},
		Cleanup: CleanupConfig{
			IntervalSecs: 3600,
			Enabled:      true,
		},
	}
}

// LoadServerConfig reads and parses a relay configuration file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseServerConfig(data)
}

// ParseServerConfig parses relay configuration from YAML bytes, applying
// defaults for anything the document omits.
func ParseServerConfig(data []byte) (*ServerConfig, error) {
	expanded := expandEnvVars(string(data))

	cfg := DefaultServerConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internally inconsistent or
// out-of-range values, per spec.md §7's "Configuration" error kind:
// these are rejected at config validation, not discovered at runtime.
func (c *ServerConfig) Validate() error {
	var errs []string

	if c.Server.BindAddress == "" {
		errs = append(errs, "server.bind_address is required")
	}
	if c.Server.SecretKeyPath == "" {
		errs = append(errs, "server.secret_key_path is required")
	}
	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, fmt.Sprintf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !isValidLogFormat(c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}
	if c.Storage.MaxBlobSize <= 0 {
		errs = append(errs, "storage.max_blob_size must be positive")
	}
	if c.Storage.MaxGroupStorage <= 0 {
		errs = append(errs, "storage.max_group_storage must be positive")
	}
	if int64(c.Storage.MaxBlobSize) > c.Storage.MaxGroupStorage {
		errs = append(errs, "storage.max_blob_size must not exceed storage.max_group_storage")
	}
	if c.Storage.DefaultTTL <= 0 {
		errs = append(errs, "storage.default_ttl must be positive")
	}
	if c.Limits.ConnectionsPerIP <= 0 {
		errs = append(errs, "limits.connections_per_ip must be positive")
	}
	if c.Limits.MessagesPerMinute <= 0 {
		errs = append(errs, "limits.messages_per_minute must be positive")
	}
	if c.Limits.HelloTimeoutSecs <= 0 {
		errs = append(errs, "limits.hello_timeout_secs must be positive")
	}
	if c.Limits.MaxConcurrentSessions < 0 {
		errs = append(errs, "limits.max_concurrent_sessions must not be negative")
	}
	if c.Limits.MaxDeviceNameLen <= 0 {
		errs = append(errs, "limits.max_device_name_len must be positive")
	}
	if c.Limits.MaxPullLimit <= 0 {
		errs = append(errs, "limits.max_pull_limit must be positive")
	}
	if c.Limits.GlobalRequestsPerSecond <= 0 {
		errs = append(errs, "limits.global_requests_per_second must be positive")
	}
	if c.HTTP.BindAddress == "" {
		errs = append(errs, "http.bind_address is required")
	}
	if c.Cleanup.IntervalSecs <= 0 {
		errs = append(errs, "cleanup.interval_secs must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values, supporting ${VAR:-default} fallbacks.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
