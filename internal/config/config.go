// Package config provides configuration loading and validation for the
// HoneyTrap gateway.
//
// Configuration file: /etc/honeytrap/config.yaml (default)
// Schema version: 1
//
// Process-wide state (admin credentials, inactivity limit, the seeded
// port set, the two channel ports) is read once at startup and never
// reloaded — there is no hot-reload path in this gateway.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (ports, timeouts).
//   - Invalid config on startup: the gateway refuses to start.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// DefaultDBPath is the default bbolt file location.
const DefaultDBPath = "/var/lib/honeytrap/honeytrap.db"

// Config is the root configuration structure for the gateway.
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	Store         StoreConfig         `yaml:"store"`
	Server        ServerConfig        `yaml:"server"`
	PortVis       PortVisConfig       `yaml:"port_visibility"`
	Policy        PolicyConfig        `yaml:"policy"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StoreConfig holds the bbolt-backed collection store parameters.
type StoreConfig struct {
	// DBPath is the absolute path to the bbolt file.
	// Default: /var/lib/honeytrap/honeytrap.db.
	DBPath string `yaml:"db_path"`
}

// ServerConfig holds the dual-channel message server parameters.
type ServerConfig struct {
	// ControlPort is the TCP port for the control channel. Default: 5000.
	ControlPort int `yaml:"control_port"`

	// DataPort is the TCP port for the data channel. Default: 5001.
	DataPort int `yaml:"data_port"`

	// IdleTimeout closes a connection after this much inactivity.
	// Default: 300s.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxConcurrentConns bounds simultaneous handled connections across
	// both channels combined. Default: 64.
	MaxConcurrentConns int `yaml:"max_concurrent_conns"`

	// BindRetries is the number of exponential-backoff bind attempts on
	// startup. Default: 5.
	BindRetries int `yaml:"bind_retries"`
}

// PortVisConfig holds the port visibility supervisor parameters.
type PortVisConfig struct {
	// PollInterval is the accept-loop deadline granularity.
	// Default: 500ms.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PolicyConfig holds decision-engine parameters.
type PolicyConfig struct {
	// InactivityLimit is the session idle threshold the inactivity sweep
	// enforces. Default: 300s.
	InactivityLimit time.Duration `yaml:"inactivity_limit"`

	// FailureThreshold is the number of failed attempts, per
	// (username, ip), before a port is flipped into decoy mode.
	// Default: 2.
	FailureThreshold int `yaml:"failure_threshold"`

	// AdminUsername and AdminPassword are the administrator credentials.
	// They default to compiled-in values (admin/admin123), which the
	// config file may override. They bypass the ban list, decoy ports, and the
	// failure counter, and never create a session.
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`

	// MinCredentialLength is the minimum accepted username/password
	// length. Default: 3.
	MinCredentialLength int `yaml:"min_credential_length"`
}

// SupervisorConfig holds the periodic sweep driver parameters.
type SupervisorConfig struct {
	// SweepInterval is the period between idle/inactivity sweeps.
	// Default: 300s.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// PollGranularity is how often the loop checks for shutdown between
	// sweeps. Default: 10s.
	PollGranularity time.Duration `yaml:"poll_granularity"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		SchemaVersion: "1",
		Store: StoreConfig{
			DBPath: DefaultDBPath,
		},
		Server: ServerConfig{
			ControlPort:        5000,
			DataPort:           5001,
			IdleTimeout:        300 * time.Second,
			MaxConcurrentConns: 64,
			BindRetries:        5,
		},
		PortVis: PortVisConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Policy: PolicyConfig{
			InactivityLimit:     300 * time.Second,
			FailureThreshold:    2,
			AdminUsername:       "admin",
			AdminPassword:       "admin123",
			MinCredentialLength: 3,
		},
		Supervisor: SupervisorConfig{
			SweepInterval:   300 * time.Second,
			PollGranularity: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.db_path must not be empty")
	}
	if cfg.Server.ControlPort < 1 || cfg.Server.ControlPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.control_port must be in [1, 65535], got %d", cfg.Server.ControlPort))
	}
	if cfg.Server.DataPort < 1 || cfg.Server.DataPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.data_port must be in [1, 65535], got %d", cfg.Server.DataPort))
	}
	if cfg.Server.ControlPort == cfg.Server.DataPort {
		errs = append(errs, "server.control_port and server.data_port must differ")
	}
	if cfg.Server.IdleTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be >= 1s, got %s", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxConcurrentConns < 1 {
		errs = append(errs, fmt.Sprintf("server.max_concurrent_conns must be >= 1, got %d", cfg.Server.MaxConcurrentConns))
	}
	if cfg.Server.BindRetries < 1 {
		errs = append(errs, fmt.Sprintf("server.bind_retries must be >= 1, got %d", cfg.Server.BindRetries))
	}
	if cfg.PortVis.PollInterval <= 0 || cfg.PortVis.PollInterval > 500*time.Millisecond {
		errs = append(errs, fmt.Sprintf("port_visibility.poll_interval must be in (0, 500ms], got %s", cfg.PortVis.PollInterval))
	}
	if cfg.Policy.InactivityLimit < time.Second {
		errs = append(errs, fmt.Sprintf("policy.inactivity_limit must be >= 1s, got %s", cfg.Policy.InactivityLimit))
	}
	if cfg.Policy.FailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("policy.failure_threshold must be >= 1, got %d", cfg.Policy.FailureThreshold))
	}
	if cfg.Policy.AdminUsername == "" || cfg.Policy.AdminPassword == "" {
		errs = append(errs, "policy.admin_username and policy.admin_password must not be empty")
	}
	if cfg.Policy.MinCredentialLength < 1 {
		errs = append(errs, fmt.Sprintf("policy.min_credential_length must be >= 1, got %d", cfg.Policy.MinCredentialLength))
	}
	if cfg.Supervisor.SweepInterval < time.Second {
		errs = append(errs, fmt.Sprintf("supervisor.sweep_interval must be >= 1s, got %s", cfg.Supervisor.SweepInterval))
	}
	if cfg.Supervisor.PollGranularity <= 0 || cfg.Supervisor.PollGranularity > 10*time.Second ||
		cfg.Supervisor.PollGranularity > cfg.Supervisor.SweepInterval {
		errs = append(errs, "supervisor.poll_granularity must be > 0, <= 10s and <= supervisor.sweep_interval")
	}
	if cfg.Observability.MetricsAddr == "" {
		errs = append(errs, "observability.metrics_addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
