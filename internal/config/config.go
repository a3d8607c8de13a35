// Package config provides configuration management for orchard.
package config

import (
	"time"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// OrchardDir is the orchard configuration directory.
	OrchardDir = ".orchard"
)

// QueueConfig tunes the priority queue's score model and retry policy.
type QueueConfig struct {
	// PriorityWeight is w_p in the score formula (default 0.45).
	PriorityWeight float64 `yaml:"priority_weight"`
	// AgeWeight is w_a in the score formula (default 0.55).
	AgeWeight float64 `yaml:"age_weight"`
	// AgeCeilingSeconds caps the age contribution (default 3600).
	AgeCeilingSeconds int `yaml:"age_ceiling_seconds"`
	// RetryBaseSeconds is the base of the exponential back-off (default 1).
	RetryBaseSeconds int `yaml:"retry_base_seconds"`
	// RetryCapSeconds caps the back-off delay (default 60).
	RetryCapSeconds int `yaml:"retry_cap_seconds"`
	// RetryJitter is the uniform jitter fraction applied to the delay
	// (default 0.25, i.e. ±25%).
	RetryJitter float64 `yaml:"retry_jitter"`
	// DefaultMaxRetries applies when enqueue does not specify one (default 3).
	DefaultMaxRetries int `yaml:"default_max_retries"`
}

// HealthConfig tunes the health monitor's sweeps.
type HealthConfig struct {
	// HeartbeatSweepSeconds is the stale-agent scan period (default 10).
	HeartbeatSweepSeconds int `yaml:"heartbeat_sweep_seconds"`
	// TaskTimeoutSweepSeconds is the task timeout scan period (default 10).
	TaskTimeoutSweepSeconds int `yaml:"task_timeout_sweep_seconds"`
	// StuckSweepSeconds is the stuck-workflow scan period (default 60).
	StuckSweepSeconds int `yaml:"stuck_sweep_seconds"`
	// HeartbeatStaleSeconds is the liveness threshold (default 90).
	HeartbeatStaleSeconds int `yaml:"heartbeat_stale_seconds"`
	// StuckThresholdSeconds is the quiet period before a ticket with only
	// terminal tasks and no validated result counts as stuck (default 60).
	StuckThresholdSeconds int `yaml:"stuck_threshold_seconds"`
	// StuckCooldownSeconds suppresses repeat stuck alerts (default 60).
	StuckCooldownSeconds int `yaml:"stuck_cooldown_seconds"`
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	// Dialect selects the database backend: "sqlite" or "postgres".
	Dialect string `yaml:"dialect"`
	// DSN is the database path (sqlite) or connection string (postgres).
	DSN string `yaml:"dsn"`
	// DeadlineSeconds bounds every store operation (default 5).
	DeadlineSeconds int `yaml:"deadline_seconds"`
}

// ServerConfig configures the HTTP command surface.
type ServerConfig struct {
	// Addr is the listen address (default "127.0.0.1:7433").
	Addr string `yaml:"addr"`
}

// Config represents the orchard engine configuration.
type Config struct {
	// Version is the config file version.
	Version int `yaml:"version"`

	// TickPeriodMS is the orchestrator tick period (default 250).
	TickPeriodMS int `yaml:"tick_period_ms"`

	// GuardianMinAuthority is the authority floor for interventions (default 4).
	GuardianMinAuthority int `yaml:"guardian_min_authority"`

	Queue  QueueConfig  `yaml:"queue"`
	Health HealthConfig `yaml:"health"`
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`

	// PhaseCatalogPath optionally points at a YAML phase catalog that
	// overrides the built-in seed phases.
	PhaseCatalogPath string `yaml:"phase_catalog_path,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:              1,
		TickPeriodMS:         250,
		GuardianMinAuthority: 4,
		Queue: QueueConfig{
			PriorityWeight:    0.45,
			AgeWeight:         0.55,
			AgeCeilingSeconds: 3600,
			RetryBaseSeconds:  1,
			RetryCapSeconds:   60,
			RetryJitter:       0.25,
			DefaultMaxRetries: 3,
		},
		Health: HealthConfig{
			HeartbeatSweepSeconds:   10,
			TaskTimeoutSweepSeconds: 10,
			StuckSweepSeconds:       60,
			HeartbeatStaleSeconds:   90,
			StuckThresholdSeconds:   60,
			StuckCooldownSeconds:    60,
		},
		Store: StoreConfig{
			Dialect:         "sqlite",
			DSN:             ".orchard/orchard.db",
			DeadlineSeconds: 5,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7433",
		},
	}
}

// TickPeriod returns the orchestrator tick period as a duration.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodMS) * time.Millisecond
}

// StoreDeadline returns the per-operation store deadline.
func (c *Config) StoreDeadline() time.Duration {
	return time.Duration(c.Store.DeadlineSeconds) * time.Second
}
