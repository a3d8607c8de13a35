package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 250, cfg.TickPeriodMS)
	assert.Equal(t, 4, cfg.GuardianMinAuthority)
	assert.Equal(t, 0.45, cfg.Queue.PriorityWeight)
	assert.Equal(t, 0.55, cfg.Queue.AgeWeight)
	assert.Equal(t, 3600, cfg.Queue.AgeCeilingSeconds)
	assert.Equal(t, 3, cfg.Queue.DefaultMaxRetries)
	assert.Equal(t, 90, cfg.Health.HeartbeatStaleSeconds)
	assert.Equal(t, 60, cfg.Health.StuckCooldownSeconds)
	assert.Equal(t, "sqlite", cfg.Store.Dialect)
	assert.Equal(t, 5, cfg.Store.DeadlineSeconds)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
tick_period_ms: 100
queue:
  priority_weight: 0.5
  age_weight: 0.5
health:
  stuck_cooldown_seconds: 120
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.TickPeriodMS)
	assert.Equal(t, 0.5, cfg.Queue.PriorityWeight)
	assert.Equal(t, 120, cfg.Health.StuckCooldownSeconds)
	// Untouched fields keep defaults.
	assert.Equal(t, 3600, cfg.Queue.AgeCeilingSeconds)
	assert.Equal(t, 90, cfg.Health.HeartbeatStaleSeconds)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.TickPeriodMS = 0 }},
		{"weights not summing to 1", func(c *Config) { c.Queue.PriorityWeight = 0.9 }},
		{"negative retries", func(c *Config) { c.Queue.DefaultMaxRetries = -1 }},
		{"jitter out of range", func(c *Config) { c.Queue.RetryJitter = 1.5 }},
		{"unknown dialect", func(c *Config) { c.Store.Dialect = "oracle" }},
		{"authority out of range", func(c *Config) { c.GuardianMinAuthority = 9 }},
		{"zero stale threshold", func(c *Config) { c.Health.HeartbeatStaleSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORCHARD_STORE_DIALECT", "postgres")
	t.Setenv("ORCHARD_STORE_DSN", "postgres://localhost/orchard")
	t.Setenv("ORCHARD_TICK_PERIOD_MS", "500")

	cfg := Default()
	applyEnvVars(cfg)

	assert.Equal(t, "postgres", cfg.Store.Dialect)
	assert.Equal(t, "postgres://localhost/orchard", cfg.Store.DSN)
	assert.Equal(t, 500, cfg.TickPeriodMS)
}
