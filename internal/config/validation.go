package config

import (
	"fmt"
	"math"
)

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.TickPeriodMS <= 0 {
		return fmt.Errorf("tick_period_ms must be positive, got %d", c.TickPeriodMS)
	}
	if c.GuardianMinAuthority < 1 || c.GuardianMinAuthority > 5 {
		return fmt.Errorf("guardian_min_authority must be in [1,5], got %d", c.GuardianMinAuthority)
	}

	q := c.Queue
	if q.PriorityWeight < 0 || q.AgeWeight < 0 {
		return fmt.Errorf("queue weights must be non-negative")
	}
	if math.Abs(q.PriorityWeight+q.AgeWeight-1.0) > 1e-9 {
		return fmt.Errorf("queue priority_weight + age_weight must equal 1, got %g", q.PriorityWeight+q.AgeWeight)
	}
	if q.AgeCeilingSeconds <= 0 {
		return fmt.Errorf("queue age_ceiling_seconds must be positive, got %d", q.AgeCeilingSeconds)
	}
	if q.RetryBaseSeconds < 0 || q.RetryCapSeconds < q.RetryBaseSeconds {
		return fmt.Errorf("queue retry_cap_seconds must be >= retry_base_seconds")
	}
	if q.RetryJitter < 0 || q.RetryJitter >= 1 {
		return fmt.Errorf("queue retry_jitter must be in [0,1), got %g", q.RetryJitter)
	}
	if q.DefaultMaxRetries < 0 {
		return fmt.Errorf("queue default_max_retries must be non-negative, got %d", q.DefaultMaxRetries)
	}

	h := c.Health
	for name, v := range map[string]int{
		"heartbeat_sweep_seconds":    h.HeartbeatSweepSeconds,
		"task_timeout_sweep_seconds": h.TaskTimeoutSweepSeconds,
		"stuck_sweep_seconds":        h.StuckSweepSeconds,
		"heartbeat_stale_seconds":    h.HeartbeatStaleSeconds,
		"stuck_threshold_seconds":    h.StuckThresholdSeconds,
		"stuck_cooldown_seconds":     h.StuckCooldownSeconds,
	} {
		if v <= 0 {
			return fmt.Errorf("health %s must be positive, got %d", name, v)
		}
	}

	switch c.Store.Dialect {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store dialect must be sqlite or postgres, got %q", c.Store.Dialect)
	}
	if c.Store.DeadlineSeconds <= 0 {
		return fmt.Errorf("store deadline_seconds must be positive, got %d", c.Store.DeadlineSeconds)
	}

	return nil
}
