package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load loads configuration with the standard precedence.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. User config (~/.orchard/config.yaml) - optional
//  3. Project config (.orchard/config.yaml) - optional
//  4. Environment variables (ORCHARD_*)
func Load() (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, OrchardDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(OrchardDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err // project config errors are fatal
		}
	}

	applyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from an explicit path over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := mergeFromFile(cfg, path); err != nil {
		return nil, err
	}
	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile unmarshals path over cfg. Fields absent from the file
// keep their current values.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvVars overrides cfg from ORCHARD_* environment variables.
func applyEnvVars(cfg *Config) {
	if v := os.Getenv("ORCHARD_STORE_DIALECT"); v != "" {
		cfg.Store.Dialect = v
	}
	if v := os.Getenv("ORCHARD_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("ORCHARD_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ORCHARD_TICK_PERIOD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TickPeriodMS = n
		} else {
			slog.Warn("ignoring invalid ORCHARD_TICK_PERIOD_MS", "value", v)
		}
	}
	if v := os.Getenv("ORCHARD_PHASE_CATALOG"); v != "" {
		cfg.PhaseCatalogPath = v
	}
}
