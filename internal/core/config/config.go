package config

import (
	"fmt"
	"time"

	"github.com/taskhive/syncd/internal/infra/backend"
	"github.com/taskhive/syncd/internal/infra/journal"
	"github.com/taskhive/syncd/internal/infra/realtime"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Backend  backend.Config  `yaml:"backend"`
	Redis    realtime.Config `yaml:"redis"`
	Database journal.Config  `yaml:"database"`
	Logging  LoggingConfig   `yaml:"logging"`
	Sync     SyncConfig      `yaml:"sync"`
}

// ServerConfig holds the local diagnostics server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SyncConfig tunes the resilience core.
type SyncConfig struct {
	// Deadline tiers: cold-start calls, calls right after recovery, and
	// the health probe.
	InitialDeadline  Duration `yaml:"initial_deadline"`
	RecoveryDeadline Duration `yaml:"recovery_deadline"`
	HealthDeadline   Duration `yaml:"health_deadline"`

	// MinBackground is the backgrounding duration at or above which the
	// environment counts as stale.
	MinBackground Duration `yaml:"min_background"`

	// ForegroundDebounce coalesces visibility flicker before a probe.
	ForegroundDebounce Duration `yaml:"foreground_debounce"`

	// RetryBaseDelay is the first queue retry delay; doubled per attempt.
	RetryBaseDelay Duration `yaml:"retry_base_delay"`

	// ListID scopes the cached collection and its push channel.
	ListID string `yaml:"list_id"`
}

// Duration accepts human-friendly YAML values like "500ms" or "3s", and
// raw nanosecond integers.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n))
	return nil
}
