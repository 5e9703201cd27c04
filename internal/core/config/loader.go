package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads the YAML config at path, expanding ${VAR} references from
// the environment before parsing.
func Load(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8087
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Sync.InitialDeadline == 0 {
		cfg.Sync.InitialDeadline = Duration(10 * time.Second)
	}
	if cfg.Sync.RecoveryDeadline == 0 {
		cfg.Sync.RecoveryDeadline = Duration(3 * time.Second)
	}
	if cfg.Sync.HealthDeadline == 0 {
		cfg.Sync.HealthDeadline = Duration(3 * time.Second)
	}
	if cfg.Sync.MinBackground == 0 {
		cfg.Sync.MinBackground = Duration(500 * time.Millisecond)
	}
	if cfg.Sync.ForegroundDebounce == 0 {
		cfg.Sync.ForegroundDebounce = Duration(250 * time.Millisecond)
	}
	if cfg.Sync.RetryBaseDelay == 0 {
		cfg.Sync.RetryBaseDelay = Duration(time.Second)
	}
	if cfg.Sync.ListID == "" {
		cfg.Sync.ListID = "default"
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Backend.BaseURL == "" && cfg.Backend.GRPCEndpoint == "" {
		return fmt.Errorf("config: backend.base_url or backend.grpc_endpoint is required")
	}
	return nil
}
