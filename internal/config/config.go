package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port"`
	DBPath   string `yaml:"db_path"`
	APIKey   string `yaml:"api_key"`
	LogLevel string `yaml:"log_level"`
	// Tier 1 queue
	MaxActiveConversations int `yaml:"max_active_conversations"`
	// Protection layer
	SnapshotRetention int `yaml:"snapshot_retention"`
	// Confidence decay
	DecayMode          string  `yaml:"decay_mode"`
	DecayRatePerDay    float64 `yaml:"decay_rate_per_day"`
	DecayThresholdDays int     `yaml:"decay_threshold_days"`
}

// Load builds the configuration from an optional YAML file overlaid with
// environment variables. Env always wins so container deployments can
// override a baked-in file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:                   8742,
		DBPath:                 "/data/engram.db",
		LogLevel:               "info",
		MaxActiveConversations: 20,
		SnapshotRetention:      10,
		DecayMode:              "linear",
		DecayRatePerDay:        0.01,
		DecayThresholdDays:     30,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Port = envInt("PORT", cfg.Port)
	cfg.DBPath = envStr("ENGRAM_DB_PATH", cfg.DBPath)
	cfg.APIKey = envStr("ENGRAM_API_KEY", cfg.APIKey)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.MaxActiveConversations = envInt("MAX_ACTIVE_CONVERSATIONS", cfg.MaxActiveConversations)
	cfg.SnapshotRetention = envInt("SNAPSHOT_RETENTION", cfg.SnapshotRetention)
	cfg.DecayMode = envStr("DECAY_MODE", cfg.DecayMode)
	cfg.DecayRatePerDay = envFloat("DECAY_RATE_PER_DAY", cfg.DecayRatePerDay)
	cfg.DecayThresholdDays = envInt("DECAY_THRESHOLD_DAYS", cfg.DecayThresholdDays)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("ENGRAM_DB_PATH must not be empty")
	}
	if c.MaxActiveConversations < 1 {
		return fmt.Errorf("MAX_ACTIVE_CONVERSATIONS must be positive, got %d", c.MaxActiveConversations)
	}
	if c.SnapshotRetention < 1 {
		return fmt.Errorf("SNAPSHOT_RETENTION must be positive, got %d", c.SnapshotRetention)
	}
	if c.DecayMode != "linear" && c.DecayMode != "exponential" {
		return fmt.Errorf("DECAY_MODE must be linear or exponential, got %q", c.DecayMode)
	}
	if c.DecayRatePerDay < 0 || c.DecayRatePerDay > 1 {
		return fmt.Errorf("DECAY_RATE_PER_DAY must be within [0, 1], got %f", c.DecayRatePerDay)
	}
	if c.DecayThresholdDays < 1 {
		return fmt.Errorf("DECAY_THRESHOLD_DAYS must be positive, got %d", c.DecayThresholdDays)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
