// Copyright 2025 Certen Protocol
//
// Settings Loader - YAML overrides with environment substitution
//
// An optional settings file overrides the environment-driven defaults.
// Environment variables in the format ${VAR_NAME} or ${VAR_NAME:-default}
// are substituted before parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the YAML override document.
type Settings struct {
	Network NetworkSettings `yaml:"network"`
	Economy EconomySettings `yaml:"economy"`
	Cache   CacheSettings   `yaml:"cache"`
	Run     RunSettings     `yaml:"run"`
}

// NetworkSettings overrides the simulated network shape.
type NetworkSettings struct {
	NodeCount       int     `yaml:"node_count"`
	ConnectionCount int     `yaml:"connection_count"`
	FailureRate     float64 `yaml:"failure_rate"`
	MinDelay        int     `yaml:"min_delay"`
	MaxDelay        int     `yaml:"max_delay"`
	MessageMaxAge   int     `yaml:"message_max_age"`
}

// EconomySettings overrides users and payment sampling.
type EconomySettings struct {
	UserCount   int     `yaml:"user_count"`
	PaymentRate float64 `yaml:"payment_rate"`
}

// CacheSettings overrides validator cache timing.
type CacheSettings struct {
	TTL          Duration `yaml:"ttl"`
	ReapInterval Duration `yaml:"reap_interval"`
}

// RunSettings overrides run control.
type RunSettings struct {
	Seed         int64    `yaml:"seed"`
	MaxTicks     int      `yaml:"max_ticks"`
	TickInterval Duration `yaml:"tick_interval"`
}

// Duration wraps time.Duration with YAML string parsing ("250ms", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadSettings reads a YAML settings file, substitutes environment
// variables and applies the non-zero fields over cfg.
func LoadSettings(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var s Settings
	if err := yaml.Unmarshal([]byte(expanded), &s); err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.apply(cfg)
	return nil
}

func (s *Settings) apply(cfg *Config) {
	if s.Network.NodeCount > 0 {
		cfg.NodeCount = s.Network.NodeCount
	}
	if s.Network.ConnectionCount > 0 {
		cfg.ConnectionCount = s.Network.ConnectionCount
	}
	if s.Network.FailureRate > 0 {
		cfg.FailureRate = s.Network.FailureRate
	}
	if s.Network.MinDelay > 0 {
		cfg.MinDelay = uint64(s.Network.MinDelay)
	}
	if s.Network.MaxDelay > 0 {
		cfg.MaxDelay = uint64(s.Network.MaxDelay)
	}
	if s.Network.MessageMaxAge > 0 {
		cfg.MessageMaxAge = uint64(s.Network.MessageMaxAge)
	}
	if s.Economy.UserCount > 0 {
		cfg.UserCount = s.Economy.UserCount
	}
	if s.Economy.PaymentRate > 0 {
		cfg.PaymentRate = s.Economy.PaymentRate
	}
	if s.Cache.TTL > 0 {
		cfg.CacheTTL = time.Duration(s.Cache.TTL)
	}
	if s.Cache.ReapInterval > 0 {
		cfg.ReapInterval = time.Duration(s.Cache.ReapInterval)
	}
	if s.Run.Seed != 0 {
		cfg.Seed = s.Run.Seed
	}
	if s.Run.MaxTicks > 0 {
		cfg.MaxTicks = uint64(s.Run.MaxTicks)
	}
	if s.Run.TickInterval > 0 {
		cfg.TickInterval = time.Duration(s.Run.TickInterval)
	}
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
