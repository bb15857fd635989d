package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML file; flags given on the command line win over it.
type Config struct {
	ID         string `yaml:"id"`
	ServiceTag string `yaml:"service_tag"`
	Manual     bool   `yaml:"manual"`
	Remember   string `yaml:"remember"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	InviteTimeout    time.Duration `yaml:"invite_timeout"`
	ReconnectGrace   time.Duration `yaml:"reconnect_grace"`
	AnnounceInterval time.Duration `yaml:"announce_interval"`
}

// LoadConfig loads a configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.InviteTimeout < 0 {
		return fmt.Errorf("invite_timeout must not be negative")
	}
	if c.ReconnectGrace < 0 {
		return fmt.Errorf("reconnect_grace must not be negative")
	}
	if c.AnnounceInterval < 0 {
		return fmt.Errorf("announce_interval must not be negative")
	}

	switch c.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}

	return nil
}
