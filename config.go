package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"messgate/indicator"
	"messgate/monitor"
	"messgate/mqtt"
	"messgate/server"
	"messgate/session"
	"messgate/store"
	"messgate/turnstile"
	"messgate/wedge"
)

// Config is the main configuration structure for messgate.
type Config struct {
	// ClientID names this terminal in MQTT topics and logs.
	ClientID string `yaml:"client_id"`

	// GuestID overrides the shared guest identity. Empty keeps the
	// default.
	GuestID string `yaml:"guest_id"`

	// Relaxed enables off-hours entries under the fallback session label.
	Relaxed bool `yaml:"relaxed"`

	// Sessions overrides the default meal windows.
	Sessions []session.Window `yaml:"sessions"`

	// BridgeTimeout bounds how long the reader thread waits for a
	// decision. Zero = 5s.
	BridgeTimeout time.Duration `yaml:"bridge_timeout"`

	// Monitor configuration (mode, debounce, tag type)
	Monitor monitor.Config `yaml:"monitor"`

	// Storage configuration
	Store store.Config `yaml:"store"`

	// HTTP server configuration
	Server server.Config `yaml:"server"`

	// MQTT broker settings (optional)
	MQTT mqtt.Config `yaml:"mqtt"`

	// Wedge scanner settings (optional)
	Wedge wedge.Config `yaml:"wedge"`

	// Indicator configuration (optional)
	Indicator indicator.Config `yaml:"indicator"`

	// Turnstile barrier configuration (optional)
	Turnstile turnstile.Config `yaml:"turnstile"`
}

// loadConfig reads and decodes the YAML config file.
func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "messgate"
	}
	return &cfg, nil
}
