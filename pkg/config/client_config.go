package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClientConfig represents the client configuration file
type ClientConfig struct {
	// Relay URL (e.g., wss://relay.example.com)
	Server string `yaml:"server" mapstructure:"server"`
	// Port of the local HTTP server
	LocalPort  int    `yaml:"local_port" mapstructure:"local_port"`
	TunnelName string `yaml:"tunnel_name,omitempty" mapstructure:"tunnel_name"`
	// Optional listen address for /metrics
	MetricsAddr string `yaml:"metrics_addr,omitempty" mapstructure:"metrics_addr"`
	// Skip TLS verification (testing only)
	Insecure bool `yaml:"insecure,omitempty" mapstructure:"insecure"`
	Verbose  bool `yaml:"verbose,omitempty" mapstructure:"verbose"`
}

// DefaultClientConfigPath returns the default configuration path
func DefaultClientConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tunnelproxy/config.yaml"
	}
	return filepath.Join(home, ".tunnelproxy", "config.yaml")
}

// Validate checks the fields a tunnel cannot start without
func (c *ClientConfig) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server address is required")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid server URL %q: scheme must be http, https, ws or wss", c.Server)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server URL %q: missing host", c.Server)
	}
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return fmt.Errorf("invalid local port: %d (must be 1-65535)", c.LocalPort)
	}
	return nil
}

// LoadClientConfig loads configuration from file
func LoadClientConfig(path string) (*ClientConfig, error) {
	if path == "" {
		path = DefaultClientConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s, please run 'tunnelproxy config init' first", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ClientConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &config, nil
}

// SaveClientConfig saves configuration to file
func SaveClientConfig(config *ClientConfig, path string) error {
	if path == "" {
		path = DefaultClientConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigExists checks if config file exists
func ConfigExists(path string) bool {
	if path == "" {
		path = DefaultClientConfigPath()
	}
	_, err := os.Stat(path)
	return err == nil
}
