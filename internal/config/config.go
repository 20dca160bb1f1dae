// Package config handles Parlor configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./parlor.yaml, ~/.config/parlor/config.yaml, /etc/parlor/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"parlor.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parlor", "config.yaml"))
	}

	paths = append(paths, "/etc/parlor/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Parlor configuration.
type Config struct {
	Listen      ListenConfig     `yaml:"listen"`
	Providers   []ProviderConfig `yaml:"providers"`
	DataDir     string           `yaml:"data_dir"`
	PresetsFile string           `yaml:"presets_file"`
	LogLevel    string           `yaml:"log_level"`
}

// ListenConfig defines the gateway server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ProviderConfig defines one upstream LLM API endpoint.
type ProviderConfig struct {
	// ID selects the wire protocol and identifies the provider in
	// presets. "anthropic" speaks the Anthropic Messages API; anything
	// else is treated as OpenAI-compatible.
	ID      string `yaml:"id"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Streaming controls whether chat requests use SSE. Omitted means
	// streaming on.
	Streaming *bool `yaml:"streaming"`
}

// StreamingEnabled resolves the streaming flag with its default of true.
func (p ProviderConfig) StreamingEnabled() bool {
	return p.Streaming == nil || *p.Streaming
}

// Provider returns the provider entry with the given id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so api_key can use ${OPENAI_API_KEY}.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:      ListenConfig{Port: 8420},
		DataDir:     "data",
		PresetsFile: "presets.yaml",
		Providers: []ProviderConfig{
			{
				ID:      "openai",
				BaseURL: "https://api.openai.com/v1",
			},
			{
				ID:      "anthropic",
				BaseURL: "https://api.anthropic.com/v1",
			},
		},
	}
}
