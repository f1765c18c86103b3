// Package config holds all GeneForge core configuration. Configuration
// is loaded once at startup from a YAML file, then overridden by GFL_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all core configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Rule schema for AST validation
	Rules RulesConfig `yaml:"rules"`

	// Plugin discovery and dispatch
	Plugins PluginsConfig `yaml:"plugins"`

	// Forward-chaining inference
	Inference InferenceConfig `yaml:"inference"`

	// Run-history persistence
	Store StoreConfig `yaml:"store"`

	// HTTP API surface
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RulesConfig locates the declarative rule schema.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// PluginsConfig configures plugin discovery and execution.
type PluginsConfig struct {
	// Dir is the directory scanned for interpreted capability scripts.
	// Empty disables directory discovery.
	Dir string `yaml:"dir"`

	// Timeout bounds a single Evaluate/Execute call ("10s", "2m").
	Timeout string `yaml:"timeout"`

	// Watch enables hot reload of Dir via fsnotify.
	Watch bool `yaml:"watch"`

	// Credentials satisfy declared constructor requirements of
	// network-backed capabilities, keyed by requirement name.
	Credentials map[string]string `yaml:"credentials"`
}

// TimeoutDuration parses Timeout, falling back to the default.
func (p PluginsConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// InferenceConfig configures the forward chainer.
type InferenceConfig struct {
	// MaxPasses overrides the defensive pass bound. Zero means the
	// computed bound (#distinct conclusions + 1).
	MaxPasses int `yaml:"max_passes"`

	// CrossCheck re-derives every closure through the Datalog engine
	// and fails on divergence.
	CrossCheck bool `yaml:"cross_check"`
}

// StoreConfig configures the SQLite run-history store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Name:    "geneforge",
		Version: "0.1.0",
		Rules: RulesConfig{
			Path: "rules.yaml",
		},
		Plugins: PluginsConfig{
			Timeout:     "30s",
			Credentials: map[string]string{},
		},
		Inference: InferenceConfig{},
		Store: StoreConfig{
			Path: "geneforge.db",
		},
		Server: ServerConfig{
			Addr: ":8087",
		},
	}
}

// Load reads the YAML file at path, layers it over DefaultConfig and
// applies environment overrides. A missing file is not an error: the
// defaults plus environment are returned.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides maps GFL_* environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GFL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("GFL_PLUGIN_DIR"); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := os.Getenv("GFL_PLUGIN_TIMEOUT"); v != "" {
		cfg.Plugins.Timeout = v
	}
	if v := os.Getenv("GFL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
		cfg.Store.Enabled = true
	}
	if v := os.Getenv("GFL_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GFL_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Debug = b
		}
	}
}
