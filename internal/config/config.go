// Package config loads llmdash configuration from a YAML file with
// environment-variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables honored on top of the config file.
const (
	EnvPort       = "LLMDASH_PORT"
	EnvUseTLS     = "LLMDASH_USE_TLS"
	EnvTLSCert    = "LLMDASH_TLS_CERT"
	EnvTLSKey     = "LLMDASH_TLS_KEY"
	EnvAuthSecret = "LLMDASH_AUTH_SECRET"
	EnvDBPath     = "LLMDASH_DB_PATH"
)

// Config is the complete admin backend configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Poll     PollConfig     `yaml:"poll"`
	Balancer BalancerConfig `yaml:"balancer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	TLSEnabled bool   `yaml:"tls_enabled"`
	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
}

// DatabaseConfig locates the SQLite fleet database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds the shared secret used to validate bearer tokens issued
// by the external identity service. Validation is skipped when empty.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// PollConfig tunes the heatmap poller.
type PollConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	UtilizationURL  string `yaml:"utilization_url"` // empty selects the in-process source
	Token           string `yaml:"token"`
}

// BalancerConfig tunes the fleet monitor and server selection.
type BalancerConfig struct {
	Strategy               string `yaml:"strategy"` // round_robin, least_load, gpu_memory
	HealthIntervalSeconds  int    `yaml:"health_interval_seconds"`
	MetricsIntervalSeconds int    `yaml:"metrics_interval_seconds"`
	NodeTimeoutSeconds     int    `yaml:"node_timeout_seconds"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	File string `yaml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8090},
		Database: DatabaseConfig{Path: "data/llmdash.db"},
		Poll:     PollConfig{IntervalSeconds: 10},
		Balancer: BalancerConfig{
			Strategy:               "round_robin",
			HealthIntervalSeconds:  60,
			MetricsIntervalSeconds: 30,
			NodeTimeoutSeconds:     5,
		},
	}
}

// Load reads the YAML file at path, applies defaults for unset fields, and
// then applies environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Port <= 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Poll.IntervalSeconds <= 0 {
		c.Poll.IntervalSeconds = def.Poll.IntervalSeconds
	}
	if c.Balancer.Strategy == "" {
		c.Balancer.Strategy = def.Balancer.Strategy
	}
	if c.Balancer.HealthIntervalSeconds <= 0 {
		c.Balancer.HealthIntervalSeconds = def.Balancer.HealthIntervalSeconds
	}
	if c.Balancer.MetricsIntervalSeconds <= 0 {
		c.Balancer.MetricsIntervalSeconds = def.Balancer.MetricsIntervalSeconds
	}
	if c.Balancer.NodeTimeoutSeconds <= 0 {
		c.Balancer.NodeTimeoutSeconds = def.Balancer.NodeTimeoutSeconds
	}
}

func (c *Config) applyEnv() {
	if port, ok := envInt(EnvPort); ok {
		c.Server.Port = port
	}
	if envBool(EnvUseTLS) {
		c.Server.TLSEnabled = true
	}
	if v := os.Getenv(EnvTLSCert); v != "" {
		c.Server.TLSCert = v
	}
	if v := os.Getenv(EnvTLSKey); v != "" {
		c.Server.TLSKey = v
	}
	if v := os.Getenv(EnvAuthSecret); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
}

// PollInterval returns the heatmap poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// HealthInterval returns the fleet health-check period.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Balancer.HealthIntervalSeconds) * time.Second
}

// MetricsInterval returns the fleet metrics-collection period.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Balancer.MetricsIntervalSeconds) * time.Second
}

// NodeTimeout returns the per-node request timeout for health/metrics scrapes.
func (c *Config) NodeTimeout() time.Duration {
	return time.Duration(c.Balancer.NodeTimeoutSeconds) * time.Second
}

func envBool(key string) bool {
	val := os.Getenv(key)
	if val == "" {
		return false
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false
	}
	return parsed
}

func envInt(key string) (int, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
