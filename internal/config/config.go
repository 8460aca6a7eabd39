// Package config loads the token pool proxy's YAML configuration, the
// collaborator spec.md §6 treats as external: listen addresses, the
// upstream target, the pool credential, and token lifecycle timings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/nghyane/tokenproxy/internal/credential"
	"gopkg.in/yaml.v3"
)

// UpstreamConfig is the fixed upstream data service the pool logs into
// and the proxy forwards requests to.
type UpstreamConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// Addr renders host:port for dialing.
func (u UpstreamConfig) Addr() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// BaseURL renders the scheme-qualified base URL used for the login POST.
func (u UpstreamConfig) BaseURL() string {
	scheme := "http"
	if u.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Addr())
}

// TokenConfig controls pool size and refresh timing.
type TokenConfig struct {
	PoolSize            int `yaml:"pool-size"`
	TTLSeconds          int `yaml:"ttl-seconds"`
	RefreshCheckSeconds int `yaml:"refresh-check-seconds"`
}

func (t TokenConfig) TTL() time.Duration {
	return time.Duration(t.TTLSeconds) * time.Second
}

func (t TokenConfig) CheckInterval() time.Duration {
	return time.Duration(t.RefreshCheckSeconds) * time.Second
}

// LoggingConfig controls the logrus/lumberjack setup in internal/logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	ToFile     bool   `yaml:"to-file"`
	FilePath   string `yaml:"file-path"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// Config is the full collaborator contract spec.md §6 describes.
type Config struct {
	ListenAddr       string `yaml:"listen-addr"`
	HealthListenAddr string `yaml:"health-listen-addr,omitempty"`

	Upstream   UpstreamConfig        `yaml:"upstream"`
	Credential credential.Credential `yaml:"credential"`
	Token      TokenConfig           `yaml:"token"`
	Logging    LoggingConfig         `yaml:"logging"`
}

// Default returns a Config with the same conservative defaults the
// teacher's config.NewDefaultConfig ships when no file is present.
func Default() *Config {
	return &Config{
		ListenAddr:       ":8080",
		HealthListenAddr: ":9090",
		Upstream: UpstreamConfig{
			Host: "127.0.0.1",
			Port: 8848,
		},
		Token: TokenConfig{
			PoolSize:            4,
			TTLSeconds:          3600,
			RefreshCheckSeconds: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and parses a YAML config file. A missing file is an error
// here — callers that want "file optional, defaults otherwise" should use
// LoadOptional; Load itself is the strict "this file must exist and must
// parse" primitive.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional behaves like Load but returns Default() when the file
// does not exist, matching the teacher's LoadConfigOptional pattern.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the invariants the rest of the system assumes hold:
// a non-empty listen address, a set upstream host and port, a non-empty
// credential username, and positive pool size, TTL and check interval.
// Reachability of the upstream is not checked. Failures here are ConfigError in spec.md §7's taxonomy — fatal
// at startup.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen-addr must not be empty")
	}
	if c.Upstream.Host == "" || c.Upstream.Port == 0 {
		return fmt.Errorf("config: upstream host/port must be set")
	}
	if c.Credential.Username == "" {
		return fmt.Errorf("config: credential.username must not be empty")
	}
	if c.Token.PoolSize <= 0 {
		return fmt.Errorf("config: token.pool-size must be positive")
	}
	if c.Token.TTLSeconds <= 0 {
		return fmt.Errorf("config: token.ttl-seconds must be positive")
	}
	if c.Token.RefreshCheckSeconds <= 0 {
		return fmt.Errorf("config: token.refresh-check-seconds must be positive")
	}
	return nil
}
