package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ObservabilityConfig tunes the gateway's metrics and request logging.
type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

// IdempotencyConfig controls the replay cache for mutating requests.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// AuthConfig gates the /v1 surface behind HS256 bearer tokens. The token
// subject must match the acting address of each request. Disabled by default
// for devnet tooling; production deployments enable it.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

// Config is the gateway's YAML-backed configuration.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	EventFeedSize int                 `yaml:"eventFeedSize"`
	Observability ObservabilityConfig `yaml:"observability"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Auth          AuthConfig          `yaml:"auth"`
}

// Default returns the configuration the gateway boots with when no file is
// supplied.
func Default() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   60 * time.Second,
		EventFeedSize: 4096,
		Observability: ObservabilityConfig{
			ServiceName:   "sagemarket-gateway",
			Metrics:       true,
			LogRequests:   true,
			MetricsPrefix: "gateway",
		},
		Idempotency: IdempotencyConfig{
			Enabled: false,
			TTL:     24 * time.Hour,
		},
	}
}

// Load reads a YAML config file, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gateway config: %w", err)
	}
	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("gateway config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot serve under.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("gateway config: listen address required")
	}
	if c.EventFeedSize <= 0 {
		return fmt.Errorf("gateway config: event feed size must be positive")
	}
	if c.Idempotency.Enabled {
		if strings.TrimSpace(c.Idempotency.Path) == "" {
			return fmt.Errorf("gateway config: idempotency path required when enabled")
		}
		if c.Idempotency.TTL <= 0 {
			return fmt.Errorf("gateway config: idempotency ttl must be positive")
		}
	}
	if c.Auth.Enabled && len(strings.TrimSpace(c.Auth.Secret)) < 32 {
		return fmt.Errorf("gateway config: auth secret must be at least 32 bytes")
	}
	return nil
}
