package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node-level configuration for a settlement daemon. Engine
// economics live in the nested sections so operators can retune them without
// touching the service wiring.
type Config struct {
	ListenAddress     string   `toml:"ListenAddress"`
	DataDir           string   `toml:"DataDir"`
	NetworkName       string   `toml:"NetworkName"`
	Environment       string   `toml:"Environment"`
	GatewayConfigPath string   `toml:"GatewayConfigPath"`
	EventFeedLimit    int      `toml:"EventFeedLimit"`
	Admin             string   `toml:"Admin"`
	Treasury          string   `toml:"Treasury"`
	StakerPool        string   `toml:"StakerPool"`
	EpochOperators    []string `toml:"EpochOperators"`

	Fees       Fees       `toml:"fees"`
	Collateral Collateral `toml:"collateral"`
	Mining     Mining     `toml:"mining"`
	Vesting    Vesting    `toml:"vesting"`
	Orderbook  Orderbook  `toml:"orderbook"`
	Pauses     Pauses     `toml:"pauses"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown field %s", path, undecoded[0].String())
	}

	applyDefaults(cfg, path)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "sagemarket-local"
	}
	if cfg.EventFeedLimit <= 0 {
		cfg.EventFeedLimit = 4096
	}
	if cfg.EpochOperators == nil {
		cfg.EpochOperators = []string{}
	}
	cfg.Fees.applyDefaults()
	cfg.Collateral.applyDefaults()
	cfg.Mining.applyDefaults()
	cfg.Vesting.applyDefaults()
	cfg.Orderbook.applyDefaults()
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg, path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
