// Package config loads the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can say "48h" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// EngineConfig holds the rules fixed at startup. PixelCount and
// PlatformOwner are structural: once a data directory exists they must
// match it on every restart.
type EngineConfig struct {
	PlatformOwner     string   `yaml:"platform_owner"` // pubkey hex, commission claimant
	PixelCount        uint32   `yaml:"pixel_count"`
	MaxActiveCanvases uint32   `yaml:"max_active_canvases"`
	MinimumBid        uint64   `yaml:"minimum_bid"` // starting auction floor, in native units
	AuctionDuration   Duration `yaml:"auction_duration"`
}

// TLSConfig holds PEM paths for serving RPC over TLS. All empty means
// plain HTTP.
type TLSConfig struct {
	CACert   string `yaml:"ca_cert"` // when set, clients must present a cert it signed
	NodeCert string `yaml:"node_cert"`
	NodeKey  string `yaml:"node_key"`
}

// Config holds all daemon configuration.
type Config struct {
	DataDir      string       `yaml:"data_dir"`
	IndexDB      string       `yaml:"index_db"` // sqlite read-model path; empty → <data_dir>/index.db
	Keystore     string       `yaml:"keystore"`
	RPCPort      int          `yaml:"rpc_port"`
	RPCAuthToken string       `yaml:"rpc_auth_token"` // when set, RPC requests must carry it
	TLS          TLSConfig    `yaml:"tls"`
	Engine       EngineConfig `yaml:"engine"`
}

// DefaultConfig returns a single-operator development configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		RPCPort: 8545,
		Engine: EngineConfig{
			PixelCount:        4096,
			MaxActiveCanvases: 12,
			MinimumBid:        80_000_000_000_000_000,
			AuctionDuration:   Duration(48 * time.Hour),
		},
	}
}

// Load reads a YAML config file from path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.PixelCount == 0 {
		return fmt.Errorf("engine.pixel_count must be positive")
	}
	if c.Engine.MaxActiveCanvases == 0 {
		return fmt.Errorf("engine.max_active_canvases must be positive")
	}
	if c.Engine.AuctionDuration <= 0 {
		return fmt.Errorf("engine.auction_duration must be positive")
	}
	if c.Engine.PlatformOwner == "" {
		return fmt.Errorf("engine.platform_owner is required")
	}
	return nil
}
