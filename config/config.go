package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon's on-disk configuration.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`
	LogLevel    string `toml:"LogLevel"`
	LogFile     string `toml:"LogFile"`

	Market MarketConfig `toml:"market"`
	Stable StableConfig `toml:"stable"`
	Index  IndexConfig  `toml:"index"`
	RPC    RPCConfig    `toml:"rpc"`
}

// MarketConfig holds marketplace parameters.
type MarketConfig struct {
	FeeVault string `toml:"FeeVault"`
	FeeBps   uint64 `toml:"FeeBps"`
}

// StableConfig holds stable-token risk parameters.
type StableConfig struct {
	CollateralVault      string `toml:"CollateralVault"`
	LiquidationThreshold uint64 `toml:"LiquidationThreshold"`
	LiquidationBonusBps  uint64 `toml:"LiquidationBonusBps"`
	MaxIndexDeviationBps uint64 `toml:"MaxIndexDeviationBps"`
}

// IndexConfig holds price-index parameters and the independent feed used for
// cross-checking.
type IndexConfig struct {
	BucketWidthSeconds uint64   `toml:"BucketWidthSeconds"`
	FeedEndpoints      []string `toml:"FeedEndpoints"`
	FeedMaxAgeSeconds  uint64   `toml:"FeedMaxAgeSeconds"`
	FeedBase           string   `toml:"FeedBase"`
	FeedQuote          string   `toml:"FeedQuote"`
}

// RPCConfig holds the server's authentication and throttling settings.
type RPCConfig struct {
	BearerTokenEnv  string  `toml:"BearerTokenEnv"`
	AdminJWTSecret  string  `toml:"AdminJWTSecretEnv"`
	RateLimitPerSec float64 `toml:"RateLimitPerSec"`
	RateLimitBurst  int     `toml:"RateLimitBurst"`
}

// Load reads the configuration from path, writing a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if writeErr := Write(path, cfg); writeErr != nil {
			return nil, writeErr
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8645",
		DataDir:     "./agora-data",
		Environment: "dev",
		LogLevel:    "info",
		Market: MarketConfig{
			FeeBps: 100,
		},
		Stable: StableConfig{
			LiquidationThreshold: 50,
			LiquidationBonusBps:  1000,
			MaxIndexDeviationBps: 2000,
		},
		Index: IndexConfig{
			BucketWidthSeconds: 86400,
			FeedMaxAgeSeconds:  900,
			FeedBase:           "ACPI",
			FeedQuote:          "USD",
		},
		RPC: RPCConfig{
			BearerTokenEnv:  "AGORA_RPC_TOKEN",
			AdminJWTSecret:  "AGORA_ADMIN_JWT_SECRET",
			RateLimitPerSec: 50,
			RateLimitBurst:  100,
		},
	}
}

// Write persists the configuration to path, creating parent directories.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if c.Market.FeeBps > 10_000 {
		return fmt.Errorf("config: market fee %d exceeds 10000 bps", c.Market.FeeBps)
	}
	if c.Stable.LiquidationThreshold == 0 || c.Stable.LiquidationThreshold > 100 {
		return fmt.Errorf("config: liquidation threshold must be in (0, 100]")
	}
	if c.RPC.RateLimitPerSec < 0 {
		return fmt.Errorf("config: negative rate limit")
	}
	return nil
}

// BearerToken resolves the RPC bearer token from the configured environment
// variable. Empty means authentication is disabled (dev only).
func (c *Config) BearerToken() string {
	return strings.TrimSpace(os.Getenv(c.RPC.BearerTokenEnv))
}

// AdminJWTSecretValue resolves the admin JWT signing secret from the
// configured environment variable.
func (c *Config) AdminJWTSecretValue() []byte {
	secret := strings.TrimSpace(os.Getenv(c.RPC.AdminJWTSecret))
	if secret == "" {
		return nil
	}
	return []byte(secret)
}
