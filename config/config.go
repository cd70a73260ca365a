package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// AssetConfig describes one collateral asset the engine accepts. InitialPrice
// seeds the manual oracle feed and is expressed in USD with eight decimals of
// precision ("2000.00000000" style decimal strings).
type AssetConfig struct {
	Symbol       string `toml:"Symbol"`
	InitialPrice string `toml:"InitialPrice"`
}

type Config struct {
	ListenAddress  string        `toml:"ListenAddress"`
	MetricsAddress string        `toml:"MetricsAddress"`
	DataDir        string        `toml:"DataDir"`
	LogFile        string        `toml:"LogFile"`
	Env            string        `toml:"Env"`
	MaxQuoteAgeSec int64         `toml:"MaxQuoteAgeSeconds"`
	Assets         []AssetConfig `toml:"Assets"`
}

// feedDecimals mirrors the oracle scale; prices in the config file are plain
// decimal strings and get converted to 1e8-scaled integers by FeedPrice.
const feedDecimals = 8

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if cfg.MaxQuoteAgeSec <= 0 {
		cfg.MaxQuoteAgeSec = 3600
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration describes a runnable engine: at least
// one collateral asset, unique symbols, parseable prices.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress is required")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one collateral asset is required")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		symbol := strings.TrimSpace(asset.Symbol)
		if symbol == "" {
			return fmt.Errorf("config: asset %d has an empty symbol", i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate asset symbol %q", symbol)
		}
		seen[symbol] = struct{}{}
		if _, err := asset.FeedPrice(); err != nil {
			return err
		}
	}
	return nil
}

// FeedPrice converts the configured decimal price into the 1e8-scaled integer
// the oracle feeds expect.
func (a AssetConfig) FeedPrice() (*big.Int, error) {
	raw := strings.TrimSpace(a.InitialPrice)
	if raw == "" {
		return nil, fmt.Errorf("config: asset %q has no initial price", a.Symbol)
	}
	whole, frac, _ := strings.Cut(raw, ".")
	if len(frac) > feedDecimals {
		return nil, fmt.Errorf("config: asset %q price %q exceeds %d decimals", a.Symbol, raw, feedDecimals)
	}
	frac += strings.Repeat("0", feedDecimals-len(frac))
	price, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("config: asset %q has malformed price %q", a.Symbol, raw)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("config: asset %q price must be positive", a.Symbol)
	}
	return price, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:  ":8080",
		MetricsAddress: ":9090",
		DataDir:        "./dscd-data",
		Env:            "local",
		MaxQuoteAgeSec: 3600,
		Assets: []AssetConfig{
			{Symbol: "WETH", InitialPrice: "2000"},
			{Symbol: "WBTC", InitialPrice: "30000"},
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
