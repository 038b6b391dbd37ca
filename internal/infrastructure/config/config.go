package config

import (
	"errors"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
	} `toml:"app"`

	Prices struct {
		Enabled bool     `toml:"enabled"`
		WsURL   string   `toml:"ws_url"`
		APIKey  string   `toml:"api_key"` // COINGECKO_API_KEY overrides
		Tokens  []string `toml:"tokens"`  // pre-subscriptions, coin ids or known symbols
	} `toml:"prices"`

	Titan struct {
		WsURL    string `toml:"ws_url"`
		APIToken string `toml:"api_token"` // TITAN_API_TOKEN overrides
		Insecure bool   `toml:"insecure"`  // skip TLS verification, development only
	} `toml:"titan"`

	Swap struct {
		SlippageBps int `toml:"slippage_bps"`
		IntervalMs  int `toml:"interval_ms"`
		NumQuotes   int `toml:"num_quotes"`
	} `toml:"swap"`

	Storage struct {
		Driver string `toml:"driver"` // noop | sqlite | redis | postgres
		DSN    string `toml:"dsn"`
		Prefix string `toml:"prefix"` // redis key prefix
	} `toml:"storage"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets come from the environment instead of the config file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("COINGECKO_API_KEY")); v != "" {
		cfg.Prices.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TITAN_API_TOKEN")); v != "" {
		cfg.Titan.APIToken = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.Prices.WsURL == "" {
		cfg.Prices.WsURL = "wss://stream.coingecko.com/v1"
	}
	if cfg.Titan.WsURL == "" {
		cfg.Titan.WsURL = "wss://us1.api.demo.titan.exchange/api/v1/ws"
	}
	if cfg.Swap.SlippageBps <= 0 {
		cfg.Swap.SlippageBps = 50
	}
	if cfg.Swap.IntervalMs <= 0 {
		cfg.Swap.IntervalMs = 500
	}
	if cfg.Swap.NumQuotes <= 0 {
		cfg.Swap.NumQuotes = 5
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "noop"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "maximus"
	}
}

func validate(cfg *Config) error {
	cfg.Prices.Tokens = normalizeTokens(cfg.Prices.Tokens)

	switch cfg.Storage.Driver {
	case "noop", "sqlite", "redis", "postgres":
	default:
		return errors.New("storage.driver must be one of noop, sqlite, redis, postgres")
	}
	if cfg.Storage.Driver != "noop" && strings.TrimSpace(cfg.Storage.DSN) == "" {
		return errors.New("storage.dsn empty but driver is " + cfg.Storage.Driver)
	}
	return nil
}

// PriceFeedURL is the stream endpoint with the API key attached, the way the
// feed expects it.
func (c *Config) PriceFeedURL() string {
	if c.Prices.APIKey == "" {
		return c.Prices.WsURL
	}
	u, err := url.Parse(c.Prices.WsURL)
	if err != nil {
		return c.Prices.WsURL
	}
	q := u.Query()
	q.Set("x_cg_pro_api_key", c.Prices.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizeTokens(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		t := strings.ToLower(strings.TrimSpace(s))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
