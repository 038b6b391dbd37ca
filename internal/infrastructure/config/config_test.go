package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[prices]
enabled = true
tokens = ["bitcoin"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "wss://stream.coingecko.com/v1", cfg.Prices.WsURL)
	assert.NotEmpty(t, cfg.Titan.WsURL)
	assert.Equal(t, 50, cfg.Swap.SlippageBps)
	assert.Equal(t, 500, cfg.Swap.IntervalMs)
	assert.Equal(t, 5, cfg.Swap.NumQuotes)
	assert.Equal(t, "noop", cfg.Storage.Driver)
	assert.Equal(t, "maximus", cfg.Storage.Prefix)
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("COINGECKO_API_KEY", "env-cg-key")
	t.Setenv("TITAN_API_TOKEN", "env-titan-token")

	path := writeConfig(t, `
[prices]
api_key = "file-key"

[titan]
api_token = "file-token"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-cg-key", cfg.Prices.APIKey)
	assert.Equal(t, "env-titan-token", cfg.Titan.APIToken)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
[storage]
driver = "mongodb"
dsn = "mongodb://localhost"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "storage.driver")
}

func TestLoadRequiresDSNForRealDrivers(t *testing.T) {
	path := writeConfig(t, `
[storage]
driver = "sqlite"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "storage.dsn")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestPriceFeedURLAttachesKey(t *testing.T) {
	var cfg Config
	cfg.Prices.WsURL = "wss://stream.coingecko.com/v1"

	assert.Equal(t, "wss://stream.coingecko.com/v1", cfg.PriceFeedURL())

	cfg.Prices.APIKey = "secret"
	assert.Equal(t, "wss://stream.coingecko.com/v1?x_cg_pro_api_key=secret", cfg.PriceFeedURL())
}

func TestNormalizeTokens(t *testing.T) {
	got := normalizeTokens([]string{" Bitcoin ", "SOL", "bitcoin", "", "usdc"})
	assert.Equal(t, []string{"bitcoin", "sol", "usdc"}, got)
}
