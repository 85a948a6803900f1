package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

const (
	pool     = "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"
	provider = "0x7B4EB56E7CD4b454BA8ff71E4518426369a138a3"
	oracle   = "0x54586bE62E3c3580375aE3723C145253060Ca0C2"
	weth     = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Protocol.Pool = pool
	cfg.Protocol.DataProvider = provider
	cfg.Protocol.Oracle = oracle
	cfg.Protocol.NativeAsset = weth
	return cfg
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsNeedOnlyEndpoints(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeFile(t, `
mode = "scan"

[chain]
rpc_url = "http://node:8545"

[engine]
interval = "12s"
watchlist = ["0x00000000000000000000000000000000000000a1"]

[pricing.coin_ids]
"`+weth+`" = "weth"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeScan, cfg.Mode)
	assert.Equal(t, "http://node:8545", cfg.Chain.RPCURL)
	assert.Equal(t, 12*time.Second, cfg.Engine.Interval.Duration)
	assert.Len(t, cfg.Engine.Watchlist, 1)
	assert.Equal(t, "weth", cfg.Pricing.CoinIDs[weth])
	// Untouched sections keep their defaults.
	assert.Equal(t, 3*time.Minute, cfg.Execution.SettlementTimeout.Duration)
	assert.Equal(t, uint64(10_500), cfg.Profit.FallbackBonusBps)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "[engine]\nintervall = \"5s\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.intervall")
}

func TestDiscrepancyThresholdHasOneKey(t *testing.T) {
	path := writeFile(t, "[strategy]\ndiscrepancy_threshold = 5.0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy.discrepancy_threshold")

	path = writeFile(t, "[pricing]\ndiscrepancy_threshold = 5.0\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, cfg.Pricing.DiscrepancyThreshold, 1e-9)
}

func TestExampleConfigDecodes(t *testing.T) {
	_, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIQBOT_MODE", "run")
	t.Setenv("LIQBOT_CHAIN_RPC_URL", "http://env:8545")
	t.Setenv("LIQBOT_ENGINE_INTERVAL", "7s")
	t.Setenv("LIQBOT_STRATEGY_ACTIVE", "emode, baseline")
	t.Setenv("LIQBOT_PROFIT_MIN_PROFIT_USD", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeRun, cfg.Mode)
	assert.Equal(t, "http://env:8545", cfg.Chain.RPCURL)
	assert.Equal(t, 7*time.Second, cfg.Engine.Interval.Duration)
	assert.Equal(t, []string{"emode", "baseline"}, cfg.Strategy.Active)
	assert.Equal(t, 50.0, cfg.Profit.MinProfitUSD, "unparsable values are ignored")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"run needs a key", func(c *Config) { c.Mode = ModeRun; c.Protocol.FlashLiquidator = pool }, "wallet: either private_key"},
		{"run needs liquidator", func(c *Config) { c.Mode = ModeRun; c.Wallet.PrivateKey = "0x01" }, "protocol: flash_liquidator"},
		{"bad pool", func(c *Config) { c.Protocol.Pool = "pool" }, "protocol: pool must be a hex address"},
		{"unknown policy", func(c *Config) { c.Strategy.Active = []string{"momentum"} }, `unknown policy "momentum"`},
		{"no policy", func(c *Config) { c.Strategy.Active = nil }, "strategy: active must list"},
		{"lock without redis", func(c *Config) { c.Execution.DistributedLock = true }, "distributed_lock requires redis"},
		{"archive without stores", func(c *Config) { c.Archive.Enabled = true }, "archive: requires"},
		{"bad event", func(c *Config) { c.Notify.Events = []string{"fill"} }, `unknown event "fill"`},
		{"half telegram", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram_token and telegram_chat_id"},
		{"backoff order", func(c *Config) { c.Engine.MaxBackoff.Duration = time.Second }, "max_backoff"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "nope"
	cfg.LogLevel = "trace"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Pricing.CoinIDs = map[string]string{weth: "weth"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Wallet.KeyPassword, "empty secrets stay empty")

	out.Pricing.CoinIDs[weth] = "changed"
	assert.Equal(t, "weth", cfg.Pricing.CoinIDs[weth])
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
}
