// Package config defines the liquidation engine configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// Modes accepted by Config.Mode.
const (
	ModeRun     = "run"
	ModeMonitor = "monitor"
	ModeScan    = "scan"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LIQBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Protocol  ProtocolConfig  `toml:"protocol"`
	Pricing   PricingConfig   `toml:"pricing"`
	Engine    EngineConfig    `toml:"engine"`
	Profit    ProfitConfig    `toml:"profit"`
	Execution ExecutionConfig `toml:"execution"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the operator key. PrivateKey wins over
// EncryptedKeyPath.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds RPC connectivity and transaction parameters.
type ChainConfig struct {
	RPCURL        string   `toml:"rpc_url"`
	ChainID       int64    `toml:"chain_id"`
	RPS           float64  `toml:"rps"`
	Confirmations uint64   `toml:"confirmations"`
	PollInterval  duration `toml:"poll_interval"`
	GasBufferBps  uint64   `toml:"gas_buffer_bps"`
}

// ProtocolConfig holds the lending protocol contract addresses.
type ProtocolConfig struct {
	Pool            string `toml:"pool"`
	DataProvider    string `toml:"data_provider"`
	Oracle          string `toml:"oracle"`
	FlashLiquidator string `toml:"flash_liquidator"`
	// NativeAsset is the wrapped native token used to price gas.
	NativeAsset          string  `toml:"native_asset"`
	CloseFactorThreshold float64 `toml:"close_factor_threshold"`
}

// PricingConfig configures the price aggregator and its sources.
type PricingConfig struct {
	// External selects the external price source: "coingecko" or "none".
	External        string            `toml:"external"`
	CoingeckoURL    string            `toml:"coingecko_url"`
	CoingeckoAPIKey string            `toml:"coingecko_api_key"`
	CoinIDs         map[string]string `toml:"coin_ids"`
	// ChainlinkFeeds maps asset addresses to aggregator addresses.
	ChainlinkFeeds       map[string]string `toml:"chainlink_feeds"`
	FeedMaxAge           duration          `toml:"feed_max_age"`
	TTL                  duration          `toml:"ttl"`
	DiscrepancyThreshold float64           `toml:"discrepancy_threshold"`
	RequestsPerMinute    int               `toml:"requests_per_minute"`
	Concurrency          int               `toml:"concurrency"`
}

// EngineConfig tunes the monitoring loop and the position tracker.
type EngineConfig struct {
	Interval          duration `toml:"interval"`
	ErrorBackoff      duration `toml:"error_backoff"`
	MaxBackoff        duration `toml:"max_backoff"`
	WatchThreshold    float64  `toml:"watch_threshold"`
	EvictAfter        int      `toml:"evict_after"`
	Concurrency       int      `toml:"concurrency"`
	Watchlist         []string `toml:"watchlist"`
	Discovery         bool     `toml:"discovery"`
	DiscoveryLookback uint64   `toml:"discovery_lookback"`
	DiscoveryMaxRange uint64   `toml:"discovery_max_range"`
	KeepRanked        int      `toml:"keep_ranked"`
}

// ProfitConfig configures the profit calculator.
type ProfitConfig struct {
	MinProfitUSD     float64 `toml:"min_profit_usd"`
	SafetyMarginBps  uint64  `toml:"safety_margin_bps"`
	FallbackBonusBps uint64  `toml:"fallback_bonus_bps"`
	FlashPremiumBps  uint64  `toml:"flash_premium_bps"`
	GasLimitFlash    uint64  `toml:"gas_limit_flash"`
	GasLimitDirect   uint64  `toml:"gas_limit_direct"`
}

// ExecutionConfig configures the execution orchestrator.
type ExecutionConfig struct {
	// Path is "flash_loan" or "direct".
	Path              string   `toml:"path"`
	Cooldown          duration `toml:"cooldown"`
	MaxGasPriceGwei   float64  `toml:"max_gas_price_gwei"`
	ReceiveUnderlying bool     `toml:"receive_underlying"`
	SettlementTimeout duration `toml:"settlement_timeout"`
	DedupTTL          duration `toml:"dedup_ttl"`
	DistributedLock   bool     `toml:"distributed_lock"`
	HistorySize       int      `toml:"history_size"`
}

// StrategyConfig selects the ranking policies and their parameters.
type StrategyConfig struct {
	// Active lists policy names in boost-chaining order. The discrepancy
	// policy uses pricing.discrepancy_threshold.
	Active          []string `toml:"active"`
	EModeMultiplier float64  `toml:"emode_multiplier"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the execution-history archive to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	Prune         bool   `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:       1,
			RPS:           25,
			Confirmations: 1,
			PollInterval:  duration{2 * time.Second},
			GasBufferBps:  12_000,
		},
		Protocol: ProtocolConfig{
			CloseFactorThreshold: 0.95,
		},
		Pricing: PricingConfig{
			External:             "coingecko",
			CoingeckoURL:         "https://api.coingecko.com/api/v3",
			CoinIDs:              map[string]string{},
			ChainlinkFeeds:       map[string]string{},
			FeedMaxAge:           duration{time.Hour},
			TTL:                  duration{15 * time.Second},
			DiscrepancyThreshold: 2.0,
			RequestsPerMinute:    30,
			Concurrency:          8,
		},
		Engine: EngineConfig{
			Interval:          duration{30 * time.Second},
			ErrorBackoff:      duration{5 * time.Second},
			MaxBackoff:        duration{5 * time.Minute},
			WatchThreshold:    1.1,
			EvictAfter:        20,
			Concurrency:       8,
			Discovery:         true,
			DiscoveryLookback: 5_000,
			DiscoveryMaxRange: 2_000,
			KeepRanked:        100,
		},
		Profit: ProfitConfig{
			MinProfitUSD:     50,
			SafetyMarginBps:  9_500,
			FallbackBonusBps: 10_500,
			FlashPremiumBps:  5,
			GasLimitFlash:    800_000,
			GasLimitDirect:   500_000,
		},
		Execution: ExecutionConfig{
			Path:              "flash_loan",
			Cooldown:          duration{time.Minute},
			MaxGasPriceGwei:   100,
			SettlementTimeout: duration{3 * time.Minute},
			DedupTTL:          duration{10 * time.Minute},
			HistorySize:       256,
		},
		Strategy: StrategyConfig{
			Active:          []string{"baseline"},
			EModeMultiplier: 1.2,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "liqbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "liqbot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "liqbot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"execution_settled", "execution_failed", "error"},
		},
		Mode:     ModeMonitor,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	ModeRun:     true,
	ModeMonitor: true,
	ModeScan:    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPolicies = map[string]bool{
	"baseline":           true,
	"oracle_discrepancy": true,
	"emode":              true,
}

var validEvents = map[string]bool{
	"execution_settled": true,
	"execution_failed":  true,
	"opportunity":       true,
	"error":             true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: run, monitor, scan)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Executes() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.PrivateKey == "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		add("chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	if c.Chain.RPS < 0 {
		add("chain: rps must be >= 0")
	}
	if c.Chain.GasBufferBps != 0 && c.Chain.GasBufferBps < 10_000 {
		add("chain: gas_buffer_bps must be >= 10000 when set")
	}

	// Protocol
	requireAddress := func(field, v string) {
		if !common.IsHexAddress(v) {
			add("%s must be a hex address, got %q", field, v)
		}
	}
	requireAddress("protocol: pool", c.Protocol.Pool)
	requireAddress("protocol: data_provider", c.Protocol.DataProvider)
	requireAddress("protocol: oracle", c.Protocol.Oracle)
	requireAddress("protocol: native_asset", c.Protocol.NativeAsset)
	if c.Executes() && c.Execution.Path == "flash_loan" {
		requireAddress("protocol: flash_liquidator", c.Protocol.FlashLiquidator)
	}
	if c.Protocol.CloseFactorThreshold <= 0 || c.Protocol.CloseFactorThreshold > 1 {
		add("protocol: close_factor_threshold must be in (0, 1]")
	}

	// Pricing
	switch c.Pricing.External {
	case "coingecko", "none":
	default:
		add("pricing: unknown external source %q (valid: coingecko, none)", c.Pricing.External)
	}
	for asset := range c.Pricing.CoinIDs {
		requireAddress("pricing: coin_ids key", asset)
	}
	for asset, feed := range c.Pricing.ChainlinkFeeds {
		requireAddress("pricing: chainlink_feeds key", asset)
		requireAddress("pricing: chainlink_feeds value", feed)
	}
	if c.Pricing.TTL.Duration <= 0 {
		add("pricing: ttl must be > 0")
	}
	if c.Pricing.DiscrepancyThreshold < 0 {
		add("pricing: discrepancy_threshold must be >= 0")
	}

	// Engine
	if c.Engine.Interval.Duration <= 0 {
		add("engine: interval must be > 0")
	}
	if c.Engine.MaxBackoff.Duration < c.Engine.ErrorBackoff.Duration {
		add("engine: max_backoff must not be below error_backoff")
	}
	if c.Engine.WatchThreshold < 1 {
		add("engine: watch_threshold must be >= 1.0")
	}
	if c.Engine.EvictAfter < 0 {
		add("engine: evict_after must be >= 0")
	}
	for _, a := range c.Engine.Watchlist {
		requireAddress("engine: watchlist entry", a)
	}

	// Profit
	if c.Profit.MinProfitUSD < 0 {
		add("profit: min_profit_usd must be >= 0")
	}
	if c.Profit.SafetyMarginBps == 0 || c.Profit.SafetyMarginBps > 10_000 {
		add("profit: safety_margin_bps must be in 1-10000")
	}
	if c.Profit.FallbackBonusBps < 10_000 {
		add("profit: fallback_bonus_bps must be >= 10000")
	}

	// Execution
	switch c.Execution.Path {
	case "flash_loan", "direct":
	default:
		add("execution: unknown path %q (valid: flash_loan, direct)", c.Execution.Path)
	}
	if c.Execution.MaxGasPriceGwei <= 0 {
		add("execution: max_gas_price_gwei must be > 0")
	}
	if c.Execution.Cooldown.Duration < 0 {
		add("execution: cooldown must be >= 0")
	}
	if c.Execution.HistorySize < 1 {
		add("execution: history_size must be >= 1")
	}
	if c.Execution.DistributedLock && !c.Redis.Enabled {
		add("execution: distributed_lock requires redis.enabled")
	}

	// Strategy
	if len(c.Strategy.Active) == 0 {
		add("strategy: active must list at least one policy")
	}
	for _, name := range c.Strategy.Active {
		if !validPolicies[name] {
			add("strategy: unknown policy %q (valid: baseline, oracle_discrepancy, emode)", name)
		}
	}
	if c.Strategy.EModeMultiplier < 0 {
		add("strategy: emode_multiplier must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3 and archive
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			add("archive: requires s3.enabled and postgres.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			add("archive: cron must have five fields, got %q", c.Archive.Cron)
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validEvents[ev] {
			add("notify: unknown event %q", ev)
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed (%w):\n  - %s", domain.ErrConfiguration, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Executes reports whether the configured mode submits transactions.
func (c *Config) Executes() bool {
	return strings.ToLower(c.Mode) == ModeRun
}
