package config

import "maps"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***". Use it whenever the active configuration is logged or printed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Chain.RPCURL)
	redact(&out.Pricing.CoingeckoAPIKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Notify.WebhookURL)

	// Copy slices and maps so the redacted value cannot alias the original.
	out.Engine.Watchlist = append([]string(nil), cfg.Engine.Watchlist...)
	out.Strategy.Active = append([]string(nil), cfg.Strategy.Active...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Pricing.CoinIDs = maps.Clone(cfg.Pricing.CoinIDs)
	out.Pricing.ChainlinkFeeds = maps.Clone(cfg.Pricing.ChainlinkFeeds)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
