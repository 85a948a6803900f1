package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/liqbot/internal/blob/s3"
	"github.com/alanyoungcy/liqbot/internal/cache/redis"
	"github.com/alanyoungcy/liqbot/internal/chain"
	"github.com/alanyoungcy/liqbot/internal/config"
	"github.com/alanyoungcy/liqbot/internal/crypto"
	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/executor"
	"github.com/alanyoungcy/liqbot/internal/fixed"
	"github.com/alanyoungcy/liqbot/internal/metrics"
	"github.com/alanyoungcy/liqbot/internal/monitor"
	"github.com/alanyoungcy/liqbot/internal/notify"
	"github.com/alanyoungcy/liqbot/internal/platform/coingecko"
	"github.com/alanyoungcy/liqbot/internal/pricing"
	"github.com/alanyoungcy/liqbot/internal/profit"
	"github.com/alanyoungcy/liqbot/internal/server/handler"
	"github.com/alanyoungcy/liqbot/internal/server/ws"
	"github.com/alanyoungcy/liqbot/internal/store/postgres"
	"github.com/alanyoungcy/liqbot/internal/strategy"
	"github.com/alanyoungcy/liqbot/internal/tracker"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function. Optional adapters are nil
// interfaces when their backend is disabled.
type Dependencies struct {
	Chain      *chain.Client
	Tracker    *tracker.Tracker
	Aggregator *pricing.Aggregator
	Calculator *profit.Calculator
	Registry   *strategy.Registry
	Discovery  domain.BorrowerSource

	// Execution; nil outside run mode.
	Wallet       *chain.Wallet
	Orchestrator *executor.Orchestrator
	History      *executor.History

	Loop       *monitor.Loop
	ArchiveJob *monitor.ArchiveJob
	Hub        *ws.Hub

	// Stores
	ExecutionStore *postgres.ExecutionStore
	AuditStore     domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are the dependency pings served by the health endpoint.
	Checks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Pinger),
	}

	// --- Chain (required) ---
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.RPS)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, client.Close)
	chainID, err := client.Ping(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: rpc unreachable: %w: %v", domain.ErrConfiguration, err))
	}
	if chainID.Int64() != cfg.Chain.ChainID {
		return fail(fmt.Errorf("wire: rpc serves chain %s, configured %d: %w", chainID, cfg.Chain.ChainID, domain.ErrConfiguration))
	}
	deps.Chain = client
	deps.Checks["rpc"] = func(ctx context.Context) error {
		_, err := client.Ping(ctx)
		return err
	}

	// --- PostgreSQL ---
	var watchlist domain.WatchlistStore
	var executions domain.ExecutionStore
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pg.Pool()
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		watchlist = postgres.NewWatchlistStore(pool)
		executions = deps.ExecutionStore
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Redis ---
	var quotes domain.QuoteCache
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		quotes = redis.NewQuoteCache(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc, map[string]redis.Limit{
			"coingecko": {Requests: max(1, cfg.Pricing.RequestsPerMinute), Window: time.Minute},
		})
		deps.SignalBus = redis.NewSignalBus(rc)
		if cfg.Execution.DistributedLock {
			deps.LockManager = redis.NewLockManager(rc)
		}
		deps.Checks["redis"] = rc.Ping
	}

	// --- Pricing ---
	var external domain.ExternalPriceSource
	if cfg.Pricing.External == "coingecko" && len(cfg.Pricing.CoinIDs) > 0 {
		external = coingecko.NewClient(coingecko.Config{
			BaseURL: cfg.Pricing.CoingeckoURL,
			APIKey:  cfg.Pricing.CoingeckoAPIKey,
			CoinIDs: addressKeys(cfg.Pricing.CoinIDs),
			Refresh: cfg.Pricing.TTL.Duration,
		}, deps.RateLimiter)
	}
	var market domain.MarketPriceSource
	if len(cfg.Pricing.ChainlinkFeeds) > 0 {
		feeds := make(map[common.Address]common.Address, len(cfg.Pricing.ChainlinkFeeds))
		for asset, feed := range cfg.Pricing.ChainlinkFeeds {
			feeds[common.HexToAddress(asset)] = common.HexToAddress(feed)
		}
		market = chain.NewChainlinkFeeds(client, feeds, cfg.Pricing.FeedMaxAge.Duration)
	}
	deps.Aggregator = pricing.NewAggregator(
		chain.NewOracle(client, common.HexToAddress(cfg.Protocol.Oracle)),
		external,
		market,
		quotes,
		pricing.Config{
			TTL:                  cfg.Pricing.TTL.Duration,
			DiscrepancyThreshold: decimal.NewFromFloat(cfg.Pricing.DiscrepancyThreshold),
			Concurrency:          cfg.Pricing.Concurrency,
		},
		logger,
	)

	// --- Positions ---
	pool := common.HexToAddress(cfg.Protocol.Pool)
	protocol := chain.NewProtocol(client, pool, common.HexToAddress(cfg.Protocol.DataProvider), cfg.Engine.Concurrency)
	deps.Tracker = tracker.New(protocol, tracker.NewReserveTable(protocol), watchlist, tracker.Config{
		WatchThreshold: fixed.RatioWad(cfg.Engine.WatchThreshold),
		EvictAfter:     cfg.Engine.EvictAfter,
		Concurrency:    cfg.Engine.Concurrency,
	}, logger)
	if err := loadReserveTable(ctx, deps.Tracker.Reserves()); err != nil {
		return fail(err)
	}
	if cfg.Engine.Discovery {
		deps.Discovery = chain.NewBorrowerDiscovery(client, pool, cfg.Engine.DiscoveryLookback, cfg.Engine.DiscoveryMaxRange, logger)
	}

	// --- Profit and ranking ---
	financing := domain.FinancingPath(cfg.Execution.Path)
	native := common.HexToAddress(cfg.Protocol.NativeAsset)
	deps.Calculator = profit.NewCalculator(profit.Config{
		CloseFactorThreshold: fixed.RatioWad(cfg.Protocol.CloseFactorThreshold),
		SafetyMarginBps:      cfg.Profit.SafetyMarginBps,
		FallbackBonusBps:     cfg.Profit.FallbackBonusBps,
		MinProfit:            decimal.NewFromFloat(cfg.Profit.MinProfitUSD),
		FlashPremiumBps:      cfg.Profit.FlashPremiumBps,
		GasLimitFlash:        cfg.Profit.GasLimitFlash,
		GasLimitDirect:       cfg.Profit.GasLimitDirect,
		NativeAsset:          native,
		Financing:            financing,
	})
	deps.Registry = strategy.NewRegistry(logger,
		strategy.Baseline{},
		strategy.OracleDiscrepancy{Threshold: deps.Aggregator.Threshold()},
		strategy.EMode{Multiplier: cfg.Strategy.EModeMultiplier},
	)
	if err := deps.Registry.SetActive(cfg.Strategy.Active...); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Execution (run mode only) ---
	var gas domain.GasOracle = client
	var exec monitor.Executor
	if cfg.Executes() {
		key, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w: %v", domain.ErrConfiguration, err))
		}
		signer, err := crypto.NewSigner(key, chainID)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
		waiter := chain.NewWaiter(client, cfg.Chain.Confirmations, cfg.Chain.PollInterval.Duration, logger)
		deps.Wallet = chain.NewWallet(client, signer, waiter, chain.WalletConfig{
			ChainID:         chainID,
			Pool:            pool,
			FlashLiquidator: common.HexToAddress(cfg.Protocol.FlashLiquidator),
			GasBufferBps:    cfg.Chain.GasBufferBps,
			ApprovalTimeout: cfg.Execution.SettlementTimeout.Duration,
		}, logger)
		gas = deps.Wallet

		deps.History = executor.NewHistory(cfg.Execution.HistorySize, executions, logger)
		orch, err := executor.NewOrchestrator(executor.Deps{
			Submitter: deps.Wallet,
			Waiter:    waiter,
			Gas:       deps.Wallet,
			Funder:    deps.Wallet,
			Lock:      deps.LockManager,
			History:   deps.History,
		}, executor.Config{
			Financing:         financing,
			Cooldown:          cfg.Execution.Cooldown.Duration,
			MaxGasPrice:       gweiToWei(cfg.Execution.MaxGasPriceGwei),
			ReceiveUnderlying: cfg.Execution.ReceiveUnderlying,
			SettlementTimeout: cfg.Execution.SettlementTimeout.Duration,
			DedupTTL:          cfg.Execution.DedupTTL.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Orchestrator = orch
		exec = orch
		logger.InfoContext(ctx, "wire: execution enabled",
			slog.String("operator", deps.Wallet.Address().Hex()),
			slog.String("financing", string(financing)),
		)
	}

	// --- Event fan-out ---
	// Engine events go to the signal bus when there is one and the hub
	// bridges from it; otherwise the loop publishes straight into the hub.
	var publisher monitor.Publisher
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(deps.SignalBus, ws.Config{
			Mode:     cfg.Mode,
			Policies: deps.Registry.Active,
		}, logger)
		publisher = deps.Hub
	}
	if deps.SignalBus != nil {
		publisher = deps.SignalBus
	}

	// --- Monitoring loop ---
	loop, err := monitor.New(monitor.Deps{
		Tracker:    deps.Tracker,
		Quoter:     deps.Aggregator,
		Gas:        gas,
		Calculator: deps.Calculator,
		Registry:   deps.Registry,
		Discovery:  deps.Discovery,
		Executor:   exec,
		Publisher:  publisher,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
	}, monitor.Config{
		Interval:     cfg.Engine.Interval.Duration,
		ErrorBackoff: cfg.Engine.ErrorBackoff.Duration,
		MaxBackoff:   cfg.Engine.MaxBackoff.Duration,
		DryRun:       !cfg.Executes(),
		NativeAsset:  native,
		Concurrency:  cfg.Engine.Concurrency,
		KeepRanked:   cfg.Engine.KeepRanked,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Loop = loop

	// --- S3 archive ---
	if cfg.Archive.Enabled && deps.ExecutionStore != nil {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		archiver := s3blob.NewArchiver(s3blob.NewWriter(s3c), deps.ExecutionStore, deps.AuditStore, cfg.Archive.Prune)
		job, err := monitor.NewArchiveJob(archiver, time.Duration(cfg.Archive.RetentionDays)*24*time.Hour, cfg.Archive.Cron, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.ArchiveJob = job
		deps.Checks["s3"] = s3c.Health
	}

	return deps, cleanup, nil
}

// loadReserveTable fills the reserve table once at startup. It doubles as the
// data-provider probe; the table is then kept until an explicit reload.
func loadReserveTable(ctx context.Context, reserves *tracker.ReserveTable) error {
	if err := reserves.Load(ctx); err != nil {
		return fmt.Errorf("wire: load reserve table: %w: %v", domain.ErrConfiguration, err)
	}
	return nil
}

// addressKeys converts a hex-keyed TOML table into an address-keyed map.
func addressKeys(in map[string]string) map[common.Address]string {
	out := make(map[common.Address]string, len(in))
	for k, v := range in {
		out[common.HexToAddress(k)] = v
	}
	return out
}

// gweiToWei converts a gas price ceiling in gwei to wei.
func gweiToWei(gwei float64) *big.Int {
	return fixed.FromFloat(gwei, 9)
}
