package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/liqbot/internal/monitor"
	"github.com/alanyoungcy/liqbot/internal/server"
	"github.com/alanyoungcy/liqbot/internal/server/handler"
)

// RunMode monitors, ranks and executes liquidations.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")
	return a.serve(ctx, deps)
}

// MonitorMode scans and ranks every cycle but never submits a transaction.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode (dry run)")
	return a.serve(ctx, deps)
}

// ScanMode runs one cycle, prints the ranked opportunities as JSON and exits.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")
	if err := a.seed(ctx, deps); err != nil {
		return err
	}
	report, err := deps.Loop.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("app: scan: %w", err)
	}

	ranked := deps.Loop.Latest()
	out := struct {
		Report        monitor.CycleReport   `json:"report"`
		Opportunities []monitor.Opportunity `json:"opportunities"`
	}{Report: report, Opportunities: make([]monitor.Opportunity, 0, len(ranked))}
	for _, e := range ranked {
		out.Opportunities = append(out.Opportunities, monitor.NewOpportunity(e))
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("app: scan: write result: %w", err)
	}
	return nil
}

// serve runs the loop, the archive job and the operator API until ctx is
// cancelled or one of them fails.
func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	if err := a.seed(ctx, deps); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Loop.Run(ctx)
	})

	if deps.ArchiveJob != nil {
		g.Go(func() error {
			return deps.ArchiveJob.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// seed restores the persisted watchlist and scans the configured seed
// addresses so the first cycle has something to evaluate.
func (a *App) seed(ctx context.Context, deps *Dependencies) error {
	restored, err := deps.Tracker.Restore(ctx)
	if err != nil {
		// A lost watchlist is rebuilt by discovery; not fatal.
		a.logger.WarnContext(ctx, "app: watchlist restore failed", slog.String("error", err.Error()))
	}

	seeds := make([]common.Address, 0, len(a.cfg.Engine.Watchlist))
	for _, s := range a.cfg.Engine.Watchlist {
		seeds = append(seeds, common.HexToAddress(s))
	}
	var watched int
	if len(seeds) > 0 {
		positions, err := deps.Tracker.ScanWatchlist(ctx, seeds, "config")
		if err != nil {
			return fmt.Errorf("app: scan seed watchlist: %w", err)
		}
		watched = len(positions)
	}

	a.logger.InfoContext(ctx, "app: watchlist seeded",
		slog.Int("restored", restored),
		slog.Int("seeds", len(seeds)),
		slog.Int("below_watch_threshold", watched),
		slog.Int("monitored", deps.Tracker.Len()),
	)
	return nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Checks, a.logger),
		Positions:     handler.NewPositionHandler(deps.Tracker, deps.AuditStore, a.logger),
		Opportunities: handler.NewOpportunityHandler(deps.Loop, a.logger),
		Strategies:    handler.NewStrategyHandler(deps.Registry, deps.AuditStore, a.logger),
		Prices:        handler.NewPriceHandler(deps.Aggregator, a.logger),
		Reserves:      handler.NewReserveHandler(deps.Tracker.Reserves(), deps.AuditStore, a.logger),
		Metrics:       deps.Metrics.Handler(),
	}

	// Optional collaborators stay nil interfaces when absent.
	var (
		status  handler.StatusSource
		recent  handler.RecentExecutions
		reader  handler.ExecutionReader
		profits handler.ProfitSummer
	)
	if deps.Orchestrator != nil {
		status = deps.Orchestrator
	}
	if deps.History != nil {
		recent = deps.History
	}
	if deps.ExecutionStore != nil {
		reader = deps.ExecutionStore
		profits = deps.ExecutionStore
	}
	handlers.Status = handler.NewStatusHandler(a.cfg.Mode, status, deps.Loop, deps.Registry.Active, profits, a.logger)
	if recent != nil || reader != nil {
		handlers.Executions = handler.NewExecutionHandler(recent, reader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Host:            a.cfg.Server.Host,
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, deps.Hub, deps.RateLimiter, a.logger)

	if deps.Hub != nil {
		g.Go(func() error {
			return deps.Hub.Run(ctx)
		})
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
