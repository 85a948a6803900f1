// Package notify fans liquidation events out to chat channels. Operators
// choose which event types they receive.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/fixed"
)

// Event types accepted by Notify.
const (
	EventExecutionSettled = "execution_settled"
	EventExecutionFailed  = "execution_failed"
	EventOpportunity      = "opportunity"
	EventError            = "error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender, filtered by event type. An empty
// filter allows every event.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers title and message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// ExecutionResult announces a settled or failed liquidation.
func (n *Notifier) ExecutionResult(ctx context.Context, res domain.ExecutionResult) error {
	body := fmt.Sprintf("user %s\ndebt %s / collateral %s\ncover %s via %s\nexpected profit $%s",
		res.User.Hex(), res.DebtAsset.Hex(), res.CollateralAsset.Hex(),
		res.DebtToCover, res.Financing, res.ExpectedProfit.StringFixed(2))
	if res.Reference != "" {
		body += "\ntx " + res.Reference
	}
	if res.Success {
		return n.Notify(ctx, EventExecutionSettled, "Liquidation settled", body)
	}
	return n.Notify(ctx, EventExecutionFailed, "Liquidation failed: "+res.Error, body)
}

// Opportunity announces the top-ranked estimate of a cycle.
func (n *Notifier) Opportunity(ctx context.Context, est domain.ProfitEstimate) error {
	body := fmt.Sprintf("user %s (hf %s)\ndebt %s / collateral %s\nnet $%s, priority %.4f",
		est.Position.User.Hex(), fixed.WadToDecimal(est.Position.HealthFactor).StringFixed(4),
		est.DebtAsset.Hex(), est.CollateralAsset.Hex(),
		est.NetProfitUSD.StringFixed(2), est.Priority)
	return n.Notify(ctx, EventOpportunity, "Liquidation opportunity", body)
}

// Error reports an engine failure.
func (n *Notifier) Error(ctx context.Context, where string, err error) error {
	return n.Notify(ctx, EventError, "Engine error in "+where, err.Error())
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
