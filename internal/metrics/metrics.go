// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

const namespace = "liqbot"

// Metrics holds every collector on a private registry, so each instance
// can be created independently.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	monitored      prometheus.Gauge
	liquidatable   prometheus.Gauge
	estimates      *prometheus.CounterVec
	bestProfit     prometheus.Gauge
	executions     *prometheus.CounterVec
	realizedProfit prometheus.Counter
	discrepancy    *prometheus.GaugeVec
	quoteFailures  prometheus.Counter
	executorState  *prometheus.GaugeVec
}

// New creates and registers the collectors, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Monitoring cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one monitoring cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		monitored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "monitored_positions",
			Help:      "Addresses currently in the monitored set.",
		}),
		liquidatable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "liquidatable_positions",
			Help:      "Monitored positions with health factor below 1.0 in the last cycle.",
		}),
		estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profit",
			Name:      "estimates_total",
			Help:      "Profit estimates by result (profitable, unprofitable, error).",
		}, []string{"result"}),
		bestProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "profit",
			Name:      "best_net_profit_usd",
			Help:      "Net profit of the top-ranked estimate in the last cycle.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Execution results by outcome and financing path.",
		}, []string{"outcome", "financing"}),
		realizedProfit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "expected_profit_usd_total",
			Help:      "Sum of expected profit of settled executions.",
		}),
		discrepancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "discrepancy_pct",
			Help:      "Oracle vs external price discrepancy per asset.",
		}, []string{"asset"}),
		quoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "quote_failures_total",
			Help:      "Assets whose quote could not be produced in a cycle.",
		}),
		executorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "state",
			Help:      "1 for the orchestrator's current state, 0 otherwise.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.cycleDuration,
		m.monitored,
		m.liquidatable,
		m.estimates,
		m.bestProfit,
		m.executions,
		m.realizedProfit,
		m.discrepancy,
		m.quoteFailures,
		m.executorState,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records one cycle; outcome is "ok", "error" or "idle".
func (m *Metrics) ObserveCycle(outcome string, seconds float64) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(seconds)
}

// SetPositions records the tracker's set sizes.
func (m *Metrics) SetPositions(monitored, liquidatable int) {
	m.monitored.Set(float64(monitored))
	m.liquidatable.Set(float64(liquidatable))
}

// ObserveEstimates counts the estimates and pair errors of one cycle.
func (m *Metrics) ObserveEstimates(estimates []domain.ProfitEstimate, pairErrors int) {
	for _, e := range estimates {
		if e.Profitable {
			m.estimates.WithLabelValues("profitable").Inc()
		} else {
			m.estimates.WithLabelValues("unprofitable").Inc()
		}
	}
	if pairErrors > 0 {
		m.estimates.WithLabelValues("error").Add(float64(pairErrors))
	}
}

// SetBest records the top-ranked estimate's net profit, or zero.
func (m *Metrics) SetBest(best *domain.ProfitEstimate) {
	if best == nil {
		m.bestProfit.Set(0)
		return
	}
	m.bestProfit.Set(best.NetProfitUSD.InexactFloat64())
}

// ObserveQuotes records discrepancies and the number of missing quotes.
func (m *Metrics) ObserveQuotes(quotes map[string]domain.PriceQuote, failures int) {
	for asset, q := range quotes {
		if q.DiscrepancyPct.Valid {
			m.discrepancy.WithLabelValues(asset).Set(q.DiscrepancyPct.Decimal.InexactFloat64())
		}
	}
	if failures > 0 {
		m.quoteFailures.Add(float64(failures))
	}
}

// ObserveExecution counts a result and its profit when settled.
func (m *Metrics) ObserveExecution(res domain.ExecutionResult) {
	outcome := "settled"
	if !res.Success {
		outcome = "failed"
	}
	m.executions.WithLabelValues(outcome, string(res.Financing)).Inc()
	if res.Success && res.ExpectedProfit.IsPositive() {
		m.realizedProfit.Add(res.ExpectedProfit.InexactFloat64())
	}
}

// SetExecutorState marks state as the only active orchestrator state.
func (m *Metrics) SetExecutorState(state domain.ExecState) {
	for _, s := range []domain.ExecState{
		domain.ExecIdle, domain.ExecScanning, domain.ExecNoOpportunity,
		domain.ExecExecuting, domain.ExecSettled, domain.ExecFailed,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.executorState.WithLabelValues(string(s)).Set(v)
	}
}
