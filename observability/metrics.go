package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type ledgerMetrics struct {
	trades       *prometheus.CounterVec
	tradeValue   *prometheus.CounterVec
	liquidations prometheus.Counter
	stableSupply prometheus.Gauge
	priceIndex   *prometheus.GaugeVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics
)

// RPCMetrics returns the lazily-initialised registry recording JSON-RPC
// handler activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "agora",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.errors, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records one handled request.
func (m *rpcMetrics) Observe(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	method = normalizeLabel(method)
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordError counts one failed request by RPC error code.
func (m *rpcMetrics) RecordError(method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(normalizeLabel(method), code).Inc()
}

// LedgerMetrics returns the lazily-initialised registry tracking marketplace
// and stable-token activity.
func LedgerMetrics() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			trades: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "market",
				Name:      "trades_total",
				Help:      "Executed buy orders segmented by category.",
			}, []string{"category"}),
			tradeValue: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "market",
				Name:      "trade_value_wei_total",
				Help:      "Aggregate executed trade value segmented by category.",
			}, []string{"category"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "stable",
				Name:      "liquidations_total",
				Help:      "Count of executed liquidations.",
			}),
			stableSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "agora",
				Subsystem: "stable",
				Name:      "supply_wei",
				Help:      "Outstanding stable token supply.",
			}),
			priceIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "agora",
				Subsystem: "cpi",
				Name:      "period_index",
				Help:      "Most recently computed period price index by window.",
			}, []string{"window"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.trades,
			ledgerRegistry.tradeValue,
			ledgerRegistry.liquidations,
			ledgerRegistry.stableSupply,
			ledgerRegistry.priceIndex,
		)
	})
	return ledgerRegistry
}

// RecordTrade counts an executed purchase and its settled value.
func (m *ledgerMetrics) RecordTrade(category string, value *big.Int) {
	if m == nil {
		return
	}
	category = normalizeLabel(category)
	m.trades.WithLabelValues(category).Inc()
	m.tradeValue.WithLabelValues(category).Add(bigFloat(value))
}

// RecordLiquidation counts one executed liquidation.
func (m *ledgerMetrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// SetStableSupply reports the outstanding stable supply.
func (m *ledgerMetrics) SetStableSupply(supply *big.Int) {
	if m == nil {
		return
	}
	m.stableSupply.Set(bigFloat(supply))
}

// SetPriceIndex reports the latest computed index for the window.
func (m *ledgerMetrics) SetPriceIndex(window string, index *big.Int) {
	if m == nil {
		return
	}
	m.priceIndex.WithLabelValues(normalizeLabel(window)).Set(bigFloat(index))
}

func normalizeLabel(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
