package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PromMetrics struct {
	CyclesRun        prometheus.Counter
	CycleDuration    prometheus.Histogram
	TradesSettled    *prometheus.CounterVec
	SettlementFaults *prometheus.CounterVec
	OpenOrders       *prometheus.GaugeVec
}

func NewPromMetrics(registry *prometheus.Registry) *PromMetrics {
	m := &PromMetrics{
		CyclesRun: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "market_matching_cycles_total",
				Help: "Total matching cycles run.",
			},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "market_matching_cycle_duration_seconds",
				Help:    "Duration of one full matching cycle in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		TradesSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_trades_settled_total",
				Help: "Total trades settled by resource type.",
			},
			[]string{"resource_type"},
		),
		SettlementFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_settlement_faults_total",
				Help: "Settlement events rejected at the ledger, by reason.",
			},
			[]string{"reason"},
		),
		OpenOrders: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "market_open_orders",
				Help: "Open orders observed at cycle start, by resource type and side.",
			},
			[]string{"resource_type", "side"},
		),
	}

	registry.MustRegister(m.CyclesRun, m.CycleDuration, m.TradesSettled, m.SettlementFaults, m.OpenOrders)
	return m
}

func (m *PromMetrics) ObserveCycle(duration time.Duration, trades int) {
	if m == nil {
		return
	}
	m.CyclesRun.Inc()
	m.CycleDuration.Observe(duration.Seconds())
}

func (m *PromMetrics) ObserveTrades(resourceType string, count int) {
	if m == nil {
		return
	}
	m.TradesSettled.WithLabelValues(resourceType).Add(float64(count))
}

func (m *PromMetrics) IncSettlementFault(reason string) {
	if m == nil {
		return
	}
	m.SettlementFaults.WithLabelValues(reason).Inc()
}

func (m *PromMetrics) SetOpenOrders(resourceType string, side string, count float64) {
	if m == nil {
		return
	}
	m.OpenOrders.WithLabelValues(resourceType, side).Set(count)
}
