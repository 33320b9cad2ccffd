// Package metrics defines the Prometheus collectors exported by the daemon.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vault"

type Metrics struct {
	Operations       *prometheus.CounterVec
	Issued           *prometheus.CounterVec
	Resolved         *prometheus.CounterVec
	Outstanding      *prometheus.GaugeVec
	TotalAssets      *prometheus.GaugeVec
	YieldDistributed *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Vault entry point calls by operation and result.",
		}, []string{"op", "result"}),
		Issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "issued_total",
			Help:      "Cross-chain operations issued.",
		}, []string{"protocol", "action"}),
		Resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "resolved_total",
			Help:      "Cross-chain operations resolved by final state.",
		}, []string{"protocol", "action", "state"}),
		Outstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "outstanding",
			Help:      "Issued operations awaiting confirmation.",
		}, []string{"protocol"}),
		TotalAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_assets",
			Help:      "Idle plus deployed assets, in base units.",
		}, []string{"asset"}),
		YieldDistributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "yield_distributed_total",
			Help:      "Yield reported to the destination ledger, in base units.",
		}, []string{"asset"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	reg.MustRegister(m.Operations, m.Issued, m.Resolved, m.Outstanding, m.TotalAssets, m.YieldDistributed, m.RequestDuration)
	return m
}

// Float converts base units for gauges. Precision loss above 2^53 is accepted.
func Float(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
