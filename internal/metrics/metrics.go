// Package metrics exposes Prometheus collectors for the paper-trading engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "papertrade"

// Metrics groups the engine's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated  *prometheus.CounterVec
	OrderOutcomes  *prometheus.CounterVec
	FillNotional   prometheus.Counter
	PriceMisses    *prometheus.CounterVec
	SweepDuration  prometheus.Histogram
	SweepErrors    prometheus.Counter
	PendingOrders  prometheus.Gauge
	ActiveAccounts prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders accepted, by type and side.",
		}, []string{"type", "side"}),
		OrderOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order transitions out of PENDING, by resulting status.",
		}, []string{"status"}),
		FillNotional: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_notional_total",
			Help:      "Sum of quantity times price over all fills.",
		}),
		PriceMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_unavailable_total",
			Help:      "Price lookups that returned no usable price, by source.",
		}, []string{"source"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a scheduler pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "order_errors_total",
			Help:      "Orders whose execution failed during a pass.",
		}),
		PendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pending_orders",
			Help:      "Open orders seen by the last pass.",
		}),
		ActiveAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "active_accounts",
			Help:      "Accounts refreshed by the last pass.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrdersCreated,
		m.OrderOutcomes,
		m.FillNotional,
		m.PriceMisses,
		m.SweepDuration,
		m.SweepErrors,
		m.PendingOrders,
		m.ActiveAccounts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// OrderCreated counts an accepted order by type and side.
func (m *Metrics) OrderCreated(orderType, side string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(orderType, side).Inc()
}

// OrderTransition counts an order reaching a terminal status other than FILLED.
func (m *Metrics) OrderTransition(status string) {
	if m == nil {
		return
	}
	m.OrderOutcomes.WithLabelValues(status).Inc()
}

// Fill counts a fill and adds its notional value.
func (m *Metrics) Fill(notional float64) {
	if m == nil {
		return
	}
	m.OrderOutcomes.WithLabelValues("FILLED").Inc()
	m.FillNotional.Add(notional)
}

// PriceMiss counts a lookup that returned no usable price.
func (m *Metrics) PriceMiss(source string) {
	if m == nil {
		return
	}
	m.PriceMisses.WithLabelValues(source).Inc()
}

// Pass records one completed scheduler pass.
func (m *Metrics) Pass(started time.Time, pending, accounts, failures int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(time.Since(started).Seconds())
	m.PendingOrders.Set(float64(pending))
	m.ActiveAccounts.Set(float64(accounts))
	m.SweepErrors.Add(float64(failures))
}
