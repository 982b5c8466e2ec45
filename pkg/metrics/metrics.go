// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine holds the counters the position engine increments. A nil *Engine
// is safe to use; all methods become no-ops.
type Engine struct {
	registry *prometheus.Registry

	positionsOpened     prometheus.Counter
	positionsClosed     prometheus.Counter
	positionsLiquidated prometheus.Counter
	ordersPlaced        prometheus.Counter
	ordersExecuted      prometheus.Counter
	ordersCancelled     prometheus.Counter
	attestationFailures prometheus.Counter
	inconsistencies     prometheus.Counter
	feeVolume           prometheus.Counter
}

// New creates a registry with all engine collectors registered under the
// given namespace.
func New(namespace string) *Engine {
	registry := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	return &Engine{
		registry:            registry,
		positionsOpened:     counter("positions_opened_total", "Positions opened"),
		positionsClosed:     counter("positions_closed_total", "Positions fully closed"),
		positionsLiquidated: counter("positions_liquidated_total", "Positions liquidated"),
		ordersPlaced:        counter("orders_placed_total", "Resting orders placed"),
		ordersExecuted:      counter("orders_executed_total", "Resting orders executed"),
		ordersCancelled:     counter("orders_cancelled_total", "Resting orders cancelled"),
		attestationFailures: counter("attestation_failures_total", "Price attestations rejected"),
		inconsistencies:     counter("accounting_inconsistencies_total", "Best-effort payouts due to missing liquidity"),
		feeVolume:           counter("fee_volume_total", "Total fees distributed, in accounting units"),
	}
}

// Handler serves the registry over HTTP.
func (e *Engine) Handler() http.Handler {
	if e == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// PositionOpened increments the opened-positions counter.
func (e *Engine) PositionOpened() {
	if e != nil {
		e.positionsOpened.Inc()
	}
}

// PositionClosed increments the closed-positions counter.
func (e *Engine) PositionClosed() {
	if e != nil {
		e.positionsClosed.Inc()
	}
}

// PositionLiquidated increments the liquidations counter.
func (e *Engine) PositionLiquidated() {
	if e != nil {
		e.positionsLiquidated.Inc()
	}
}

// OrderPlaced increments the placed-orders counter.
func (e *Engine) OrderPlaced() {
	if e != nil {
		e.ordersPlaced.Inc()
	}
}

// OrderExecuted increments the executed-orders counter.
func (e *Engine) OrderExecuted() {
	if e != nil {
		e.ordersExecuted.Inc()
	}
}

// OrderCancelled increments the cancelled-orders counter.
func (e *Engine) OrderCancelled() {
	if e != nil {
		e.ordersCancelled.Inc()
	}
}

// AttestationFailure increments the rejected-attestations counter.
func (e *Engine) AttestationFailure() {
	if e != nil {
		e.attestationFailures.Inc()
	}
}

// AccountingInconsistency increments the best-effort payout counter.
func (e *Engine) AccountingInconsistency() {
	if e != nil {
		e.inconsistencies.Inc()
	}
}

// FeeDistributed adds a distributed fee amount to the fee volume counter.
func (e *Engine) FeeDistributed(amount float64) {
	if e != nil && amount > 0 {
		e.feeVolume.Add(amount)
	}
}
