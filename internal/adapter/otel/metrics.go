// Package otel provides OpenTelemetry instrumentation for ClawDeck.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "clawdeck"

// Metrics holds all ClawDeck metric instruments.
type Metrics struct {
	DispatchesStarted   metric.Int64Counter
	DispatchesCompleted metric.Int64Counter
	DispatchesFailed    metric.Int64Counter
	StreamChunks        metric.Int64Counter
	ProbeFailures       metric.Int64Counter
	DispatchDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.DispatchesStarted, err = meter.Int64Counter("clawdeck.dispatches.started",
		metric.WithDescription("Number of task dispatches started"))
	if err != nil {
		return nil, err
	}

	m.DispatchesCompleted, err = meter.Int64Counter("clawdeck.dispatches.completed",
		metric.WithDescription("Number of task dispatches that reached completed"))
	if err != nil {
		return nil, err
	}

	m.DispatchesFailed, err = meter.Int64Counter("clawdeck.dispatches.failed",
		metric.WithDescription("Number of task dispatches that reached failed"))
	if err != nil {
		return nil, err
	}

	m.StreamChunks, err = meter.Int64Counter("clawdeck.stream.chunks",
		metric.WithDescription("Number of output deltas relayed"))
	if err != nil {
		return nil, err
	}

	m.ProbeFailures, err = meter.Int64Counter("clawdeck.health.probe_failures",
		metric.WithDescription("Number of failed health probes"))
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("clawdeck.dispatch.duration_seconds",
		metric.WithDescription("Dispatch duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
