package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function. Spans and metrics use the
// global otel API; deployments that want an exporter configure the global
// providers before calling this.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel: using global providers", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
