package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	clawotel "github.com/Strob0t/ClawDeck/internal/adapter/otel"
	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/resilience"
)

// maxConcurrentProbes bounds one sweep's parallelism.
const maxConcurrentProbes = 8

// Prober checks whether an instance endpoint is alive.
type Prober interface {
	Probe(ctx context.Context, endpoint, token string) error
}

// Health periodically probes every registered instance and reports the
// verdicts to the registry. Each instance gets its own circuit breaker so a
// dead endpoint stops eating a probe timeout on every sweep.
type Health struct {
	registry *Registry
	prober   Prober
	breakers *resilience.BreakerSet
	metrics  *clawotel.Metrics

	interval     time.Duration
	probeTimeout time.Duration
}

// NewHealth creates the health monitor.
func NewHealth(registry *Registry, prober Prober, breakers *resilience.BreakerSet, metrics *clawotel.Metrics, interval, probeTimeout time.Duration) *Health {
	return &Health{
		registry:     registry,
		prober:       prober,
		breakers:     breakers,
		metrics:      metrics,
		interval:     interval,
		probeTimeout: probeTimeout,
	}
}

// Run sweeps until ctx is canceled. The first sweep happens immediately so a
// fresh start does not show every instance offline for a full interval.
func (h *Health) Run(ctx context.Context) {
	slog.Info("health monitor started", "interval", h.interval)

	h.Sweep(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("health monitor stopped")
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep probes all instances once, in parallel. Busy instances are skipped
// entirely: an in-flight dispatch is better liveness evidence than a probe.
func (h *Health) Sweep(ctx context.Context) {
	instances := h.registry.List()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for _, pub := range instances {
		if pub.Status == instance.StatusBusy {
			continue
		}
		g.Go(func() error {
			h.probe(ctx, pub.ID)
			return nil
		})
	}
	_ = g.Wait()
}

// ProbeNow probes one instance on demand and returns its resulting status.
// A busy instance is not probed; busy is the answer.
func (h *Health) ProbeNow(ctx context.Context, id string) (instance.Status, error) {
	inst, err := h.registry.Get(id)
	if err != nil {
		return "", err
	}
	if inst.Status == instance.StatusBusy {
		return instance.StatusBusy, nil
	}

	h.probe(ctx, id)

	inst, err = h.registry.Get(id)
	if err != nil {
		return "", err
	}
	return inst.Status, nil
}

func (h *Health) probe(ctx context.Context, id string) {
	inst, err := h.registry.Get(id)
	if err != nil {
		return // deleted since the sweep started
	}

	ctx, span := clawotel.StartProbeSpan(ctx, id)
	defer span.End()

	err = h.breakers.Execute(id, func() error {
		pctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
		defer cancel()
		return h.prober.Probe(pctx, inst.Endpoint, inst.Token)
	})

	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			h.metrics.ProbeFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("instance.id", id)))
			slog.Debug("health probe failed", "instance_id", id, "error", err)
		}
		h.registry.ReportHealth(ctx, id, false)
		return
	}

	h.registry.ReportHealth(ctx, id, true)
}
