package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	clawotel "github.com/Strob0t/ClawDeck/internal/adapter/otel"
	"github.com/Strob0t/ClawDeck/internal/adapter/ws"
	"github.com/Strob0t/ClawDeck/internal/domain"
	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/domain/task"
	"github.com/Strob0t/ClawDeck/internal/port/broadcast"
)

// Dispatch orchestrates task dispatches: validation, claiming the instance,
// running the relay in the background, and recording the terminal verdict.
type Dispatch struct {
	registry *Registry
	tasks    *Tasks
	sessions *Sessions
	relay    *Relay
	bus      broadcast.Broadcaster
	metrics  *clawotel.Metrics
}

// NewDispatch wires the dispatch orchestrator.
func NewDispatch(registry *Registry, tasks *Tasks, sessions *Sessions, relay *Relay, bus broadcast.Broadcaster, metrics *clawotel.Metrics) *Dispatch {
	return &Dispatch{
		registry: registry,
		tasks:    tasks,
		sessions: sessions,
		relay:    relay,
		bus:      bus,
		metrics:  metrics,
	}
}

// Dispatch validates and accepts a task for an instance. The returned error
// is a synchronous rejection; once accepted, progress and the terminal
// verdict arrive as broadcast frames while the relay runs in the background.
func (d *Dispatch) Dispatch(ctx context.Context, req ws.DispatchPayload) error {
	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	if req.InstanceID == "" {
		return fmt.Errorf("instanceId is required: %w", domain.ErrValidation)
	}

	inst, err := d.registry.Get(req.InstanceID)
	if err != nil {
		return err
	}

	sessionKey := d.sessions.Key(inst.ID)
	if req.NewSession {
		sessionKey = d.sessions.Reset(inst.ID)
	}

	t, err := d.tasks.Create(inst.ID, req.Content, req.TaskID)
	if err != nil {
		return err
	}

	running := task.StatusRunning
	if t, err = d.tasks.Update(t.ID, task.Update{Status: &running}); err != nil {
		return err
	}

	if err := d.registry.Claim(ctx, inst.ID, &t); err != nil {
		// The dispatch never started; drop the record so the client can
		// retry with the same task id.
		d.tasks.Delete(t.ID)
		return err
	}

	slog.Info("task dispatched",
		"task_id", t.ID,
		"instance_id", inst.ID,
		"instance_name", inst.Name,
		"session_key", sessionKey,
		"new_session", req.NewSession,
	)
	d.metrics.DispatchesStarted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("instance.id", inst.ID)))

	d.bus.Broadcast(ctx, broadcast.Frame{
		Type:       ws.FrameTaskStatus,
		Payload:    t,
		InstanceID: inst.ID,
		TaskID:     t.ID,
		SessionKey: sessionKey,
	})

	// The relay outlives the triggering request or ws frame.
	go d.run(context.WithoutCancel(ctx), inst, t, sessionKey)
	return nil
}

// run drives the relay to a verdict and publishes it.
func (d *Dispatch) run(ctx context.Context, inst instance.Instance, t task.Task, sessionKey string) {
	ctx, span := clawotel.StartDispatchSpan(ctx, inst.ID, t.ID)
	defer span.End()

	start := time.Now()
	outcome := d.relay.Run(ctx, inst, t, sessionKey)
	elapsed := time.Since(start)

	done, err := d.tasks.Update(t.ID, task.Update{Status: &outcome.Status, Summary: &outcome.Summary})
	if err != nil {
		slog.Error("record task verdict", "task_id", t.ID, "error", err)
		done = t
		done.Status = outcome.Status
		done.Summary = outcome.Summary
	}

	// A failed dispatch says nothing about liveness; only the health
	// monitor may mark an instance offline.
	d.registry.Release(ctx, inst.ID, instance.StatusOnline)

	attrs := metric.WithAttributes(attribute.String("instance.id", inst.ID))
	d.metrics.DispatchDuration.Record(ctx, elapsed.Seconds(), attrs)

	if outcome.Status == task.StatusFailed {
		d.metrics.DispatchesFailed.Add(ctx, 1, attrs)
		slog.Warn("task failed", "task_id", t.ID, "instance_id", inst.ID, "summary", outcome.Summary)
		d.bus.Broadcast(ctx, broadcast.Frame{
			Type:       ws.FrameTaskError,
			Payload:    ws.ErrorPayload{TaskID: t.ID, Error: outcome.Summary},
			InstanceID: inst.ID,
			TaskID:     t.ID,
			SessionKey: sessionKey,
		})
		return
	}

	d.metrics.DispatchesCompleted.Add(ctx, 1, attrs)
	slog.Info("task completed", "task_id", t.ID, "instance_id", inst.ID, "duration", elapsed)
	d.bus.Broadcast(ctx, broadcast.Frame{
		Type:       ws.FrameTaskComplete,
		Payload:    ws.CompletePayload{TaskID: done.ID, Status: done.Status, Summary: done.Summary},
		InstanceID: inst.ID,
		TaskID:     t.ID,
		SessionKey: sessionKey,
	})
}
