package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/ClawDeck/internal/adapter/openresponses"
	clawotel "github.com/Strob0t/ClawDeck/internal/adapter/otel"
	"github.com/Strob0t/ClawDeck/internal/adapter/ws"
	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/domain/task"
	"github.com/Strob0t/ClawDeck/internal/logger"
	"github.com/Strob0t/ClawDeck/internal/port/broadcast"
)

// summaryCap bounds the stored task summary. The full output reaches clients
// as stream chunks; the summary is for lists and reconnects.
const summaryCap = 500

// streamSummaryLen bounds the running summary carried on stream frames.
const streamSummaryLen = 200

// disconnectNote is appended to the summary when the stream drops before a
// terminal event. The agent keeps running server-side, so the output so far
// still counts.
const disconnectNote = "\n\n[Connection lost — agent may still be running]"

// StreamClient issues one streamed exchange against an instance.
type StreamClient interface {
	Stream(ctx context.Context, req openresponses.Request, h openresponses.Handler) error
}

// Outcome is the terminal verdict of one relayed dispatch.
type Outcome struct {
	Status  task.Status
	Summary string
}

// Relay drives a single streamed dispatch: it forwards the task to the
// instance, normalizes the event stream into broadcast frames, and reduces
// the stream to a terminal outcome.
type Relay struct {
	client  StreamClient
	bus     broadcast.Broadcaster
	tasks   *Tasks
	metrics *clawotel.Metrics
	timeout time.Duration
}

// NewRelay creates a relay with a hard wall-clock cap per dispatch.
func NewRelay(client StreamClient, bus broadcast.Broadcaster, tasks *Tasks, metrics *clawotel.Metrics, timeout time.Duration) *Relay {
	return &Relay{client: client, bus: bus, tasks: tasks, metrics: metrics, timeout: timeout}
}

// Run relays one task and blocks until the stream reaches a verdict.
//
// The reduction rules, in order of the stream's own signals:
//   - response.failed ends the dispatch as failed with the reported message.
//   - response.completed ends it as completed; the nested response text wins
//     over the accumulated deltas when present.
//   - a clean end of stream without either event is an implicit completion
//     with whatever text accumulated.
//   - a transport drop mid-stream after output arrived is a soft completion:
//     the accumulated text plus a disclaimer. A drop before any output is a
//     failure.
func (r *Relay) Run(ctx context.Context, inst instance.Instance, t task.Task, sessionKey string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		acc       string
		completed bool
		failed    bool
		failMsg   string
		doneText  string
		finalText string
	)

	handler := func(f openresponses.Frame) {
		logger.Frame(logger.DirInbound, inst.ID, inst.Name, f.Raw)
		if f.Event == nil {
			return // [DONE] or an unparseable frame
		}

		switch f.Event.Type {
		case openresponses.EventOutputTextDelta:
			if failed || completed || f.Event.Delta == "" {
				return
			}
			acc += f.Event.Delta
			r.metrics.StreamChunks.Add(ctx, 1,
				metric.WithAttributes(attribute.String("instance.id", inst.ID)))
			r.bus.Broadcast(ctx, broadcast.Frame{
				Type: ws.FrameTaskStream,
				Payload: ws.StreamPayload{
					InstanceID: inst.ID,
					TaskID:     t.ID,
					Chunk:      f.Event.Delta,
					Summary:    logger.Preview(f.Event.Delta, streamSummaryLen),
				},
				InstanceID: inst.ID,
				TaskID:     t.ID,
				SessionKey: sessionKey,
			})

		case openresponses.EventOutputTextDone:
			if f.Event.Text != "" {
				doneText = f.Event.Text
				// The task record picks up the text right away, so a task
				// fetched mid-stream already shows it; the finalizer still
				// decides the terminal summary.
				summary := capSummary(doneText)
				if _, err := r.tasks.Update(t.ID, task.Update{Summary: &summary}); err != nil {
					slog.Debug("mid-stream summary update failed", "task_id", t.ID, "error", err)
				}
			}

		case openresponses.EventCompleted:
			completed = true
			finalText = f.Event.Response.OutputText()

		case openresponses.EventFailed:
			failed = true
			failMsg = "Agent run failed"
			if f.Event.Error != nil && f.Event.Error.Message != "" {
				failMsg = f.Event.Error.Message
			}
		}
	}

	req := openresponses.Request{
		Endpoint: inst.Endpoint,
		Token:    inst.Token,
		Input:    t.Content,
		User:     sessionKey,
	}
	logger.Frame(logger.DirOutbound, inst.ID, inst.Name, t.Content)

	err := r.client.Stream(ctx, req, handler)

	switch {
	case failed:
		return Outcome{Status: task.StatusFailed, Summary: capSummary(failMsg)}

	case completed:
		summary := finalText
		if summary == "" {
			summary = doneText
		}
		if summary == "" {
			summary = acc
		}
		return Outcome{Status: task.StatusCompleted, Summary: capSummary(summary)}

	case err == nil:
		// Stream ended cleanly without a terminal event. Treat as success.
		summary := doneText
		if summary == "" {
			summary = acc
		}
		if summary == "" {
			summary = "Task completed"
		}
		return Outcome{Status: task.StatusCompleted, Summary: capSummary(summary)}

	case errors.Is(err, openresponses.ErrStreamInterrupted) && acc != "":
		// Output already arrived; the agent keeps running server-side.
		slog.Warn("stream dropped mid-dispatch", "instance_id", inst.ID, "task_id", t.ID, "error", err)
		return Outcome{Status: task.StatusCompleted, Summary: capSummary(acc) + disconnectNote}

	default:
		slog.Error("dispatch failed", "instance_id", inst.ID, "task_id", t.ID, "error", err)
		return Outcome{Status: task.StatusFailed, Summary: capSummary(err.Error())}
	}
}

// capSummary truncates s to the summary bound.
func capSummary(s string) string {
	return logger.Preview(s, summaryCap)
}
