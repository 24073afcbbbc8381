package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/ClawDeck/internal/adapter/openresponses"
	clawotel "github.com/Strob0t/ClawDeck/internal/adapter/otel"
	"github.com/Strob0t/ClawDeck/internal/adapter/ws"
	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/domain/task"
)

// scriptedStream replays a fixed frame sequence and returns a fixed error.
type scriptedStream struct {
	frames []openresponses.Frame
	err    error
	gotReq openresponses.Request
}

func (s *scriptedStream) Stream(_ context.Context, req openresponses.Request, h openresponses.Handler) error {
	s.gotReq = req
	for _, f := range s.frames {
		h(f)
	}
	return s.err
}

func deltaFrame(text string) openresponses.Frame {
	return openresponses.Frame{
		Raw:   text,
		Event: &openresponses.Event{Type: openresponses.EventOutputTextDelta, Delta: text},
	}
}

func completedFrame(text string) openresponses.Frame {
	var resp *openresponses.Response
	if text != "" {
		resp = &openresponses.Response{Output: []openresponses.OutputItem{{
			Type:    "message",
			Content: []openresponses.ContentPart{{Type: "output_text", Text: text}},
		}}}
	}
	return openresponses.Frame{
		Raw:   "completed",
		Event: &openresponses.Event{Type: openresponses.EventCompleted, Response: resp},
	}
}

func newTestRelay(t *testing.T, stream *scriptedStream, bus *recordBus) *Relay {
	t.Helper()
	metrics, err := clawotel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return NewRelay(stream, bus, NewTasks(), metrics, time.Minute)
}

var relayInst = instance.Instance{ID: "i1", Name: "alpha", Endpoint: "http://agent", Token: "tok"}

func TestRelayCompletedWithNestedResponse(t *testing.T) {
	stream := &scriptedStream{frames: []openresponses.Frame{
		deltaFrame("Hello "),
		deltaFrame("world"),
		completedFrame("Hello world, final"),
		{Raw: openresponses.DoneSentinel},
	}}
	bus := &recordBus{}
	r := newTestRelay(t, stream, bus)

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1", Content: "say hi"}, "manager-i1")

	if out.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", out.Status)
	}
	if out.Summary != "Hello world, final" {
		t.Errorf("nested response text must win, got %q", out.Summary)
	}

	if stream.gotReq.Input != "say hi" || stream.gotReq.User != "manager-i1" || stream.gotReq.Token != "tok" {
		t.Errorf("unexpected outbound request: %+v", stream.gotReq)
	}

	frames := bus.ofType(ws.FrameTaskStream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 stream frames, got %d", len(frames))
	}
	first, ok := frames[0].Payload.(ws.StreamPayload)
	if !ok {
		t.Fatalf("expected stream payload, got %T", frames[0].Payload)
	}
	if first.Chunk != "Hello " || first.Summary != "Hello " {
		t.Errorf("expected first chunk in order, got %+v", first)
	}
	second := frames[1].Payload.(ws.StreamPayload)
	if second.Summary != "world" {
		t.Errorf("stream summary must carry the frame's own delta, got %q", second.Summary)
	}
	if frames[0].SessionKey != "manager-i1" {
		t.Errorf("expected session key on frame, got %q", frames[0].SessionKey)
	}
}

func TestRelayStreamFrameSummaryTruncatesDelta(t *testing.T) {
	long := strings.Repeat("y", 300)
	stream := &scriptedStream{frames: []openresponses.Frame{
		deltaFrame("aaaa"),
		deltaFrame(long),
	}}
	bus := &recordBus{}
	r := newTestRelay(t, stream, bus)

	r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	frames := bus.ofType(ws.FrameTaskStream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 stream frames, got %d", len(frames))
	}
	second := frames[1].Payload.(ws.StreamPayload)
	if !strings.HasPrefix(second.Summary, "y") {
		t.Errorf("summary must come from the delta, not the accumulated text, got %q", second.Summary)
	}
	if got := len([]rune(second.Summary)); got != streamSummaryLen {
		t.Errorf("expected summary capped at %d runes, got %d", streamSummaryLen, got)
	}
}

func TestRelayImplicitCompletionOnCleanEnd(t *testing.T) {
	stream := &scriptedStream{frames: []openresponses.Frame{
		deltaFrame("partial output"),
	}}
	r := newTestRelay(t, stream, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Status != task.StatusCompleted {
		t.Fatalf("clean end without terminal event should complete, got %s", out.Status)
	}
	if out.Summary != "partial output" {
		t.Errorf("expected accumulated text, got %q", out.Summary)
	}
}

func TestRelayCompletedEmptyResponseFallsBackToAccumulated(t *testing.T) {
	stream := &scriptedStream{frames: []openresponses.Frame{
		deltaFrame("streamed text"),
		completedFrame(""),
	}}
	r := newTestRelay(t, stream, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Summary != "streamed text" {
		t.Errorf("expected accumulated fallback, got %q", out.Summary)
	}
}

func TestRelayFailedEvent(t *testing.T) {
	stream := &scriptedStream{frames: []openresponses.Frame{
		deltaFrame("some output"),
		{Raw: "failed", Event: &openresponses.Event{
			Type:  openresponses.EventFailed,
			Error: &openresponses.ErrorDetail{Message: "model overloaded"},
		}},
	}}
	r := newTestRelay(t, stream, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if out.Summary != "model overloaded" {
		t.Errorf("expected reported message, got %q", out.Summary)
	}
}

func TestRelaySoftCompletionOnStreamDrop(t *testing.T) {
	stream := &scriptedStream{
		frames: []openresponses.Frame{deltaFrame("got this far")},
		err:    openresponses.ErrStreamInterrupted,
	}
	r := newTestRelay(t, stream, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Status != task.StatusCompleted {
		t.Fatalf("a mid-stream drop must not fail the task, got %s", out.Status)
	}
	if !strings.HasPrefix(out.Summary, "got this far") {
		t.Errorf("expected accumulated text kept, got %q", out.Summary)
	}
	if !strings.Contains(out.Summary, "Connection lost") {
		t.Errorf("expected disclaimer appended, got %q", out.Summary)
	}
}

func TestRelayStreamDropWithoutOutputFails(t *testing.T) {
	stream := &scriptedStream{err: openresponses.ErrStreamInterrupted}
	r := newTestRelay(t, stream, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Status != task.StatusFailed {
		t.Fatalf("a drop with nothing received is a failure, got %s", out.Status)
	}
}

func TestRelayOutputTextDone(t *testing.T) {
	stream := &scriptedStream{frames: []openresponses.Frame{
		deltaFrame("a"),
		deltaFrame("b"),
		{Raw: "done", Event: &openresponses.Event{
			Type: openresponses.EventOutputTextDone, Text: "ab",
		}},
	}}
	r := newTestRelay(t, stream, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", out.Status)
	}
	if out.Summary != "ab" {
		t.Errorf("expected done text as summary, got %q", out.Summary)
	}
}

func TestRelayWritesSummaryMidStream(t *testing.T) {
	tasks := NewTasks()
	if _, err := tasks.Create("i1", "work", "t1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	metrics, err := clawotel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	stream := &scriptedStream{frames: []openresponses.Frame{
		deltaFrame("partial"),
		{Raw: "done", Event: &openresponses.Event{
			Type: openresponses.EventOutputTextDone, Text: "partial answer",
		}},
	}}
	r := NewRelay(stream, &recordBus{}, tasks, metrics, time.Minute)

	r.Run(context.Background(), relayInst, task.Task{ID: "t1", Content: "work"}, "manager-i1")

	rec, err := tasks.Get("t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Summary != "partial answer" {
		t.Errorf("expected done text on the record, got %q", rec.Summary)
	}
	// Only the dispatch finalizer settles the status, so a non-terminal
	// record carrying the text proves the write happened during the stream.
	if rec.Status != task.StatusPending {
		t.Errorf("relay must not settle the status, got %s", rec.Status)
	}
}

func TestRelayEmptyStreamDefaultSummary(t *testing.T) {
	r := newTestRelay(t, &scriptedStream{}, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Status != task.StatusCompleted {
		t.Fatalf("expected implicit completion, got %s", out.Status)
	}
	if out.Summary != "Task completed" {
		t.Errorf("expected default summary, got %q", out.Summary)
	}
}

func TestRelayHTTPErrorFails(t *testing.T) {
	stream := &scriptedStream{
		err: &openresponses.HTTPError{StatusCode: 503, Body: "unavailable"},
	}
	r := newTestRelay(t, stream, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Status != task.StatusFailed {
		t.Fatalf("expected failed on HTTP error, got %s", out.Status)
	}
	if !strings.Contains(out.Summary, "503") {
		t.Errorf("expected status in summary, got %q", out.Summary)
	}
}

func TestRelaySummaryCap(t *testing.T) {
	long := strings.Repeat("x", 700)
	stream := &scriptedStream{frames: []openresponses.Frame{deltaFrame(long)}}
	r := newTestRelay(t, stream, &recordBus{})

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if got := len([]rune(out.Summary)); got != summaryCap {
		t.Errorf("expected capped summary of %d runes, got %d", summaryCap, got)
	}
	if !strings.HasSuffix(out.Summary, "...") {
		t.Errorf("expected truncation marker, got %q", out.Summary[len(out.Summary)-10:])
	}
}

func TestRelayIgnoresSentinelAndUnknownFrames(t *testing.T) {
	stream := &scriptedStream{frames: []openresponses.Frame{
		{Raw: openresponses.DoneSentinel},
		{Raw: "garbage"},
		{Raw: "other", Event: &openresponses.Event{Type: "response.created"}},
		deltaFrame("real"),
	}}
	bus := &recordBus{}
	r := newTestRelay(t, stream, bus)

	out := r.Run(context.Background(), relayInst, task.Task{ID: "t1"}, "manager-i1")

	if out.Summary != "real" {
		t.Errorf("expected only the delta to count, got %q", out.Summary)
	}
	if got := len(bus.ofType(ws.FrameTaskStream)); got != 1 {
		t.Errorf("expected 1 stream frame, got %d", got)
	}
}
