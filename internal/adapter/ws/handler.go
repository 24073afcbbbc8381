// Package ws implements the WebSocket adapter for real-time client
// communication: the fan-out hub and the control-channel intake.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/ClawDeck/internal/port/broadcast"
)

// writeTimeout bounds one frame write inside a connection's writer.
const writeTimeout = 5 * time.Second

// sendBuffer bounds the per-connection outbound queue. A client that falls
// this many frames behind stopped reading and gets disconnected.
const sendBuffer = 64

// conn wraps a single WebSocket connection. All writes go through the send
// queue, drained by the connection's own writer goroutine, so one stalled
// client never delays delivery to the others.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections, broadcasts frames, and feeds
// inbound dispatch requests to the Dispatcher.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}

	snapshotter Snapshotter
	dispatcher  Dispatcher
}

// NewHub creates a new WebSocket hub. Wire must be called before serving.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// Wire attaches the state source and dispatch intake. Separate from NewHub
// because the services broadcasting through the hub are constructed after
// it.
func (h *Hub) Wire(s Snapshotter, d Dispatcher) {
	h.snapshotter = s
	h.dispatcher = d
}

// HandleWS upgrades the connection, sends the full-state snapshot, and runs
// the read loop.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	go h.writeLoop(ctx, c)

	h.sendSnapshot(c)

	go h.readLoop(ctx, c)
}

// writeLoop owns all writes to one connection, draining its queue until the
// connection dies or the hub drops it.
func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// readLoop consumes client frames until the connection dies. Malformed
// frames are silently discarded; only task:dispatch has server-side meaning.
func (h *Hub) readLoop(ctx context.Context, c *conn) {
	defer func() {
		h.remove(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		h.handleInbound(ctx, c, data)
	}
}

// inboundFrame is the envelope of a client→server message.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TaskID  string          `json:"taskId,omitempty"`
}

func (h *Hub) handleInbound(ctx context.Context, c *conn, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Type != FrameTaskDispatch {
		return
	}

	var req DispatchPayload
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return
	}
	if req.TaskID == "" {
		req.TaskID = frame.TaskID
	}

	if err := h.dispatcher.Dispatch(ctx, req); err != nil {
		// Rejections go back to the requesting client only; nothing was
		// mutated, so the other clients have nothing to learn.
		h.send(c, broadcast.Frame{
			Type:       FrameTaskError,
			Payload:    ErrorPayload{TaskID: req.TaskID, Error: err.Error()},
			InstanceID: req.InstanceID,
			TaskID:     req.TaskID,
		}.Stamp())
	}
}

func (h *Hub) sendSnapshot(c *conn) {
	snap := h.snapshotter.Snapshot()
	h.send(c, broadcast.Frame{
		Type:    FrameInstanceStatus,
		Payload: snap,
	}.Stamp())
}

// send queues one frame for a single connection.
func (h *Hub) send(c *conn, f broadcast.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("websocket marshal failed", "type", f.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.conns[c]; ok {
		h.enqueue(c, data)
	}
}

// enqueue hands a serialized frame to the connection's writer without
// blocking. A full queue disconnects the client. Callers hold at least a
// read lock, which is what keeps the queue open while they send.
func (h *Hub) enqueue(c *conn, data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("websocket send queue full, dropping client")
		go h.remove(c)
	}
}

// Broadcast queues a frame for all connected clients. The frame is
// serialized once and delivery is per-connection: a slow or dead sink is
// dropped without delaying the rest, and the caller never blocks on I/O.
func (h *Hub) Broadcast(ctx context.Context, f broadcast.Frame) {
	f = f.Stamp()
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("websocket marshal failed", "type", f.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		h.enqueue(c, data)
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
		c.cancel()
		slog.Info("websocket disconnected")
	}
}
