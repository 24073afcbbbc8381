// Package broadcast defines the port for broadcasting real-time events to
// connected clients.
package broadcast

import (
	"context"
	"time"
)

// Frame is the envelope for every server→client control-channel message.
// Field names follow the console wire protocol.
type Frame struct {
	Type       string `json:"type"`
	Payload    any    `json:"payload"`
	InstanceID string `json:"instanceId,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Stamp sets the frame timestamp to now (RFC3339) if unset and returns f.
func (f Frame) Stamp() Frame {
	if f.Timestamp == "" {
		f.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return f
}

// Broadcaster sends real-time frames to all connected clients. Delivery is
// best-effort: a slow or dead client never blocks the caller.
type Broadcaster interface {
	Broadcast(ctx context.Context, f Frame)
}
