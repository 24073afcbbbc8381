package ws

import (
	"context"

	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/domain/task"
)

// Frame type constants for the control channel.
const (
	FrameTaskDispatch   = "task:dispatch"
	FrameTaskStatus     = "task:status"
	FrameTaskStream     = "task:stream"
	FrameTaskComplete   = "task:complete"
	FrameTaskError      = "task:error"
	FrameInstanceStatus = "instance:status"
)

// DispatchPayload is the client→server payload of a task:dispatch frame.
type DispatchPayload struct {
	InstanceID string `json:"instanceId"`
	Content    string `json:"content"`
	TaskID     string `json:"taskId,omitempty"`
	NewSession bool   `json:"newSession,omitempty"`
}

// Snapshot is the full-state payload sent to a client on connect.
type Snapshot struct {
	Instances []instance.Public `json:"instances"`
	Stats     instance.Stats    `json:"stats"`
}

// InstanceStatusDelta is the payload of an instance:status delta frame.
type InstanceStatusDelta struct {
	InstanceID string          `json:"instanceId"`
	Status     instance.Status `json:"status"`
}

// StreamPayload is the payload of a task:stream frame.
type StreamPayload struct {
	InstanceID string `json:"instanceId"`
	TaskID     string `json:"taskId"`
	Chunk      string `json:"chunk"`
	Summary    string `json:"summary,omitempty"`
}

// CompletePayload is the payload of a task:complete frame.
type CompletePayload struct {
	TaskID  string      `json:"taskId"`
	Status  task.Status `json:"status"`
	Summary string      `json:"summary"`
}

// ErrorPayload is the payload of a task:error frame.
type ErrorPayload struct {
	TaskID string `json:"taskId,omitempty"`
	Error  string `json:"error"`
}

// Snapshotter supplies the full current state for new connections.
type Snapshotter interface {
	Snapshot() Snapshot
}

// Dispatcher accepts a task dispatch from a connected client. The returned
// error is a synchronous rejection (validation, unknown instance, busy
// instance); relay progress arrives later purely as broadcast frames.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchPayload) error
}
