// Package task defines the Task domain entity.
package task

import "time"

// Status is the lifecycle state of a dispatched task.
type Status string

// Task lifecycle states. A task moves pending → running → completed|failed
// and reaches exactly one terminal state.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a terminal lifecycle state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task represents one dispatched content request to an instance.
// JSON field names follow the console wire protocol (camelCase).
type Task struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Content    string    `json:"content"`
	Status     Status    `json:"status"`
	Summary    string    `json:"summary,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Update holds the mutable fields of a task. Nil fields are left unchanged.
type Update struct {
	Status  *Status
	Summary *string
}
