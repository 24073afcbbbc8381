// Package instance defines the Instance domain entity and its public
// projection.
package instance

import (
	"time"

	"github.com/Strob0t/ClawDeck/internal/domain/task"
)

// Status is the liveness state of a registered instance.
type Status string

// Instance liveness states. "busy" means a dispatch is in flight; it reverts
// to online/offline only via explicit completion, failure, or health-check
// transitions.
const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Instance represents a remote agent endpoint registered with the console.
// The bearer token never leaves the server; UI clients only ever see the
// Public projection.
type Instance struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Endpoint    string     `json:"endpoint"`
	Description string     `json:"description"`
	Token       string     `json:"token,omitempty"`
	SandboxID   string     `json:"sandboxId,omitempty"`
	Status      Status     `json:"status"`
	CurrentTask *task.Task `json:"currentTask,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Public is the projection of an Instance sent to UI clients. It strips the
// token and exposes only a derived boolean.
type Public struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Endpoint    string     `json:"endpoint"`
	Description string     `json:"description"`
	HasToken    bool       `json:"hasToken"`
	SandboxID   string     `json:"sandboxId,omitempty"`
	Status      Status     `json:"status"`
	CurrentTask *task.Task `json:"currentTask,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ToPublic returns the client-safe projection of i.
func (i Instance) ToPublic() Public {
	return Public{
		ID:          i.ID,
		Name:        i.Name,
		Endpoint:    i.Endpoint,
		Description: i.Description,
		HasToken:    i.Token != "",
		SandboxID:   i.SandboxID,
		Status:      i.Status,
		CurrentTask: i.CurrentTask,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

// Stats holds aggregate instance counts by status.
type Stats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Busy    int `json:"busy"`
	Offline int `json:"offline"`
}

// CreateRequest holds the fields needed to register a new instance.
type CreateRequest struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
	Token       string `json:"token,omitempty"`
	SandboxID   string `json:"sandboxId,omitempty"`
}

// UpdateRequest holds the identity-relevant fields of an instance. Nil
// fields are left unchanged; an empty-string token clears the credential.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Endpoint    *string `json:"endpoint,omitempty"`
	Description *string `json:"description,omitempty"`
	Token       *string `json:"token,omitempty"`
}
