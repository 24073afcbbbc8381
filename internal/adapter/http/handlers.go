package http

import (
	"net/http"

	"github.com/Strob0t/ClawDeck/internal/adapter/ws"
	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/service"
)

// Handlers holds the services the REST surface exposes.
type Handlers struct {
	registry  *service.Registry
	tasks     *service.Tasks
	sessions  *service.Sessions
	dispatch  *service.Dispatch
	sandboxes *service.Sandboxes
	health    *service.Health
}

// NewHandlers wires the REST handlers.
func NewHandlers(registry *service.Registry, tasks *service.Tasks, sessions *service.Sessions, dispatch *service.Dispatch, sandboxes *service.Sandboxes, health *service.Health) *Handlers {
	return &Handlers{
		registry:  registry,
		tasks:     tasks,
		sessions:  sessions,
		dispatch:  dispatch,
		sandboxes: sandboxes,
		health:    health,
	}
}

// Health reports console liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListInstances returns all instances plus aggregate stats.
func (h *Handlers) ListInstances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": h.registry.List(),
		"stats":     h.registry.Stats(),
	})
}

// GetInstance returns one instance.
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.registry.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst.ToPublic())
}

// CreateInstance registers a new instance.
func (h *Handlers) CreateInstance(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[instance.CreateRequest](w, r)
	if !ok {
		return
	}

	pub, err := h.registry.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusCreated, pub)
}

// UpdateInstance edits instance identity fields.
func (h *Handlers) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[instance.UpdateRequest](w, r)
	if !ok {
		return
	}

	pub, err := h.registry.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

// DeleteInstance removes an instance and tears down attached resources.
func (h *Handlers) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := h.sandboxes.Remove(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DispatchTask accepts a task for an instance over REST. The stream itself is
// only observable on the control channel; the response just acknowledges
// acceptance.
func (h *Handlers) DispatchTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[ws.DispatchPayload](w, r)
	if !ok {
		return
	}
	req.InstanceID = urlParam(r, "id")

	if err := h.dispatch.Dispatch(r.Context(), req); err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ResetSession starts a fresh conversation for an instance.
func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.registry.Get(id); err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}

	key := h.sessions.Reset(id)
	writeJSON(w, http.StatusOK, map[string]string{"sessionKey": key})
}

// ListInstanceTasks returns the task history of one instance.
func (h *Handlers) ListInstanceTasks(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.registry.Get(id); err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, h.tasks.ListByInstance(id))
}

// ProbeInstance runs an on-demand health probe against one instance.
func (h *Handlers) ProbeInstance(w http.ResponseWriter, r *http.Request) {
	status, err := h.health.ProbeNow(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]instance.Status{"status": status})
}

// ListTasks returns all tasks, optionally filtered by instance.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("instanceId"); id != "" {
		writeJSON(w, http.StatusOK, h.tasks.ListByInstance(id))
		return
	}
	writeJSON(w, http.StatusOK, h.tasks.List())
}

// GetTask returns one task.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// LaunchSandbox provisions a sandboxed gateway and registers it.
func (h *Handlers) LaunchSandbox(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.LaunchRequest](w, r)
	if !ok {
		return
	}

	pub, err := h.sandboxes.Launch(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "sandbox launch failed")
		return
	}
	writeJSON(w, http.StatusCreated, pub)
}

// Stats returns aggregate instance counts.
func (h *Handlers) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Stats())
}
