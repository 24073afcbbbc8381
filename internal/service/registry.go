// Package service implements the business logic of the console: the instance
// registry, task bookkeeping, session continuity, streamed dispatch, and the
// health monitor.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ClawDeck/internal/adapter/ws"
	"github.com/Strob0t/ClawDeck/internal/domain"
	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/domain/task"
	"github.com/Strob0t/ClawDeck/internal/port/broadcast"
)

// Store persists the instance set as a durable snapshot.
type Store interface {
	Load() ([]instance.Instance, error)
	Save([]instance.Instance) error
}

// Registry is the authoritative in-memory instance set. Identity changes are
// persisted through the store; status changes are runtime-only and reach
// clients through the broadcaster.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*instance.Instance

	store Store
	bus   broadcast.Broadcaster
}

// NewRegistry loads the persisted instance set. Liveness is runtime state, so
// every loaded instance starts offline until the health monitor says
// otherwise.
func NewRegistry(store Store, bus broadcast.Broadcaster) (*Registry, error) {
	loaded, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}

	r := &Registry{
		instances: make(map[string]*instance.Instance, len(loaded)),
		store:     store,
		bus:       bus,
	}
	for i := range loaded {
		inst := loaded[i]
		inst.Status = instance.StatusOffline
		inst.CurrentTask = nil
		r.instances[inst.ID] = &inst
	}

	slog.Info("instance registry loaded", "count", len(loaded))
	return r, nil
}

// List returns all instances as client-safe projections, oldest first.
func (r *Registry) List() []instance.Public {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []instance.Public {
	out := make([]instance.Public, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst.ToPublic())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats returns aggregate counts by status.
func (r *Registry) Stats() instance.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statsLocked()
}

func (r *Registry) statsLocked() instance.Stats {
	s := instance.Stats{Total: len(r.instances)}
	for _, inst := range r.instances {
		switch inst.Status {
		case instance.StatusOnline:
			s.Online++
		case instance.StatusBusy:
			s.Busy++
		case instance.StatusOffline:
			s.Offline++
		}
	}
	return s
}

// Snapshot returns the full state sent to a client on connect.
func (r *Registry) Snapshot() ws.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ws.Snapshot{
		Instances: r.listLocked(),
		Stats:     r.statsLocked(),
	}
}

// Get returns a copy of the instance with the given id.
func (r *Registry) Get(id string) (instance.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	if !ok {
		return instance.Instance{}, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return *inst, nil
}

// Create registers a new instance and persists the updated set. New instances
// start offline; the next health sweep decides their real status.
func (r *Registry) Create(ctx context.Context, req instance.CreateRequest) (instance.Public, error) {
	if strings.TrimSpace(req.Name) == "" {
		return instance.Public{}, fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		return instance.Public{}, fmt.Errorf("endpoint is required: %w", domain.ErrValidation)
	}

	now := time.Now().UTC()
	inst := &instance.Instance{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Endpoint:    strings.TrimSpace(req.Endpoint),
		Description: req.Description,
		Token:       req.Token,
		SandboxID:   req.SandboxID,
		Status:      instance.StatusOffline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.instances[inst.ID] = inst
	err := r.saveLocked()
	pub := inst.ToPublic()
	r.mu.Unlock()

	if err != nil {
		return instance.Public{}, err
	}

	slog.Info("instance created", "id", pub.ID, "name", pub.Name)
	r.broadcastSnapshot(ctx)
	return pub, nil
}

// Update applies the non-nil fields of req and persists the updated set.
// An explicit empty token clears the credential.
func (r *Registry) Update(ctx context.Context, id string, req instance.UpdateRequest) (instance.Public, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return instance.Public{}, fmt.Errorf("name cannot be empty: %w", domain.ErrValidation)
	}
	if req.Endpoint != nil && strings.TrimSpace(*req.Endpoint) == "" {
		return instance.Public{}, fmt.Errorf("endpoint cannot be empty: %w", domain.ErrValidation)
	}

	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return instance.Public{}, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}

	if req.Name != nil {
		inst.Name = strings.TrimSpace(*req.Name)
	}
	if req.Endpoint != nil {
		inst.Endpoint = strings.TrimSpace(*req.Endpoint)
	}
	if req.Description != nil {
		inst.Description = *req.Description
	}
	if req.Token != nil {
		inst.Token = *req.Token
	}
	inst.UpdatedAt = time.Now().UTC()

	err := r.saveLocked()
	pub := inst.ToPublic()
	r.mu.Unlock()

	if err != nil {
		return instance.Public{}, err
	}

	slog.Info("instance updated", "id", id)
	r.broadcastSnapshot(ctx)
	return pub, nil
}

// Delete removes the instance and persists the updated set. The removed
// record is returned so the caller can tear down attached resources.
func (r *Registry) Delete(ctx context.Context, id string) (instance.Instance, error) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return instance.Instance{}, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	removed := *inst
	delete(r.instances, id)
	err := r.saveLocked()
	r.mu.Unlock()

	if err != nil {
		return instance.Instance{}, err
	}

	slog.Info("instance deleted", "id", id, "name", removed.Name)
	r.broadcastSnapshot(ctx)
	return removed, nil
}

// Claim atomically marks the instance busy with the given task. It fails if
// the instance is unknown or already busy; dispatching to an offline instance
// is allowed, the attempt itself decides.
func (r *Registry) Claim(ctx context.Context, id string, t *task.Task) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	if inst.Status == instance.StatusBusy {
		r.mu.Unlock()
		return fmt.Errorf("instance %s is busy: %w", id, domain.ErrValidation)
	}
	inst.Status = instance.StatusBusy
	inst.CurrentTask = t
	r.mu.Unlock()

	r.broadcastStatus(ctx, id, instance.StatusBusy)
	return nil
}

// Release clears the current task and sets the given status. Used when a
// dispatch reaches a terminal state; a failed task never marks the instance
// offline, that verdict belongs to the health monitor.
func (r *Registry) Release(ctx context.Context, id string, status instance.Status) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	inst.Status = status
	inst.CurrentTask = nil
	r.mu.Unlock()

	r.broadcastStatus(ctx, id, status)
}

// ReportHealth records a probe verdict. Busy instances are left alone: an
// in-flight dispatch outranks liveness probes.
func (r *Registry) ReportHealth(ctx context.Context, id string, online bool) {
	status := instance.StatusOffline
	if online {
		status = instance.StatusOnline
	}

	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok || inst.Status == instance.StatusBusy || inst.Status == status {
		r.mu.Unlock()
		return
	}
	inst.Status = status
	r.mu.Unlock()

	slog.Info("instance status changed", "id", id, "status", status)
	r.broadcastStatus(ctx, id, status)
}

func (r *Registry) saveLocked() error {
	all := make([]instance.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		rec := *inst
		rec.CurrentTask = nil
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if err := r.store.Save(all); err != nil {
		return fmt.Errorf("persist instances: %w", err)
	}
	return nil
}

func (r *Registry) broadcastSnapshot(ctx context.Context) {
	r.bus.Broadcast(ctx, broadcast.Frame{
		Type:    ws.FrameInstanceStatus,
		Payload: r.Snapshot(),
	})
}

func (r *Registry) broadcastStatus(ctx context.Context, id string, status instance.Status) {
	r.bus.Broadcast(ctx, broadcast.Frame{
		Type:       ws.FrameInstanceStatus,
		Payload:    ws.InstanceStatusDelta{InstanceID: id, Status: status},
		InstanceID: id,
	})
}
