package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ClawDeck/internal/domain"
	"github.com/Strob0t/ClawDeck/internal/domain/task"
)

// Tasks is the in-memory task store. Tasks live for the process lifetime;
// history does not survive a restart.
type Tasks struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
}

// NewTasks creates an empty task store.
func NewTasks() *Tasks {
	return &Tasks{tasks: make(map[string]*task.Task)}
}

// Create records a new pending task. The caller may supply an id (clients
// pick their own so they can correlate stream frames); a blank id gets a
// generated one. A duplicate id is rejected.
func (t *Tasks) Create(instanceID, content, id string) (task.Task, error) {
	if id == "" {
		id = uuid.NewString()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.tasks[id]; exists {
		return task.Task{}, fmt.Errorf("task %s already exists: %w", id, domain.ErrValidation)
	}

	now := time.Now().UTC()
	rec := &task.Task{
		ID:         id,
		InstanceID: instanceID,
		Content:    content,
		Status:     task.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.tasks[id] = rec
	return *rec, nil
}

// Get returns a copy of the task with the given id.
func (t *Tasks) Get(id string) (task.Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return *rec, nil
}

// List returns all tasks, newest first.
func (t *Tasks) List() []task.Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]task.Task, 0, len(t.tasks))
	for _, rec := range t.tasks {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ListByInstance returns the tasks dispatched to one instance, newest first.
func (t *Tasks) ListByInstance(instanceID string) []task.Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []task.Task
	for _, rec := range t.tasks {
		if rec.InstanceID == instanceID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete removes a task record. Used when a dispatch is rejected after the
// record was already created.
func (t *Tasks) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, id)
}

// Update applies the non-nil fields of upd. A task in a terminal state
// rejects further status transitions: exactly one terminal verdict per task.
func (t *Tasks) Update(id string, upd task.Update) (task.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}

	if upd.Status != nil {
		if rec.Status.Terminal() {
			return task.Task{}, fmt.Errorf("task %s already %s: %w", id, rec.Status, domain.ErrValidation)
		}
		rec.Status = *upd.Status
	}
	if upd.Summary != nil {
		rec.Summary = *upd.Summary
	}
	rec.UpdatedAt = time.Now().UTC()
	return *rec, nil
}
