package service

import (
	"context"
	"sync"

	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/port/broadcast"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	saved   []instance.Instance
	loadSet []instance.Instance
	saveErr error
	loadErr error
	saves   int
}

func (m *memStore) Load() ([]instance.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadSet, m.loadErr
}

func (m *memStore) Save(instances []instance.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append([]instance.Instance(nil), instances...)
	m.saves++
	return nil
}

// recordBus captures broadcast frames for assertions.
type recordBus struct {
	mu     sync.Mutex
	frames []broadcast.Frame
}

func (b *recordBus) Broadcast(_ context.Context, f broadcast.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, f)
}

func (b *recordBus) all() []broadcast.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcast.Frame(nil), b.frames...)
}

func (b *recordBus) ofType(frameType string) []broadcast.Frame {
	var out []broadcast.Frame
	for _, f := range b.all() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

func newTestRegistry(t interface{ Fatalf(string, ...any) }) (*Registry, *memStore, *recordBus) {
	store := &memStore{}
	bus := &recordBus{}
	r, err := NewRegistry(store, bus)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r, store, bus
}
