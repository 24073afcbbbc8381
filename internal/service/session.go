package service

import (
	"strconv"
	"sync"
	"time"
)

// sessionPrefix namespaces console-owned conversations on the remote agent.
const sessionPrefix = "manager-"

// Sessions maps instances to the session key sent as the dispatch user
// field. The key is what gives consecutive tasks on one instance a shared
// conversation; resetting it starts a fresh one.
type Sessions struct {
	mu    sync.Mutex
	keys  map[string]string
	stamp map[string]int64 // last reset stamp per instance, kept monotonic
	now   func() time.Time // for testing
}

// NewSessions creates an empty session key table.
func NewSessions() *Sessions {
	return &Sessions{
		keys:  make(map[string]string),
		stamp: make(map[string]int64),
		now:   time.Now,
	}
}

// Key returns the current session key for an instance. An instance that has
// never been reset uses the stable default key.
func (s *Sessions) Key(instanceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[instanceID]; ok {
		return key
	}
	return sessionPrefix + instanceID
}

// Reset derives a fresh key from the current wall clock, remembers it, and
// returns it. Subsequent dispatches land in the new conversation. The stamp
// is forced forward when two resets land in the same millisecond, so a reset
// never hands back a key that was already in use.
func (s *Sessions) Reset(instanceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli()
	if ms <= s.stamp[instanceID] {
		ms = s.stamp[instanceID] + 1
	}
	s.stamp[instanceID] = ms

	key := sessionPrefix + instanceID + "-" + strconv.FormatInt(ms, 10)
	s.keys[instanceID] = key
	return key
}

// Drop forgets the instance's key. Called when the instance is deleted. The
// reset stamp survives so a recreated id cannot collide with an old key.
func (s *Sessions) Drop(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, instanceID)
}
