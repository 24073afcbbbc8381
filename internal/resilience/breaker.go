// Package resilience provides reliability patterns for outbound calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker tracks consecutive failures of one endpoint and opens after a
// threshold, rejecting calls until a cooldown elapses. A single probe is
// allowed through in half-open state; its outcome decides whether the
// circuit closes again.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures
// consecutive failures and stays open for cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		if b.state == stateHalfOpen || b.failures >= b.maxFailures {
			b.state = stateOpen
			b.openedAt = b.now()
		}
		return err
	}

	b.failures = 0
	b.state = stateClosed
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed, stateHalfOpen:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
	return false
}

// BreakerSet keys independent breakers by id, creating them on first use.
// The health monitor uses one breaker per instance so a dead endpoint stops
// being probed on every sweep without affecting the others.
type BreakerSet struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	cooldown    time.Duration
}

// NewBreakerSet creates an empty set with shared thresholds.
func NewBreakerSet(maxFailures int, cooldown time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Execute runs fn through the breaker for id.
func (s *BreakerSet) Execute(id string, fn func() error) error {
	return s.get(id).Execute(fn)
}

// Forget drops the breaker for id. Called when an instance is deleted.
func (s *BreakerSet) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, id)
}

func (s *BreakerSet) get(id string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[id]
	if !ok {
		b = NewBreaker(s.maxFailures, s.cooldown)
		s.breakers[id] = b
	}
	return b
}
