// Package clock abstracts the confirmed-time source the engine reads to
// decide whether an auction has closed. The engine reads it exactly once
// per operation and clamps the reading against a persisted high-water
// mark, so a time source that jumps backwards can never reopen a closed
// auction or shift a stored deadline.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current confirmed time.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Mock is a settable clock for tests.
type Mock struct {
	mu sync.Mutex
	t  time.Time
}

// NewMock creates a Mock starting at t.
func NewMock(t time.Time) *Mock {
	return &Mock{t: t}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the mock to t. Moving backwards is allowed; the engine is
// expected to ignore it.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

// Advance moves the mock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
