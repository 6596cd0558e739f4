package clock

import (
	"sync"
	"time"
)

// Mutable is a test Clock whose reported time can be advanced explicitly,
// letting tests exercise BLOCK_TIME_MS-based sealing deterministically
// (spec.md §8 scenarios S5/S6) without sleeping.
type Mutable struct {
	mu  sync.Mutex
	now time.Time
}

var _ Clock = (*Mutable)(nil)

// NewMutable returns a Mutable clock starting at t.
func NewMutable(t time.Time) *Mutable {
	return &Mutable{now: t}
}

func (m *Mutable) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Mutable) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
