// Package clock provides the monotonic counter that anchors are measured against.
package clock

import (
	"sync"
	"time"
)

// A counter of elapsed time since process start.
//
// Readings never decrease and are unaffected by changes to the system wall clock. The counter
// starts at zero when the process starts, so readings are meaningless across restarts.
type Monotonic interface {
	Elapsed() time.Duration
}

// Monotonic counter backed by the runtime's monotonic clock.
type Process struct {
	start time.Time
}

var processStart = time.Now()

// Returns the process-wide monotonic counter, which reads zero at process start.
func NewProcess() *Process {
	return &Process{start: processStart}
}

// Elapsed returns the time elapsed since process start.
//
// time.Since uses the monotonic reading carried by start, not the realtime clock, so adjustments
// to the system clock do not affect the result.
func (p *Process) Elapsed() time.Duration {
	return time.Since(p.start)
}

// A monotonic counter that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu      sync.Mutex
	elapsed time.Duration
}

// Constructs a manual counter reading the given value.
func NewManual(elapsed time.Duration) *Manual {
	return &Manual{elapsed: elapsed}
}

func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.elapsed
}

// Advance moves the counter forward. Negative durations are ignored, since the counter must never
// decrease.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.elapsed += d
}

// Set moves the counter to the given reading, provided it is not behind the current one.
func (m *Manual) Set(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elapsed > m.elapsed {
		m.elapsed = elapsed
	}
}
