package testutil

import (
	"fmt"
	"sync"
)

// Recorder collects an ordered list of events from callbacks which may run
// on different goroutines.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Record appends an event.
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

// Recordf appends a formatted event.
func (r *Recorder) Recordf(format string, args ...any) {
	r.Record(fmt.Sprintf(format, args...))
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	copy(out, r.events)

	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}
