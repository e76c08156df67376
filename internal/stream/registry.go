// Package stream carries completion progress from the orchestrator to the
// event-stream consumer: the delta event model, an unbounded channel and the
// handle registry with its inactivity reaper.
package stream

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultReaperDelay is how long an entry survives after Completed when no
// consumer removes it first.
const DefaultReaperDelay = 20 * time.Second

// Handle identifies one orchestrator run and its registry entry.
type Handle = uuid.UUID

// NewHandle mints a fresh stream handle.
func NewHandle() Handle { return uuid.New() }

// ParseHandle parses the textual form of a handle.
func ParseHandle(s string) (Handle, error) { return uuid.Parse(s) }

// Registry maps stream handles to the receive end of their channel.
type Registry struct {
	mu      sync.Mutex
	entries map[Handle]entry
	logger  *log.Logger
}

type entry struct {
	rx    *Receiver
	owner string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Handle]entry)}
}

// SetLogger configures the logger used for reaper diagnostics.
func (r *Registry) SetLogger(logger *log.Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Create registers rx under h with no owner, replacing any previous entry.
func (r *Registry) Create(h Handle, rx *Receiver) {
	r.CreateFor(h, "", rx)
}

// CreateFor registers rx under h for the given owner.
func (r *Registry) CreateFor(h Handle, owner string, rx *Receiver) {
	r.mu.Lock()
	r.entries[h] = entry{rx: rx, owner: owner}
	r.mu.Unlock()
}

// Lookup returns the receiver for h without removing it. Only one consumer
// should drain it; a second lookup observes only what has not been consumed.
func (r *Registry) Lookup(h Handle) (*Receiver, bool) {
	r.mu.Lock()
	e, ok := r.entries[h]
	r.mu.Unlock()
	return e.rx, ok
}

// LookupFor is Lookup restricted to owner. Entries created without an owner
// match anyone.
func (r *Registry) LookupFor(h Handle, owner string) (*Receiver, bool) {
	r.mu.Lock()
	e, ok := r.entries[h]
	r.mu.Unlock()
	if !ok || (e.owner != "" && e.owner != owner) {
		return nil, false
	}
	return e.rx, true
}

// Remove deletes the entry for h and reports whether it was present.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	_, ok := r.entries[h]
	delete(r.entries, h)
	r.mu.Unlock()
	return ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ScheduleReap removes h after delay if it is still registered. The returned
// timer may be stopped to cancel the reap.
func (r *Registry) ScheduleReap(h Handle, delay time.Duration) *time.Timer {
	if delay <= 0 {
		delay = DefaultReaperDelay
	}
	return time.AfterFunc(delay, func() {
		if r.Remove(h) {
			r.mu.Lock()
			logger := r.logger
			r.mu.Unlock()
			if logger != nil {
				logger.Printf("stream %s reaped after %s of inactivity", h, delay)
			}
		}
	})
}
