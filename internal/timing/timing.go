// Package timing keeps the per-session time reference and converts wall-clock
// instants into millisecond offsets from it.
package timing

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrReferenceSet is returned when InitReference is called a second time.
	ErrReferenceSet = errors.New("time reference already set")
	// ErrNoReference is returned when an offset is requested before InitReference.
	ErrNoReference = errors.New("time reference not set")
)

// Tracker holds the single reference instant of a session.
type Tracker struct {
	mu  sync.RWMutex
	now func() time.Time
	ref time.Time
	set bool
}

// New returns a Tracker reading the clock through now. A nil now uses time.Now.
func New(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// InitReference captures the current instant as the session reference.
// It may only succeed once per Tracker.
func (t *Tracker) InitReference() (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set {
		return t.ref, ErrReferenceSet
	}
	t.ref = t.now()
	t.set = true
	return t.ref, nil
}

// IsSet reports whether the reference has been captured.
func (t *Tracker) IsSet() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set
}

// Elapsed returns now - reference in milliseconds.
func (t *Tracker) Elapsed() (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.set {
		return 0, ErrNoReference
	}
	return t.now().Sub(t.ref).Milliseconds(), nil
}

// ReferenceMillis returns the reference as Unix epoch milliseconds.
func (t *Tracker) ReferenceMillis() (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.set {
		return 0, ErrNoReference
	}
	return t.ref.UnixMilli(), nil
}
