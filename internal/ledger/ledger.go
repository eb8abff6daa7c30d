// Package ledger tracks asynchronous media uploads independently of page sequencing.
package ledger

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownToken is returned when completing a token the ledger never issued.
var ErrUnknownToken = errors.New("unknown upload token")

// Token identifies one registered upload.
type Token int

// Ledger is an append-only list of upload states.
type Ledger struct {
	mu      sync.Mutex
	entries []bool
}

// New returns an empty ledger. An empty ledger counts as fully uploaded.
func New() *Ledger {
	return &Ledger{}
}

// Register appends a pending upload and returns its token.
func (l *Ledger) Register() Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, false)
	return Token(len(l.entries) - 1)
}

// Complete marks the upload behind tok as finished. Completing twice is harmless.
func (l *Ledger) Complete(tok Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tok < 0 || int(tok) >= len(l.entries) {
		return fmt.Errorf("complete %d: %w", tok, ErrUnknownToken)
	}
	l.entries[tok] = true
	return nil
}

// AllUploaded reports whether every registered upload has completed.
// It is folded over the entries on every call.
func (l *Ledger) AllUploaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, done := range l.entries {
		if !done {
			return false
		}
	}
	return true
}

// Entries returns a copy of the per-token states.
func (l *Ledger) Entries() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of registered uploads.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
