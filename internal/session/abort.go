package session

import (
	"errors"
	"fmt"

	"github.com/rcliao/dst-flow/internal/model"
)

var (
	// ErrAbortAlreadyOpen is returned when the abort dialog is opened twice.
	ErrAbortAlreadyOpen = errors.New("abort dialog already open")
	// ErrAbortNotOpen is returned when closing an abort dialog that is not open.
	ErrAbortNotOpen = errors.New("abort dialog not open")
)

// OpenAbort starts a new abort-dialog window at the current offset.
func (a *Aggregator) OpenAbort() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.abortOpen() {
		return 0, ErrAbortAlreadyOpen
	}
	at, err := a.clock.Elapsed()
	if err != nil {
		return 0, fmt.Errorf("open abort dialog: %w", err)
	}
	a.rec.Timing.CancelDialog = append(a.rec.Timing.CancelDialog, model.AbortWindow{Opened: at})
	return at, nil
}

// CloseAbort completes the open abort-dialog window.
func (a *Aggregator) CloseAbort() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.abortOpen() {
		return 0, ErrAbortNotOpen
	}
	at, err := a.clock.Elapsed()
	if err != nil {
		return 0, fmt.Errorf("close abort dialog: %w", err)
	}
	a.rec.Timing.CancelDialog[len(a.rec.Timing.CancelDialog)-1].Closed = &at
	return at, nil
}

// AbortOpen reports whether an abort-dialog window is currently open.
func (a *Aggregator) AbortOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.abortOpen()
}

func (a *Aggregator) abortOpen() bool {
	w := a.rec.Timing.CancelDialog
	return len(w) > 0 && w[len(w)-1].Closed == nil
}
