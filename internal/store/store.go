// Package store provides the local session archive interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/dst-flow/internal/model"
)

// ErrNotFound is returned when no archived session matches.
var ErrNotFound = errors.New("session not found")

// Session is one archived snapshot of a study run.
type Session struct {
	ID            string              `json:"id"`
	ParticipantID string              `json:"participant_id"`
	Degraded      bool                `json:"degraded"`
	Finished      bool                `json:"finished"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Record        model.SessionRecord `json:"record"`
}

// UploadEvent is the outcome of one backend upload attempt.
type UploadEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Category  string    `json:"category"`
	Label     string    `json:"label,omitempty"`
	OK        bool      `json:"ok"`
	Skipped   bool      `json:"skipped"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveParams holds parameters for archiving a snapshot.
type SaveParams struct {
	ID            string // empty creates a new session
	ParticipantID string
	Degraded      bool
	Finished      bool
	Record        model.SessionRecord
}

// ListParams holds parameters for listing sessions.
type ListParams struct {
	Limit        int
	FinishedOnly bool
	DegradedOnly bool
}

// Store defines the session archive interface.
type Store interface {
	// SaveSnapshot inserts or replaces a session snapshot. Returns the stored session.
	SaveSnapshot(ctx context.Context, p SaveParams) (*Session, error)

	// Get retrieves a session by id.
	Get(ctx context.Context, id string) (*Session, error)

	// List lists sessions, newest first.
	List(ctx context.Context, p ListParams) ([]Session, error)

	// ExportAll returns every archived session, oldest first.
	ExportAll(ctx context.Context) ([]Session, error)

	// RecordUpload appends an upload outcome to a session.
	RecordUpload(ctx context.Context, e UploadEvent) error

	// UploadEvents lists the upload outcomes of a session in insertion order.
	UploadEvents(ctx context.Context, sessionID string) ([]UploadEvent, error)

	// Close closes the store.
	Close() error
}
