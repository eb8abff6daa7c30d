package store

import (
	"context"
)

// ExportAll returns all archived sessions, oldest first.
func (s *SQLiteStore) ExportAll(ctx context.Context) ([]Session, error) {
	return s.querySessions(ctx,
		`SELECT id, participant_id, degraded, finished, created_at, updated_at, record
		 FROM sessions ORDER BY created_at, id`)
}
