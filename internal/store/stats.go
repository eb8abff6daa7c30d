package store

import (
	"context"
	"fmt"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath           string          `json:"db_path"`
	DBSizeBytes      int64           `json:"db_size_bytes"`
	TotalSessions    int             `json:"total_sessions"`
	FinishedSessions int             `json:"finished_sessions"`
	DegradedSessions int             `json:"degraded_sessions"`
	UploadEvents     int             `json:"upload_events"`
	Uploads          []CategoryStats `json:"uploads"`
}

// CategoryStats holds per-category upload counts.
type CategoryStats struct {
	Category string `json:"category"`
	OK       int    `json:"ok"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM sessions`, &st.TotalSessions},
		{`SELECT COUNT(*) FROM sessions WHERE finished = 1`, &st.FinishedSessions},
		{`SELECT COUNT(*) FROM sessions WHERE degraded = 1`, &st.DegradedSessions},
		{`SELECT COUNT(*) FROM upload_events`, &st.UploadEvents},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category,
		       SUM(CASE WHEN ok = 1 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN skipped = 1 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN ok = 0 AND skipped = 0 THEN 1 ELSE 0 END)
		FROM upload_events
		GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("upload stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c CategoryStats
		if err := rows.Scan(&c.Category, &c.OK, &c.Skipped, &c.Failed); err != nil {
			return nil, fmt.Errorf("scan upload stats: %w", err)
		}
		st.Uploads = append(st.Uploads, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("upload stats: %w", err)
	}

	return st, nil
}
