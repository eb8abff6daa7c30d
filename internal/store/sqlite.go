package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex // guards entropy
	entropy *ulid.MonotonicEntropy
}

// timeFormat sorts lexicographically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL DEFAULT '',
		degraded       INTEGER NOT NULL DEFAULT 0,
		finished       INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		record         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_participant ON sessions(participant_id);

	CREATE TABLE IF NOT EXISTS upload_events (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		category   TEXT NOT NULL,
		label      TEXT NOT NULL DEFAULT '',
		ok         INTEGER NOT NULL,
		skipped    INTEGER NOT NULL DEFAULT 0,
		error      TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_upload_events_session ON upload_events(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, p SaveParams) (*Session, error) {
	now := time.Now().UTC()
	id := p.ID
	if id == "" {
		id = s.newID()
	}

	record, err := json.Marshal(p.Record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, participant_id, degraded, finished, created_at, updated_at, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   participant_id = excluded.participant_id,
		   degraded = excluded.degraded,
		   finished = excluded.finished,
		   updated_at = excluded.updated_at,
		   record = excluded.record`,
		id, p.ParticipantID, p.Degraded, p.Finished,
		now.Format(timeFormat), now.Format(timeFormat), string(record))
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, participant_id, degraded, finished, created_at, updated_at, record
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]Session, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"1 = 1"}
	if p.FinishedOnly {
		where = append(where, "finished = 1")
	}
	if p.DegradedOnly {
		where = append(where, "degraded = 1")
	}

	query := fmt.Sprintf(`
		SELECT id, participant_id, degraded, finished, created_at, updated_at, record
		FROM sessions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, strings.Join(where, " AND "))

	return s.querySessions(ctx, query, limit)
}

func (s *SQLiteStore) RecordUpload(ctx context.Context, e UploadEvent) error {
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_events (id, session_id, category, label, ok, skipped, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.newID(), e.SessionID, e.Category, e.Label, e.OK, e.Skipped, errText,
		time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UploadEvents(ctx context.Context, sessionID string) ([]UploadEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, category, label, ok, skipped, error, created_at
		 FROM upload_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []UploadEvent
	for rows.Next() {
		var e UploadEvent
		var errText sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Category, &e.Label, &e.OK, &e.Skipped, &errText, &createdAt); err != nil {
			return nil, err
		}
		e.Error = errText.String
		e.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var createdAt, updatedAt, record string

	err := row.Scan(&sess.ID, &sess.ParticipantID, &sess.Degraded, &sess.Finished,
		&createdAt, &updatedAt, &record)
	if err != nil {
		return sess, err
	}

	sess.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	sess.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	if err := json.Unmarshal([]byte(record), &sess.Record); err != nil {
		return sess, fmt.Errorf("decode record of %s: %w", sess.ID, err)
	}
	return sess, nil
}
