// Package store persists editing sessions and their chat transcripts in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keagan/slopstudio/internal/timeline"
	"github.com/keagan/slopstudio/pkg/util"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session does not exist
var ErrNotFound = errors.New("session not found in store")

// Message roles
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// Session is a persisted session snapshot
type Session struct {
	ID        string
	VideoURL  string
	VideoPath string // local source file, if known
	State     timeline.SessionState
	LastSeq   uint64
	UpdatedAt time.Time
}

// Message is one transcript entry
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	video_url  TEXT NOT NULL,
	video_path TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	last_seq   INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
`

// Store wraps the session database
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if err := util.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession inserts or replaces a session snapshot
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	state, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, video_url, video_path, state, last_seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			video_url = excluded.video_url,
			video_path = excluded.video_path,
			state = excluded.state,
			last_seq = excluded.last_seq,
			updated_at = excluded.updated_at`,
		sess.ID, sess.VideoURL, sess.VideoPath, string(state), int64(sess.LastSeq), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// LoadSession returns the stored snapshot for id
func (s *Store) LoadSession(ctx context.Context, id string) (Session, error) {
	var (
		sess    Session
		state   string
		lastSeq int64
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, video_url, video_path, state, last_seq, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.VideoURL, &sess.VideoPath, &state, &lastSeq, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(state), &sess.State); err != nil {
		return Session{}, fmt.Errorf("decode state of %s: %w", id, err)
	}
	sess.LastSeq = uint64(lastSeq)
	sess.UpdatedAt = time.UnixMilli(updated)
	return sess, nil
}

// ListSessions returns every session, most recently updated first. States
// are not decoded.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, video_url, video_path, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var updated int64
		if err := rows.Scan(&sess.ID, &sess.VideoURL, &sess.VideoPath, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.UpdatedAt = time.UnixMilli(updated)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendMessage adds a transcript entry
func (s *Store) AppendMessage(ctx context.Context, m Message) error {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, created.UnixNano())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns the transcript of a session in insertion order
func (s *Store) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.Unix(0, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its transcript
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
