package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/tabulant/tabulant/pkg/models"
)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Pass ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The driver opens connections lazily; a single connection keeps the
	// in-memory variant from seeing a fresh empty database per conn.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			filename TEXT NOT NULL,
			file_path TEXT NOT NULL,
			profile TEXT,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			body TEXT NOT NULL,
			payload TEXT,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, title, filename, file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.UserID, session.Title, session.Filename, session.FilePath, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns the session if it exists and belongs to userID.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, filename, file_path, created_at
		FROM sessions WHERE id = ? AND user_id = ?
	`, sessionID, userID)

	var session models.Session
	err := row.Scan(&session.ID, &session.UserID, &session.Title, &session.Filename, &session.FilePath, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

// ListSessions returns the user's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, filename, file_path, created_at
		FROM sessions WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(&session.ID, &session.UserID, &session.Title, &session.Filename, &session.FilePath, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and, via the foreign key cascade, all of
// its messages. Idempotent.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE id = ? AND user_id = ?", sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SetTitle updates the session title.
func (s *SQLiteStore) SetTitle(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET title = ? WHERE id = ?", title, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveProfile stores the dataset profile as JSON alongside the session.
func (s *SQLiteStore) SaveProfile(ctx context.Context, sessionID string, profile *models.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET profile = ? WHERE id = ?", string(data), sessionID)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProfile loads the stored dataset profile.
func (s *SQLiteStore) GetProfile(ctx context.Context, sessionID string) (*models.Profile, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT profile FROM sessions WHERE id = ?", sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if !data.Valid || data.String == "" {
		return nil, ErrNotFound
	}

	var profile models.Profile
	if err := json.Unmarshal([]byte(data.String), &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// AppendMessage persists a message and returns the id SQLite assigned.
// AUTOINCREMENT guarantees ids within a session never decrease or repeat,
// even across deletes.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *models.Message) (int64, error) {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	var payload any
	if len(message.Payload) > 0 {
		payload = string(message.Payload)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, kind, body, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, message.SessionID, string(message.Role), string(message.Kind), message.Body, payload, message.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read message id: %w", err)
	}
	message.ID = id
	return id, nil
}

// ListMessages returns all messages for a session in id order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, kind, body, payload, created_at
		FROM messages WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var (
			message models.Message
			role    string
			kind    string
			payload sql.NullString
		)
		if err := rows.Scan(&message.ID, &message.SessionID, &role, &kind, &message.Body, &payload, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		message.Role = models.Role(role)
		message.Kind = models.MessageKind(kind)
		if payload.Valid && payload.String != "" {
			message.Payload = json.RawMessage(payload.String)
		}
		messages = append(messages, &message)
	}
	return messages, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
