package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/casavox/casavox/pkg/chat/content"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id            TEXT PRIMARY KEY,
	owner_user_id TEXT,
	title         TEXT NOT NULL DEFAULT '',
	dialog_state  TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_owner
	ON chat_sessions (owner_user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session
	ON chat_messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS viewings (
	id          TEXT PRIMARY KEY,
	property_id TEXT NOT NULL,
	slot        TEXT NOT NULL DEFAULT '',
	contact     TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'requested',
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	contact    TEXT NOT NULL DEFAULT '{}',
	source     TEXT NOT NULL DEFAULT 'chat',
	meta       TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback (
	session_id TEXT NOT NULL,
	rating     INTEGER NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
`

// SQLiteStore is the single-file dev backend.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// modernc's driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseStamp(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLiteStore) CreateSession(ctx context.Context, ownerUserID, title string) (Session, error) {
	now := s.stamp()
	sess := Session{
		ID:          newID("sess"),
		OwnerUserID: ownerUserID,
		Title:       title,
		DialogState: map[string]any{},
		CreatedAt:   parseStamp(now),
		UpdatedAt:   parseStamp(now),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, owner_user_id, title, dialog_state, created_at, updated_at)
		VALUES (?, ?, ?, '{}', ?, ?)`,
		sess.ID, sess.OwnerUserID, sess.Title, now, now)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) LatestSessionForUser(ctx context.Context, userID string) (Session, error) {
	if userID == "" {
		return Session{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, title, dialog_state, created_at, updated_at
		FROM chat_sessions
		WHERE owner_user_id = ?
		ORDER BY updated_at DESC
		LIMIT 1`, userID)
	return scanSQLiteSession(row)
}

func (s *SQLiteStore) SessionByID(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, title, dialog_state, created_at, updated_at
		FROM chat_sessions
		WHERE id = ?`, sessionID)
	return scanSQLiteSession(row)
}

func scanSQLiteSession(row *sql.Row) (Session, error) {
	var (
		sess                 Session
		state                string
		createdAt, updatedAt string
	)
	err := row.Scan(&sess.ID, &sess.OwnerUserID, &sess.Title, &state, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.DialogState = map[string]any{}
	if state != "" {
		if err := json.Unmarshal([]byte(state), &sess.DialogState); err != nil {
			return Session{}, fmt.Errorf("decode dialog state: %w", err)
		}
	}
	sess.CreatedAt = parseStamp(createdAt)
	sess.UpdatedAt = parseStamp(updatedAt)
	return sess, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role Role, c content.Content) (Message, error) {
	if _, err := s.SessionByID(ctx, sessionID); err != nil {
		return Message{}, err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return Message{}, fmt.Errorf("encode content: %w", err)
	}
	now := s.stamp()
	msg := Message{
		ID:        newID("msg"),
		SessionID: sessionID,
		Role:      role,
		Content:   c,
		CreatedAt: parseStamp(now),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(role), string(raw), now); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return Message{}, fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) MessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m         Message
			role      string
			raw       string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = parseStamp(createdAt)
		if err := json.Unmarshal([]byte(raw), &m.Content); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DialogState(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := s.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.DialogState, nil
}

func (s *SQLiteStore) SetDialogState(ctx context.Context, sessionID string, state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode dialog state: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET dialog_state = ?, updated_at = ? WHERE id = ?`,
		string(raw), s.stamp(), sessionID)
	if err != nil {
		return fmt.Errorf("set dialog state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set dialog state: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateViewing(ctx context.Context, v Viewing) (Viewing, error) {
	v.ID = newID("view")
	if v.Status == "" {
		v.Status = defaultViewingStatus
	}
	now := s.stamp()
	v.CreatedAt = parseStamp(now)
	contact, err := json.Marshal(v.Contact)
	if err != nil {
		return Viewing{}, fmt.Errorf("encode contact: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO viewings (id, property_id, slot, contact, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.PropertyID, v.When, string(contact), v.Status, now); err != nil {
		return Viewing{}, fmt.Errorf("create viewing: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, l Lead) (Lead, error) {
	l.ID = newID("lead")
	if l.Source == "" {
		l.Source = defaultLeadSource
	}
	if l.Meta == nil {
		l.Meta = map[string]any{}
	}
	now := s.stamp()
	l.CreatedAt = parseStamp(now)
	contact, err := json.Marshal(l.Contact)
	if err != nil {
		return Lead{}, fmt.Errorf("encode contact: %w", err)
	}
	meta, err := json.Marshal(l.Meta)
	if err != nil {
		return Lead{}, fmt.Errorf("encode meta: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, contact, source, meta, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.ID, string(contact), l.Source, string(meta), now); err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) AppendFeedback(ctx context.Context, f Feedback) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (session_id, rating, note, created_at)
		VALUES (?, ?, ?, ?)`,
		f.SessionID, f.Rating, f.Note, s.stamp()); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
