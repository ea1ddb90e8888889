package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/casavox/casavox/pkg/chat/content"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the production backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres runs pending migrations and opens a connection pool.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := migratePostgres(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func migratePostgres(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres open for migrate: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, ownerUserID, title string) (Session, error) {
	s := Session{
		ID:          newID("sess"),
		OwnerUserID: ownerUserID,
		Title:       title,
		DialogState: map[string]any{},
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, owner_user_id, title, dialog_state)
		VALUES ($1, $2, $3, '{}'::jsonb)
		RETURNING created_at, updated_at`,
		s.ID, s.OwnerUserID, s.Title,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) LatestSessionForUser(ctx context.Context, userID string) (Session, error) {
	if userID == "" {
		return Session{}, ErrNotFound
	}
	row := p.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, title, dialog_state, created_at, updated_at
		FROM chat_sessions
		WHERE owner_user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`, userID)
	return scanSession(row)
}

func (p *PostgresStore) SessionByID(ctx context.Context, sessionID string) (Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, title, dialog_state, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1`, sessionID)
	return scanSession(row)
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		s     Session
		state []byte
	)
	err := row.Scan(&s.ID, &s.OwnerUserID, &s.Title, &state, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.DialogState = map[string]any{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &s.DialogState); err != nil {
			return Session{}, fmt.Errorf("decode dialog state: %w", err)
		}
	}
	return s, nil
}

func (p *PostgresStore) AppendMessage(ctx context.Context, sessionID string, role Role, c content.Content) (Message, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return Message{}, fmt.Errorf("encode content: %w", err)
	}
	msg := Message{
		ID:        newID("msg"),
		SessionID: sessionID,
		Role:      role,
		Content:   c,
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		msg.ID, sessionID, string(role), raw,
	).Scan(&msg.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = now() WHERE id = $1`, sessionID); err != nil {
		return Message{}, fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (p *PostgresStore) MessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m    Message
			role string
			raw  []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &raw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		if err := json.Unmarshal(raw, &m.Content); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DialogState(ctx context.Context, sessionID string) (map[string]any, error) {
	s, err := p.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.DialogState, nil
}

func (p *PostgresStore) SetDialogState(ctx context.Context, sessionID string, state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode dialog state: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE chat_sessions SET dialog_state = $2, updated_at = now()
		WHERE id = $1`, sessionID, raw)
	if err != nil {
		return fmt.Errorf("set dialog state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CreateViewing(ctx context.Context, v Viewing) (Viewing, error) {
	v.ID = newID("view")
	if v.Status == "" {
		v.Status = defaultViewingStatus
	}
	contact, err := json.Marshal(v.Contact)
	if err != nil {
		return Viewing{}, fmt.Errorf("encode contact: %w", err)
	}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO viewings (id, property_id, slot, contact, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		v.ID, v.PropertyID, v.When, contact, v.Status,
	).Scan(&v.CreatedAt)
	if err != nil {
		return Viewing{}, fmt.Errorf("create viewing: %w", err)
	}
	return v, nil
}

func (p *PostgresStore) CreateLead(ctx context.Context, l Lead) (Lead, error) {
	l.ID = newID("lead")
	if l.Source == "" {
		l.Source = defaultLeadSource
	}
	if l.Meta == nil {
		l.Meta = map[string]any{}
	}
	contact, err := json.Marshal(l.Contact)
	if err != nil {
		return Lead{}, fmt.Errorf("encode contact: %w", err)
	}
	meta, err := json.Marshal(l.Meta)
	if err != nil {
		return Lead{}, fmt.Errorf("encode meta: %w", err)
	}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO leads (id, contact, source, meta)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		l.ID, contact, l.Source, meta,
	).Scan(&l.CreatedAt)
	if err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	return l, nil
}

func (p *PostgresStore) AppendFeedback(ctx context.Context, f Feedback) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO feedback (session_id, rating, note)
		VALUES ($1, $2, $3)`,
		f.SessionID, f.Rating, f.Note)
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
