// Package store persists conversations and the durable side effects of chat
// tools: sessions, messages, leads, viewing requests, and feedback.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/casavox/casavox/pkg/chat/content"
)

var ErrNotFound = errors.New("store: not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Session struct {
	ID          string
	OwnerUserID string // empty for anonymous sessions
	Title       string
	DialogState map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Message struct {
	ID        string
	SessionID string
	Role      Role
	Content   content.Content
	CreatedAt time.Time
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Viewing struct {
	ID         string
	PropertyID string
	When       string
	Contact    Contact
	Status     string // defaulted to "requested" by the store
	CreatedAt  time.Time
}

type Lead struct {
	ID        string
	Contact   Contact
	Source    string // defaulted to "chat" by the store
	Meta      map[string]any
	CreatedAt time.Time
}

type Feedback struct {
	SessionID string
	Rating    int
	Note      string
	CreatedAt time.Time
}

// Store is implemented by the postgres, sqlite and in-memory backends.
// Messages are append-only; sessions are never deleted here.
type Store interface {
	CreateSession(ctx context.Context, ownerUserID, title string) (Session, error)
	// LatestSessionForUser returns the most recently updated session owned
	// by the user, or ErrNotFound.
	LatestSessionForUser(ctx context.Context, userID string) (Session, error)
	SessionByID(ctx context.Context, sessionID string) (Session, error)

	AppendMessage(ctx context.Context, sessionID string, role Role, c content.Content) (Message, error)
	MessagesBySession(ctx context.Context, sessionID string) ([]Message, error)

	DialogState(ctx context.Context, sessionID string) (map[string]any, error)
	SetDialogState(ctx context.Context, sessionID string, state map[string]any) error

	CreateViewing(ctx context.Context, v Viewing) (Viewing, error)
	CreateLead(ctx context.Context, l Lead) (Lead, error)
	AppendFeedback(ctx context.Context, f Feedback) error

	Close() error
}

const (
	defaultViewingStatus = "requested"
	defaultLeadSource    = "chat"
)

func newID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + "_" + hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return prefix + "_" + hex.EncodeToString(b)
}
