package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/casavox/casavox/pkg/chat/content"
)

// MemoryStore keeps everything in process memory. It backs tests and the
// "memory" dev backend; semantics mirror the SQL stores exactly.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[string]*Session
	messages map[string][]Message
	viewings []Viewing
	leads    []Lead
	feedback []Feedback
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
	}
}

// SetClock replaces the store clock; tests use it to control ordering.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) CreateSession(_ context.Context, ownerUserID, title string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := Session{
		ID:          newID("sess"),
		OwnerUserID: ownerUserID,
		Title:       title,
		DialogState: map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.sessions[s.ID] = &s
	return cloneSession(&s), nil
}

func (m *MemoryStore) LatestSessionForUser(_ context.Context, userID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *Session
	for _, s := range m.sessions {
		if s.OwnerUserID != userID || userID == "" {
			continue
		}
		if latest == nil || s.UpdatedAt.After(latest.UpdatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return Session{}, ErrNotFound
	}
	return cloneSession(latest), nil
}

func (m *MemoryStore) SessionByID(_ context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, role Role, c content.Content) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Message{}, ErrNotFound
	}
	now := m.now()
	msg := Message{
		ID:        newID("msg"),
		SessionID: sessionID,
		Role:      role,
		Content:   c,
		CreatedAt: now,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	s.UpdatedAt = now
	return msg, nil
}

func (m *MemoryStore) MessagesBySession(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DialogState(_ context.Context, sessionID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]any, len(s.DialogState))
	for k, v := range s.DialogState {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SetDialogState(_ context.Context, sessionID string, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	next := make(map[string]any, len(state))
	for k, v := range state {
		next[k] = v
	}
	s.DialogState = next
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) CreateViewing(_ context.Context, v Viewing) (Viewing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v.ID = newID("view")
	if v.Status == "" {
		v.Status = defaultViewingStatus
	}
	v.CreatedAt = m.now()
	m.viewings = append(m.viewings, v)
	return v, nil
}

func (m *MemoryStore) CreateLead(_ context.Context, l Lead) (Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.ID = newID("lead")
	if l.Source == "" {
		l.Source = defaultLeadSource
	}
	if l.Meta == nil {
		l.Meta = map[string]any{}
	}
	l.CreatedAt = m.now()
	m.leads = append(m.leads, l)
	return l, nil
}

func (m *MemoryStore) AppendFeedback(_ context.Context, f Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f.CreatedAt = m.now()
	m.feedback = append(m.feedback, f)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Viewings returns a snapshot for tests.
func (m *MemoryStore) Viewings() []Viewing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Viewing, len(m.viewings))
	copy(out, m.viewings)
	return out
}

// Leads returns a snapshot for tests.
func (m *MemoryStore) Leads() []Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Lead, len(m.leads))
	copy(out, m.leads)
	return out
}

// FeedbackEntries returns a snapshot for tests.
func (m *MemoryStore) FeedbackEntries() []Feedback {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Feedback, len(m.feedback))
	copy(out, m.feedback)
	return out
}

func cloneSession(s *Session) Session {
	out := *s
	out.DialogState = make(map[string]any, len(s.DialogState))
	for k, v := range s.DialogState {
		out.DialogState[k] = v
	}
	return out
}
