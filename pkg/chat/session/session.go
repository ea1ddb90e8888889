// Package session owns conversation lifecycle: resolving a caller to their
// current session, appending turns, and merging dialog state between turns.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/casavox/casavox/pkg/chat/content"
	"github.com/casavox/casavox/pkg/chat/store"
)

const (
	defaultTitle = "Chat with Casavox"

	// StateAwaiting names the pending-question slot in dialog state.
	StateAwaiting = "awaiting"
	// AwaitingNone means no question is pending.
	AwaitingNone = "none"

	cacheKeyPrefix = "casavox:dialog:"
	cacheTTL       = 30 * time.Minute
)

type Manager struct {
	store store.Store
	cache StateCache // nil disables caching
	log   *slog.Logger
}

func NewManager(st store.Store, cache StateCache, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: st, cache: cache, log: log}
}

// EnsureSession resolves the caller to a session: the user's most recently
// updated one if any, otherwise a fresh one. Anonymous callers always get a
// fresh session.
func (m *Manager) EnsureSession(ctx context.Context, userID string) (store.Session, error) {
	if userID != "" {
		s, err := m.store.LatestSessionForUser(ctx, userID)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Session{}, err
		}
	}
	return m.store.CreateSession(ctx, userID, defaultTitle)
}

func (m *Manager) SessionByID(ctx context.Context, sessionID string) (store.Session, error) {
	return m.store.SessionByID(ctx, sessionID)
}

func (m *Manager) Append(ctx context.Context, sessionID string, role store.Role, c content.Content) (store.Message, error) {
	return m.store.AppendMessage(ctx, sessionID, role, c)
}

func (m *Manager) History(ctx context.Context, sessionID string) ([]store.Message, error) {
	return m.store.MessagesBySession(ctx, sessionID)
}

// DialogState reads through the cache to the store. A fresh session with no
// state yet reports awaiting=none.
func (m *Manager) DialogState(ctx context.Context, sessionID string) (map[string]any, error) {
	if m.cache != nil {
		raw, err := m.cache.Get(ctx, cacheKeyPrefix+sessionID)
		switch {
		case err == nil:
			var state map[string]any
			if jsonErr := json.Unmarshal(raw, &state); jsonErr == nil {
				return withAwaitingDefault(state), nil
			}
			// Corrupt entry: drop it and fall through to the store.
			_ = m.cache.Del(ctx, cacheKeyPrefix+sessionID)
		case !errors.Is(err, ErrCacheMiss):
			m.log.Warn("dialog state cache read failed", "session_id", sessionID, "error", err)
		}
	}

	state, err := m.store.DialogState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state = withAwaitingDefault(state)
	m.fillCache(ctx, sessionID, state)
	return state, nil
}

// PatchDialogState shallow-merges patch over the stored state. A nil value
// in the patch deletes the key.
func (m *Manager) PatchDialogState(ctx context.Context, sessionID string, patch map[string]any) (map[string]any, error) {
	state, err := m.store.DialogState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if v == nil {
			delete(state, k)
			continue
		}
		state[k] = v
	}
	state = withAwaitingDefault(state)
	if err := m.store.SetDialogState(ctx, sessionID, state); err != nil {
		return nil, err
	}
	m.fillCache(ctx, sessionID, state)
	return state, nil
}

func (m *Manager) fillCache(ctx context.Context, sessionID string, state map[string]any) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, cacheKeyPrefix+sessionID, raw, cacheTTL); err != nil {
		m.log.Warn("dialog state cache write failed", "session_id", sessionID, "error", err)
	}
}

func withAwaitingDefault(state map[string]any) map[string]any {
	if state == nil {
		state = map[string]any{}
	}
	if _, ok := state[StateAwaiting]; !ok {
		state[StateAwaiting] = AwaitingNone
	}
	return state
}
