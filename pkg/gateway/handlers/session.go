package handlers

import (
	"log/slog"
	"net/http"

	"github.com/casavox/casavox/pkg/chat/session"
)

// SessionHandler serves GET /v1/chat/session: the caller's current session
// and message history. Anonymous callers and load failures both get an
// empty history with 200; the chat widget treats history as best-effort.
type SessionHandler struct {
	Sessions *session.Manager
	Logger   *slog.Logger
}

type sessionMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type sessionResponse struct {
	SessionID string           `json:"sessionId,omitempty"`
	Messages  []sessionMessage `json:"messages"`
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	empty := sessionResponse{Messages: []sessionMessage{}}

	uid := userID(r)
	if uid == "" {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	sess, err := h.Sessions.EnsureSession(r.Context(), uid)
	if err != nil {
		h.Logger.Warn("session load failed", "user_id", uid, "error", err)
		writeJSON(w, http.StatusOK, empty)
		return
	}
	history, err := h.Sessions.History(r.Context(), sess.ID)
	if err != nil {
		h.Logger.Warn("history load failed", "session_id", sess.ID, "error", err)
		writeJSON(w, http.StatusOK, empty)
		return
	}

	out := sessionResponse{SessionID: sess.ID, Messages: make([]sessionMessage, 0, len(history))}
	for _, m := range history {
		out.Messages = append(out.Messages, sessionMessage{
			Role:    string(m.Role),
			Content: apiContent(m.Content),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
