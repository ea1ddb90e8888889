package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/casavox/casavox/pkg/chat/content"
	"github.com/casavox/casavox/pkg/gateway/apierror"
	"github.com/casavox/casavox/pkg/gateway/stream"
)

type chatRequest struct {
	Message          string         `json:"message"`
	SessionID        string         `json:"session_id"`
	Lang             string         `json:"lang"`
	PropertyID       string         `json:"property_id"`
	PropertySnapshot map[string]any `json:"property_snapshot"`
	Page             string         `json:"page"`
}

// ChatHandler serves POST /v1/chat. Structured replies go out as one JSON
// document; everything else streams as text/plain. A response is exactly one
// of the two, never both.
type ChatHandler struct {
	Engine       *Engine
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if h.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierror.NewInvalidRequest(fmt.Sprintf("invalid request body: %v", err), ""))
		return
	}
	if req.Message == "" {
		writeError(w, r, apierror.NewInvalidRequest("message is required", "message"))
		return
	}

	res, err := h.Engine.Turn(r.Context(), TurnInput{
		UserID:           userID(r),
		SessionID:        req.SessionID,
		Message:          req.Message,
		Lang:             req.Lang,
		PropertyID:       req.PropertyID,
		PropertySnapshot: req.PropertySnapshot,
		Page:             req.Page,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("X-Session-ID", res.SessionID)
	if res.Reply.Kind == content.KindUISpec && res.Reply.UISpec != nil {
		writeJSON(w, http.StatusOK, res.Reply.UISpec)
		return
	}

	sw, err := stream.New(w)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"text": res.Reply.Text})
		return
	}
	if err := sw.Send(res.Reply.Text); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("stream write failed", "error", err)
		}
		return
	}
	if h.Logger != nil {
		h.Logger.Debug("streamed reply", "session", res.SessionID, "chars", len(sw.Accumulated()))
	}
}
