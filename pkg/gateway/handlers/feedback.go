package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/casavox/casavox/pkg/chat/store"
	"github.com/casavox/casavox/pkg/gateway/apierror"
)

// FeedbackHandler serves POST /v1/feedback. Feedback is a durable record, so
// unlike most advisory paths a storage failure here is reported, not
// swallowed.
type FeedbackHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	Rating    int    `json:"rating"`
	Note      string `json:"note"`
}

func (h *FeedbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierror.NewInvalidRequest("invalid request body", ""))
		return
	}
	if req.SessionID == "" {
		writeError(w, r, apierror.NewInvalidRequest("session_id is required", "session_id"))
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, r, apierror.NewInvalidRequest("rating must be between 1 and 5", "rating"))
		return
	}

	if err := h.Store.AppendFeedback(r.Context(), store.Feedback{
		SessionID: req.SessionID,
		Rating:    req.Rating,
		Note:      req.Note,
	}); err != nil {
		if h.Logger != nil {
			h.Logger.Error("feedback write failed", "session_id", req.SessionID, "error", err)
		}
		writeError(w, r, &apierror.Error{Type: apierror.ErrStorage, Message: "could not record feedback"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
