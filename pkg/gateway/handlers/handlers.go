// Package handlers implements the HTTP surface of the gateway.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/casavox/casavox/pkg/chat/content"
	"github.com/casavox/casavox/pkg/gateway/apierror"
	"github.com/casavox/casavox/pkg/gateway/mw"
)

const userIDHeader = "X-User-ID"

func userID(r *http.Request) string {
	return r.Header.Get(userIDHeader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeJSON(w, http.StatusMethodNotAllowed, apierror.Envelope{Error: &apierror.Error{
		Type:      apierror.ErrInvalidRequest,
		Message:   "method not allowed",
		Code:      "method_not_allowed",
		RequestID: reqID,
	}})
}

// apiContent renders message content the way clients consume it: plain text
// as {"text": ...}, structured replies as the bare versioned spec.
func apiContent(c content.Content) any {
	if c.Kind == content.KindUISpec && c.UISpec != nil {
		return c.UISpec
	}
	return map[string]string{"text": c.Text}
}
