package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/casavox/casavox/pkg/gateway/apierror"
	"github.com/casavox/casavox/pkg/tools"
)

// ToolsHandler serves POST /v1/tools: direct tool execution for widget
// surfaces that call tools without a conversational turn, such as the
// mortgage calculator embedded on listing pages.
type ToolsHandler struct {
	Registry     *tools.Registry
	MaxBodyBytes int64
}

type toolsRequest struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type toolsResponse struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

func (h *ToolsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if h.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	var req toolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierror.NewInvalidRequest("invalid request body", ""))
		return
	}
	if req.Name == "" {
		writeError(w, r, apierror.NewInvalidRequest("name is required", "name"))
		return
	}
	if !h.Registry.Has(req.Name) {
		writeError(w, r, &apierror.Error{Type: apierror.ErrNotFound, Message: "unknown tool", Param: "name"})
		return
	}
	result, err := h.Registry.Execute(r.Context(), req.Name, req.Input)
	if err != nil {
		writeError(w, r, apierror.NewInvalidRequest(err.Error(), "input"))
		return
	}
	writeJSON(w, http.StatusOK, toolsResponse{Name: req.Name, Result: result})
}
