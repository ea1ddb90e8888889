package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/casavox/casavox/pkg/chat/store"
	"github.com/casavox/casavox/pkg/tools"
)

func newToolsHandler() (*ToolsHandler, *store.MemoryStore) {
	st := store.NewMemory()
	search := tools.NewPropertySearch(&stubRetriever{})
	return &ToolsHandler{
		Registry:     tools.DefaultRegistry(search, tools.NewCRM(st)),
		MaxBodyBytes: 1 << 20,
	}, st
}

func TestToolsExecutesMortgage(t *testing.T) {
	h, _ := newToolsHandler()

	body := `{"name":"compute_mortgage","input":{"principal":300000,"rate":6,"years":30}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tools", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Name   string  `json:"name"`
		Result float64 `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Name != tools.ToolComputeMortgage {
		t.Fatalf("name = %q", resp.Name)
	}
	if resp.Result < 1798 || resp.Result > 1799 {
		t.Fatalf("monthly = %v, want about 1798.65", resp.Result)
	}
}

func TestToolsSchedulesViewing(t *testing.T) {
	h, st := newToolsHandler()

	body := `{"name":"schedule_viewing","input":{"property_id":"12","when":"Sunday 10am","name":"Ana","phone":"555-2222"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tools", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	viewings := st.Viewings()
	if len(viewings) != 1 || viewings[0].PropertyID != "12" || viewings[0].Status != "requested" {
		t.Fatalf("viewings = %+v", viewings)
	}
}

func TestToolsUnknownNameIs404(t *testing.T) {
	h, _ := newToolsHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/tools", strings.NewReader(`{"name":"warp_drive"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestToolsInvalidInputIs400(t *testing.T) {
	h, _ := newToolsHandler()

	// schedule_viewing without contact details fails validation.
	req := httptest.NewRequest(http.MethodPost, "/v1/tools", strings.NewReader(`{"name":"schedule_viewing","input":{"property_id":"12"}}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
