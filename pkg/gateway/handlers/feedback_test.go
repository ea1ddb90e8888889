package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/casavox/casavox/pkg/chat/content"
	"github.com/casavox/casavox/pkg/chat/store"
)

// failingFeedbackStore fails only the feedback write.
type failingFeedbackStore struct {
	store.Store
}

func (f failingFeedbackStore) AppendFeedback(context.Context, store.Feedback) error {
	return errors.New("disk full")
}

func TestFeedbackRecordsEntry(t *testing.T) {
	st := store.NewMemory()
	sess, err := st.CreateSession(context.Background(), "u1", "Chat")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if _, err := st.AppendMessage(context.Background(), sess.ID, store.RoleUser, content.Text("hi")); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	h := &FeedbackHandler{Store: st, Logger: discardLogger()}
	body := `{"session_id":"` + sess.ID + `","rating":4,"note":"helpful"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	entries := st.FeedbackEntries()
	if len(entries) != 1 {
		t.Fatalf("got %d feedback entries, want 1", len(entries))
	}
	if entries[0].Rating != 4 || entries[0].Note != "helpful" {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestFeedbackRejectsOutOfRangeRating(t *testing.T) {
	h := &FeedbackHandler{Store: store.NewMemory(), Logger: discardLogger()}
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", strings.NewReader(`{"session_id":"s1","rating":9}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFeedbackStorageFailureIsReported(t *testing.T) {
	h := &FeedbackHandler{Store: failingFeedbackStore{Store: store.NewMemory()}, Logger: discardLogger()}
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", strings.NewReader(`{"session_id":"s1","rating":2}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; feedback loss must not be silent", rec.Code)
	}
}
