package apierror

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

func TestFromError_Canonical(t *testing.T) {
	in := &Error{Type: ErrInvalidRequest, Message: "field message is required", Param: "message"}
	out, status := FromError(in, "req_123")
	if status != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", status, http.StatusBadRequest)
	}
	if out.RequestID != "req_123" {
		t.Fatalf("request id=%q, want req_123", out.RequestID)
	}
	if in.RequestID != "" {
		t.Fatalf("input error mutated: %q", in.RequestID)
	}
}

func TestFromError_Wrapped(t *testing.T) {
	in := fmt.Errorf("handler: %w", &Error{Type: ErrStorage, Message: "insert failed"})
	out, status := FromError(in, "req_9")
	if status != http.StatusBadGateway {
		t.Fatalf("status=%d, want %d", status, http.StatusBadGateway)
	}
	if out.Type != ErrStorage {
		t.Fatalf("type=%q, want %q", out.Type, ErrStorage)
	}
}

func TestFromError_Unknown(t *testing.T) {
	out, status := FromError(fmt.Errorf("boom"), "req_1")
	if status != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", status)
	}
	if out.Message != "internal error" {
		t.Fatalf("message=%q, want opaque internal error", out.Message)
	}
}

func TestFromError_ContextDeadline(t *testing.T) {
	_, status := FromError(context.DeadlineExceeded, "")
	if status != http.StatusGatewayTimeout {
		t.Fatalf("status=%d, want 504", status)
	}
}
