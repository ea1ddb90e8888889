package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTranscribeMultipart(t *testing.T) {
	var gotLang, gotPrompt string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLang = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		gotAudio, _ = io.ReadAll(file)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "three bedrooms in Austin"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "whisper-1", time.Second)
	text, err := c.Transcribe(context.Background(), []byte("webm-bytes"), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "three bedrooms in Austin" {
		t.Fatalf("text = %q", text)
	}
	if gotLang != "en" {
		t.Fatalf("language = %q", gotLang)
	}
	if !strings.Contains(gotPrompt, "real estate") && !strings.Contains(gotPrompt, "Real estate") {
		t.Fatalf("prompt = %q, want domain bias", gotPrompt)
	}
	if string(gotAudio) != "webm-bytes" {
		t.Fatalf("audio = %q", gotAudio)
	}
}

func TestTranscribeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "whisper-1", time.Second)
	if _, err := c.Transcribe(context.Background(), []byte("x"), ""); err == nil {
		t.Fatal("expected error")
	}
}
