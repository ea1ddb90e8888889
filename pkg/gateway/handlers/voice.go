package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/casavox/casavox/pkg/gateway/apierror"
	"github.com/casavox/casavox/pkg/voice/stt"
	"github.com/casavox/casavox/pkg/voice/tts"
)

// Chunks below this size carry no usable speech; skipping them saves an
// upstream round trip per silent interval.
const minAudioBytes = 2048

// TranscribeHandler serves POST /v1/voice/transcribe with a multipart body
// holding one recorded audio chunk.
type TranscribeHandler struct {
	Transcriber  stt.Transcriber
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if h.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, r, apierror.NewInvalidRequest("audio file is required", "audio"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, apierror.NewInvalidRequest("could not read audio", "audio"))
		return
	}
	if len(audio) < minAudioBytes {
		writeJSON(w, http.StatusOK, transcribeResponse{Text: ""})
		return
	}

	text, err := transcribe(r.Context(), h.Transcriber, audio, r.FormValue("lang"), r.FormValue("prompt"))
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("transcription failed", "error", err)
		}
		writeError(w, r, &apierror.Error{Type: apierror.ErrUpstream, Message: "transcription failed"})
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

type promptTranscriber interface {
	TranscribeWithPrompt(ctx context.Context, audio []byte, lang, prompt string) (string, error)
}

// transcribe forwards a caller-supplied bias prompt when the upstream
// supports one.
func transcribe(ctx context.Context, t stt.Transcriber, audio []byte, lang, prompt string) (string, error) {
	if pt, ok := t.(promptTranscriber); ok && prompt != "" {
		return pt.TranscribeWithPrompt(ctx, audio, lang, prompt)
	}
	return t.Transcribe(ctx, audio, lang)
}

// SpeechHandler serves POST /v1/voice/speech, returning synthesized audio.
type SpeechHandler struct {
	Synthesizer tts.Synthesizer
	Logger      *slog.Logger
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (h *SpeechHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierror.NewInvalidRequest("invalid request body", ""))
		return
	}
	if req.Text == "" {
		writeError(w, r, apierror.NewInvalidRequest("text is required", "text"))
		return
	}

	audio, err := h.Synthesizer.Speak(r.Context(), req.Text, req.Voice)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("speech synthesis failed", "error", err)
		}
		writeError(w, r, &apierror.Error{Type: apierror.ErrUpstream, Message: "speech synthesis failed"})
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
