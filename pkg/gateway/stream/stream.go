// Package stream delivers incremental text/plain responses. Each Write is
// flushed immediately so clients can render partial answers as they arrive.
package stream

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu      sync.Mutex
	started bool
	acc     strings.Builder
}

func New(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &Writer{w: w, flusher: f}, nil
}

// Send writes one text fragment. The first fragment commits the response to
// text/plain; after that the structured JSON mode is no longer available.
func (sw *Writer) Send(text string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.started {
		sw.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		sw.w.Header().Set("Cache-Control", "no-store")
		sw.w.WriteHeader(http.StatusOK)
		sw.started = true
	}
	if text == "" {
		return nil
	}
	if _, err := fmt.Fprint(sw.w, text); err != nil {
		return err
	}
	sw.acc.WriteString(text)
	sw.flusher.Flush()
	return nil
}

// Accumulated returns the full text written so far.
func (sw *Writer) Accumulated() string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.acc.String()
}
