// Package stt transcribes recorded audio chunks through an
// OpenAI-compatible transcription endpoint.
package stt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// domainPrompt biases recognition toward real-estate vocabulary; short
// voice chunks are otherwise easy to mishear.
const domainPrompt = "Real estate conversation: homes, condos, bedrooms, bathrooms, price, mortgage, viewing, Austin."

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, lang string) (string, error)
}

type Client struct {
	rc    *resty.Client
	model string
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout)
	return &Client{rc: rc, model: model}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, lang string) (string, error) {
	return c.TranscribeWithPrompt(ctx, audio, lang, "")
}

// TranscribeWithPrompt overrides the recognition-bias prompt; an empty
// prompt falls back to the built-in real-estate one.
func (c *Client) TranscribeWithPrompt(ctx context.Context, audio []byte, lang, prompt string) (string, error) {
	if prompt == "" {
		prompt = domainPrompt
	}
	req := c.rc.R().
		SetContext(ctx).
		SetFileReader("file", "chunk.webm", bytes.NewReader(audio)).
		SetFormData(map[string]string{
			"model":  c.model,
			"prompt": prompt,
		})
	if lang != "" {
		req.SetFormData(map[string]string{"language": lang})
	}

	var out transcriptionResponse
	resp, err := req.SetResult(&out).Post("/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("transcription request: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Text, nil
}

var _ Transcriber = (*Client)(nil)
