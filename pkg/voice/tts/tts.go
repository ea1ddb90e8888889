// Package tts synthesizes speech for assistant replies.
package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type Synthesizer interface {
	Speak(ctx context.Context, text, voice string) ([]byte, error)
}

type Client struct {
	rc           *resty.Client
	model        string
	defaultVoice string
}

func NewClient(baseURL, apiKey, model, defaultVoice string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{rc: rc, model: model, defaultVoice: defaultVoice}
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

func (c *Client) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("speech request: empty text")
	}
	if voice == "" {
		voice = c.defaultVoice
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(speechRequest{Model: c.model, Input: text, Voice: voice}).
		Post("/audio/speech")
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("speech request: status %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

var _ Synthesizer = (*Client)(nil)
