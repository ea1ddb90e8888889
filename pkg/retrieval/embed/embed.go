// Package embed turns query text into embedding vectors via an
// OpenAI-compatible embeddings endpoint.
package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// maxInputChars caps the text sent upstream; embedding models reject
// oversized inputs and queries never need more context than this.
const maxInputChars = 8000

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Client struct {
	rc    *resty.Client
	model string
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{rc: rc, model: model}
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if r := []rune(text); len(r) > maxInputChars {
		text = string(r[:maxInputChars])
	}

	var out embeddingsResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(embeddingsRequest{Model: c.model, Input: text}).
		SetResult(&out).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("embeddings request: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings request: empty vector in response")
	}
	return out.Data[0].Embedding, nil
}

var _ Embedder = (*Client)(nil)
