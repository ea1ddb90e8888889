package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/casavox/casavox/pkg/tools"
)

const classifySystem = `Classify into one of:
search_properties, neighborhood_info, market_analysis, buying_process, mortgage_calc,
schedule_viewing, lead_capture, general_faq, handoff_agent.
Extract entities: city, beds, baths, price_min, price_max, when (ISO), language, name,
email, phone, property_id, rate, years, down_payment, hoa, property_tax_annual,
home_insurance_annual, pmi_monthly.
Return ONLY strict JSON: {"intent": string, "entities": object}.`

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	rc    *resty.Client
	model string
	log   *slog.Logger
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{rc: rc, model: model, log: log}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	var out chatResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) Classify(ctx context.Context, utterance string) (Classification, error) {
	raw, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: classifySystem},
			{Role: "user", Content: utterance},
		},
		MaxTokens:      220,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		c.log.Warn("intent classification failed, using heuristic", "error", err)
		return heuristicClassification(utterance), nil
	}

	var parsed struct {
		Intent   string         `json:"intent"`
		Entities map[string]any `json:"entities"`
	}
	if err := json.Unmarshal(extractJSON(raw), &parsed); err != nil {
		c.log.Warn("intent classification returned non-JSON, using heuristic", "error", err)
		return heuristicClassification(utterance), nil
	}

	cls := Classification{
		Intent: Intent(parsed.Intent),
		Slots:  parsed.Entities,
	}
	if cls.Slots == nil {
		cls.Slots = map[string]any{}
	}
	cls.Entities = entitiesFromSlots(cls.Slots)
	if cls.Intent == "" {
		cls.Intent = IntentGeneralFAQ
	}
	return cls, nil
}

func entitiesFromSlots(slots map[string]any) tools.Entities {
	e := tools.Entities{}
	if city, ok := slots["city"].(string); ok {
		e.City = city
	}
	if beds := slotNumber(slots, "beds"); beds > 0 {
		e.Beds = int(beds)
	}
	e.PriceMin = slotNumber(slots, "price_min")
	e.PriceMax = slotNumber(slots, "price_max")
	return e
}

func slotNumber(slots map[string]any, key string) float64 {
	switch v := slots[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.ReplaceAll(v, ",", ""), "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

func (c *Client) Answer(ctx context.Context, req AnswerRequest) (string, error) {
	msgs := make([]chatMessage, 0, len(req.History)+3)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	if req.Context != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: "Relevant listings:\n" + req.Context})
	}
	for _, turn := range req.History {
		msgs = append(msgs, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Message})

	text, err := c.complete(ctx, chatRequest{Model: c.model, Messages: msgs, MaxTokens: 650})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// extractJSON tolerates code fences and stray commentary around the object.
func extractJSON(raw string) []byte {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if json.Valid([]byte(text)) {
		return []byte(text)
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		return []byte(text[start : end+1])
	}
	return []byte(text)
}

var _ Provider = (*Client)(nil)
