// Package content models the payload of one chat message: either plain text
// or a structured UI spec. The discriminant is persisted alongside the
// payload so history reloads never have to guess at shapes.
package content

import (
	"encoding/json"
	"fmt"

	"github.com/casavox/casavox/pkg/chat/uispec"
)

type Kind string

const (
	KindText   Kind = "text"
	KindUISpec Kind = "ui_spec"
)

// Content is a tagged union. Exactly one of Text/UISpec is meaningful,
// selected by Kind.
type Content struct {
	Kind   Kind
	Text   string
	UISpec *uispec.Spec
}

func Text(text string) Content {
	return Content{Kind: KindText, Text: text}
}

func UI(spec *uispec.Spec) Content {
	return Content{Kind: KindUISpec, UISpec: spec}
}

type envelope struct {
	Kind   Kind            `json:"kind"`
	Text   string          `json:"text,omitempty"`
	UISpec json.RawMessage `json:"ui_spec,omitempty"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	env := envelope{Kind: c.Kind}
	switch c.Kind {
	case KindText:
		env.Text = c.Text
	case KindUISpec:
		if c.UISpec == nil {
			return nil, fmt.Errorf("ui_spec content without a spec")
		}
		raw, err := json.Marshal(c.UISpec)
		if err != nil {
			return nil, err
		}
		env.UISpec = raw
	default:
		return nil, fmt.Errorf("unknown content kind %q", c.Kind)
	}
	return json.Marshal(env)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Kind {
	case KindText:
		*c = Content{Kind: KindText, Text: env.Text}
		return nil
	case KindUISpec:
		var spec uispec.Spec
		if err := json.Unmarshal(env.UISpec, &spec); err != nil {
			return fmt.Errorf("decode ui_spec payload: %w", err)
		}
		*c = Content{Kind: KindUISpec, UISpec: &spec}
		return nil
	case "":
		// Legacy rows stored a bare {"text": ...} object with no tag.
		*c = Content{Kind: KindText, Text: env.Text}
		return nil
	default:
		return fmt.Errorf("unknown content kind %q", env.Kind)
	}
}

// PlainText returns the text a voice reply would speak: the text payload, or
// the UI spec's confirmation line for structured replies.
func (c Content) PlainText() string {
	switch c.Kind {
	case KindText:
		return c.Text
	case KindUISpec:
		if c.UISpec != nil {
			return c.UISpec.ConfirmationLine()
		}
	}
	return ""
}
