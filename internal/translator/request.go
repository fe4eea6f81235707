// Package translator converts between the OpenAI chat-completions wire
// format and the Code Assist generation format.
package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	upstreamRoleUser  = "user"
	upstreamRoleModel = "model"

	partTypeText = "text"
)

type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

type ContentPart struct {
	Type string  `json:"type"`
	Text *string `json:"text,omitempty"`
}

// MessageContent is either a plain string or a list of typed parts.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = MessageContent{}
		return nil
	case data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = MessageContent{Text: text}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	default:
		return fmt.Errorf("message content must be a string or a list of parts")
	}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// PlainText returns the message text. Only text parts contribute; they
// are joined with a newline.
func (c MessageContent) PlainText() string {
	if c.Parts == nil {
		return c.Text
	}

	texts := make([]string, 0, len(c.Parts))
	for _, part := range c.Parts {
		if part.Type == partTypeText && part.Text != nil {
			texts = append(texts, *part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type Part struct {
	Text string `json:"text"`
}

type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type GenerateRequest struct {
	Model   string                 `json:"model"`
	Request GenerateContentRequest `json:"request"`
}

type GenerateContentRequest struct {
	Contents []Content `json:"contents"`
}

// ToUpstreamContents maps chat messages onto upstream contents. System
// messages and messages without text are dropped; consecutive messages
// with the same upstream role are merged with a blank line between them.
func ToUpstreamContents(messages []ChatMessage) []Content {
	contents := make([]Content, 0, len(messages))

	for _, message := range messages {
		var role string
		switch message.Role {
		case RoleUser:
			role = upstreamRoleUser
		case RoleAssistant:
			role = upstreamRoleModel
		default:
			continue
		}

		text := message.Content.PlainText()
		if text == "" {
			continue
		}

		if last := len(contents) - 1; last >= 0 && contents[last].Role == role {
			contents[last].Parts[0].Text += "\n\n" + text
			continue
		}

		contents = append(contents, Content{Role: role, Parts: []Part{{Text: text}}})
	}

	return contents
}

// NewGenerateRequest encodes the upstream generation body. Provider
// prefixes such as "google/" are stripped from the model name; the
// project is bound later, per attempt.
func NewGenerateRequest(model string, contents []Content) ([]byte, error) {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}

	body, err := json.Marshal(GenerateRequest{
		Model:   model,
		Request: GenerateContentRequest{Contents: contents},
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return body, nil
}
