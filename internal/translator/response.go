package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/gemini-pool/internal/observability"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	chunkObject = "chat.completion.chunk"

	FinishStop          = "stop"
	FinishToolCalls     = "tool_calls"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"

	doneFrame = "data: [DONE]\n\n"
)

type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// objectShape tags the decoded form of one upstream stream object.
type objectShape int

const (
	shapeUnrecognized objectShape = iota
	shapeCandidate
	shapeOperation
)

// StreamCursor turns the objects of one upstream stream into outbound
// chunks. It remembers the text already sent so cumulative upstream text
// becomes incremental deltas. One cursor serves one client request.
type StreamCursor struct {
	id           string
	model        string
	created      int64
	lastSentText string
}

func NewStreamCursor(model string) *StreamCursor {
	return &StreamCursor{
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
	}
}

// InitialChunk announces the assistant role with empty content.
func (c *StreamCursor) InitialChunk() ChatCompletionChunk {
	empty := ""
	return c.chunk(Delta{Role: RoleAssistant, Content: &empty}, nil)
}

// LastSentText returns the cumulative text emitted so far.
func (c *StreamCursor) LastSentText() string {
	return c.lastSentText
}

// Translate converts one reconstructed upstream object. It reports false
// when the object produces no outbound chunk.
func (c *StreamCursor) Translate(object json.RawMessage) (ChatCompletionChunk, bool) {
	root := gjson.ParseBytes(object)
	if envelope := root.Get("response"); envelope.IsObject() {
		root = envelope
	}

	switch classify(root) {
	case shapeCandidate:
	case shapeOperation:
		log.Debug("ignoring operation object in content stream")
		return ChatCompletionChunk{}, false
	default:
		observability.StreamObjectsTotal.WithLabelValues("unrecognized").Inc()
		log.WithField("object", preview(object)).Debug("ignoring unrecognized stream object")
		return ChatCompletionChunk{}, false
	}

	candidate := root.Get("candidates.0")
	parts := candidate.Get("content.parts")

	if call, ok := firstFunctionCall(parts); ok {
		return c.toolCallChunk(call), true
	}

	var text strings.Builder
	parts.ForEach(func(_, part gjson.Result) bool {
		if value := part.Get("text"); value.Type == gjson.String {
			text.WriteString(value.String())
		}
		return true
	})
	fullText := text.String()

	if fullText == c.lastSentText {
		return ChatCompletionChunk{}, false
	}

	delta := fullText
	if strings.HasPrefix(fullText, c.lastSentText) {
		delta = fullText[len(c.lastSentText):]
	}
	c.lastSentText = fullText

	if delta == "" {
		return ChatCompletionChunk{}, false
	}

	return c.chunk(Delta{Content: &delta}, mapFinishReason(candidate.Get("finishReason").String())), true
}

func (c *StreamCursor) toolCallChunk(call gjson.Result) ChatCompletionChunk {
	arguments := "{}"
	if args := call.Get("args"); args.Exists() {
		arguments = compactJSON(args.Raw)
	}

	finish := FinishToolCalls
	return c.chunk(Delta{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{{
			Index: 0,
			ID:    "call_" + uuid.NewString(),
			Type:  "function",
			Function: FunctionCall{
				Name:      call.Get("name").String(),
				Arguments: arguments,
			},
		}},
	}, &finish)
}

func (c *StreamCursor) chunk(delta Delta, finish *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      c.id,
		Object:  chunkObject,
		Created: c.created,
		Model:   c.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func classify(root gjson.Result) objectShape {
	if root.Get("candidates.0").IsObject() {
		return shapeCandidate
	}
	if root.Get("done").Exists() || strings.HasPrefix(root.Get("name").String(), "operations/") {
		return shapeOperation
	}
	return shapeUnrecognized
}

func firstFunctionCall(parts gjson.Result) (gjson.Result, bool) {
	var call gjson.Result
	parts.ForEach(func(_, part gjson.Result) bool {
		if fc := part.Get("functionCall"); fc.IsObject() {
			call = fc
			return false
		}
		return true
	})
	return call, call.Exists()
}

// mapFinishReason maps an upstream finish signal onto the OpenAI value;
// unknown or absent signals map to nil.
func mapFinishReason(reason string) *string {
	var mapped string
	switch reason {
	case "STOP":
		mapped = FinishStop
	case "MAX_TOKENS":
		mapped = FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		mapped = FinishContentFilter
	default:
		if strings.HasPrefix(reason, "TOOL") || reason == "FUNCTION_CALL" {
			mapped = FinishToolCalls
		} else {
			return nil
		}
	}
	return &mapped
}

// Frame encodes v as one server-sent event.
func Frame(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// DoneFrame is the terminal sentinel event of every stream.
func DoneFrame() []byte {
	return []byte(doneFrame)
}

type streamError struct {
	Error streamErrorBody `json:"error"`
}

type streamErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ErrorFrame reports err inside an already started stream.
func ErrorFrame(err error) []byte {
	frame, encodeErr := Frame(streamError{Error: streamErrorBody{
		Message: err.Error(),
		Type:    "internal_server_error",
	}})
	if encodeErr != nil {
		return []byte(`data: {"error":{"message":"internal error","type":"internal_server_error"}}` + "\n\n")
	}
	return frame
}

func compactJSON(raw string) string {
	return gjson.Get(raw, "@ugly").Raw
}

func preview(object []byte) string {
	const limit = 256
	if len(object) <= limit {
		return string(object)
	}
	return string(object[:limit]) + "..."
}
