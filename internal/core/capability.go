package core

import (
	"context"
	"errors"

	"kotoba.app/nihongo-assistant/internal/store"
)

// Error taxonomy for a conversation turn. Handlers map these onto HTTP
// statuses; everything else is an internal failure.
var (
	// ErrEmptyInput: the caller sent neither text nor image. No side effect.
	ErrEmptyInput = errors.New("message or image required")
	// ErrModelUnavailable: the capability is unreachable or misconfigured.
	// The user message has already been recorded by then.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrEmptyResponse: the whole exchange produced no usable text.
	ErrEmptyResponse = errors.New("model produced no content")
	// ErrSafetyFiltered: the capability rejected the content outright.
	ErrSafetyFiltered = errors.New("content blocked by safety filter")
)

// ToolCall is a structured function-call request declared by the model.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolResult answers one ToolCall within the same exchange.
type ToolResult struct {
	Name     string
	Response map[string]any
}

// ModelResponse is one turn's worth of model output: text, any declared tool
// calls, token accounting, and whether a safety filter blocked the content.
type ModelResponse struct {
	Text          string
	ToolCalls     []ToolCall
	Usage         *store.UsageStats
	SafetyBlocked bool
}

// ImageData is a decoded image payload for a single prompt.
type ImageData struct {
	MIMEType string
	Data     []byte
}

// Prompt is the user-visible portion of the initial turn.
type Prompt struct {
	Text  string
	Image *ImageData
}

// Exchange is one stateful conversation with the model: the initial turn has
// already been sent, Continue feeds tool results back and yields the next
// response.
type Exchange interface {
	Continue(ctx context.Context, results []ToolResult) (*ModelResponse, error)
}

// ModelClient abstracts the generative-AI backend. Each StartExchange is
// stateless with respect to prior turns; history is never replayed.
type ModelClient interface {
	StartExchange(ctx context.Context, instruction string, prompt Prompt) (Exchange, *ModelResponse, error)
}
