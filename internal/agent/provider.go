// Package agent implements the bounded tool-using loop that answers
// questions about an uploaded dataset.
package agent

import (
	"context"
	"encoding/json"

	"github.com/tabulant/tabulant/pkg/models"
)

// CompletionMessage is one conversation entry sent to the provider.
// Exactly one of Content, ToolCalls, or ToolResults is expected to be set
// for tool traffic; plain text turns use Content alone.
type CompletionMessage struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the text body.
	Content string

	// ToolCalls are tool invocations attached to an assistant message.
	ToolCalls []models.ToolCall

	// ToolResults are results attached to a user message.
	ToolResults []models.ToolResult
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// CompletionRequest is a single model invocation.
type CompletionRequest struct {
	System    string
	Messages  []CompletionMessage
	Tools     []ToolSpec
	MaxTokens int
}

// Completion is the accumulated model response: any assistant text plus the
// tool calls it requested, in order.
type Completion struct {
	Text       string
	ToolCalls  []models.ToolCall
	StopReason string
}

// LLMProvider abstracts the model backend. Implementations must be safe for
// concurrent use across sessions; a provider holds no per-turn state.
type LLMProvider interface {
	// Name returns the provider identifier for logging.
	Name() string

	// Complete performs one model request and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}
