// Package provider defines the capability contract every LLM vendor adapter
// must satisfy (generate, stream-generate, embed, list models) and the
// registry that resolves model names to providers. The task-execution core
// consumes this contract; vendor specifics live in the sub-packages.
package provider

import (
	"context"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// ToolChoice steers whether the model may, must, or must not call tools.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide (default).
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone forbids tool calls for this request.
	ToolChoiceNone ToolChoice = "none"
	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
)

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a minimal JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Config carries the normalized per-request generation parameters. Adapters
// translate these into vendor payloads and may ignore hints their API does
// not support.
type Config struct {
	Temperature     *float64
	MaxTokens       int
	Tools           []ToolDefinition
	ToolChoice      ToolChoice
	ReasoningEffort string
	Verbosity       string
	JSONOutput      bool
	Logger          logging.Logger
}

// Response is the result of a single non-streaming generation: an assistant
// message (plain or with tool call requests) plus token usage.
type Response struct {
	// Content is the assistant text, possibly empty when ToolCalls is set.
	Content string
	// ToolCalls holds vendor-surfaced tool invocation requests, in order.
	ToolCalls []core.ToolCallRequest
	// Reasoning carries model reasoning output when the vendor exposes it.
	Reasoning string
	// Usage is the token accounting for this call.
	Usage core.TokenUsage
	// FinishReason is the vendor finish reason, normalized to lower case.
	FinishReason string
}

// StreamDelta is one fragment of a streaming generation. Content and
// Reasoning deltas arrive incrementally; ToolCalls, Usage and FinishReason
// are only populated on the final delta (Done = true).
type StreamDelta struct {
	Content   string
	Reasoning string

	Done         bool
	ToolCalls    []core.ToolCallRequest
	Usage        *core.TokenUsage
	FinishReason string
}

// Provider is the minimal capability contract a vendor adapter implements.
// All methods observe ctx cancellation. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Name returns the provider identifier ("openai", "anthropic", ...).
	Name() string

	// GenerateResponse performs a single-shot generation.
	GenerateResponse(ctx context.Context, model string, messages []core.Message, cfg Config) (*Response, error)

	// GenerateResponseStream starts a streaming generation, returning a
	// delta channel and an error channel. Both close when the stream ends.
	GenerateResponseStream(ctx context.Context, model string, messages []core.Message, cfg Config) (<-chan StreamDelta, <-chan error)

	// CreateEmbedding embeds a single text into a vector.
	CreateEmbedding(ctx context.Context, model, text string) ([]float64, error)

	// AvailableModels lists model identifiers the provider can serve.
	AvailableModels(ctx context.Context) ([]string, error)
}
