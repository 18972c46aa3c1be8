package core

// StopReason is the terminal classification of a single generation or
// streaming request.
type StopReason string

const (
	// StopCompleted marks a normally finished request.
	StopCompleted StopReason = "completed"
	// StopUserCancelled marks a request terminated by the caller's context.
	// Cancellation is a clean intentional stop, not a failure.
	StopUserCancelled StopReason = "userCancelled"
	// StopGenerationError marks a provider-level failure. Partial content
	// accumulated before the failure is preserved.
	StopGenerationError StopReason = "generationError"
	// StopToolApprovalRequired marks a request halted on gated tool calls
	// awaiting external approval.
	StopToolApprovalRequired StopReason = "toolCallsRequireApproval"
)

// StreamEvent is the closed union of events emitted by streaming generation.
// Ordering contract: buffered content is always flushed before any
// non-content event, and the terminal ResponseEvent plus MessagesEvent are
// emitted regardless of how the stream ends.
type StreamEvent interface{ isStreamEvent() }

// MessageStartEvent opens an assistant message in the stream.
type MessageStartEvent struct {
	Role Role `json:"role"`
}

func (MessageStartEvent) isStreamEvent() {}

// ChunkEvent carries a fragment of assistant content.
type ChunkEvent struct {
	Content string `json:"content"`
}

func (ChunkEvent) isStreamEvent() {}

// ReasoningChunkEvent carries a fragment of model reasoning output.
type ReasoningChunkEvent struct {
	Content string `json:"content"`
}

func (ReasoningChunkEvent) isStreamEvent() {}

// ToolCallStartedEvent announces that a tool call is about to execute.
type ToolCallStartedEvent struct {
	ToolCall ToolCall `json:"toolCall"`
}

func (ToolCallStartedEvent) isStreamEvent() {}

// ToolCallCompletedEvent carries the settled state of an executed tool call.
type ToolCallCompletedEvent struct {
	ToolCall ToolCall `json:"toolCall"`
}

func (ToolCallCompletedEvent) isStreamEvent() {}

// MessageEndEvent closes an assistant message in the stream.
type MessageEndEvent struct{}

func (MessageEndEvent) isStreamEvent() {}

// ResponseEvent is the terminal per-generation summary: the full accumulated
// content, metadata, the stop reason and an optional error. Err is nil for
// userCancelled terminations.
type ResponseEvent struct {
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Metadata   Metadata   `json:"metadata"`
	StopReason StopReason `json:"stopReason"`
	Err        error      `json:"-"`
}

func (ResponseEvent) isStreamEvent() {}

// MessagesEvent is the trailing per-request event carrying the updated
// transcript together with the terminal stop reason.
type MessagesEvent struct {
	Messages   []Message  `json:"messages"`
	StopReason StopReason `json:"stopReason"`
	Err        error      `json:"-"`
}

func (MessagesEvent) isStreamEvent() {}
