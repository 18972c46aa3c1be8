package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/tool"
)

// streamOutcome summarizes one streamed generation.
type streamOutcome struct {
	content    string
	reasoning  string
	toolCalls  []core.ToolCallRequest
	usage      core.TokenUsage
	metadata   core.Metadata
	stopReason core.StopReason
	err        error
}

// streamOnce runs a single streamed generation, emitting messageStart, chunk
// and reasoningChunk events followed by messageEnd and the per-generation
// response event. Cancellation terminates the chunk loop early and is
// reported as a clean userCancelled stop with no error; provider failures
// become generationError with the partial content preserved. The response
// event is emitted on every path.
func (e *Engine) streamOnce(ctx context.Context, messages []core.Message, cfg *Config, emit func(core.StreamEvent)) streamOutcome {
	p, model, pcfg, prelude, err := e.resolve(cfg)
	if err != nil {
		out := streamOutcome{stopReason: core.StopGenerationError, err: err}
		emit(core.ResponseEvent{StopReason: out.stopReason, Err: err})
		return out
	}

	transcript := append(append([]core.Message{}, prelude...), messages...)

	start := time.Now()
	deltas, errCh := p.GenerateResponseStream(ctx, model, transcript, pcfg)

	emit(core.MessageStartEvent{Role: core.RoleAssistant})

	var content, reasoning strings.Builder
	out := streamOutcome{stopReason: core.StopCompleted}

loop:
	for {
		select {
		case <-ctx.Done():
			out.stopReason = core.StopUserCancelled
			break loop
		case delta, ok := <-deltas:
			if !ok {
				// Channel closed; pick up a terminal error if one is waiting.
				if err := <-errCh; err != nil {
					if ctx.Err() != nil {
						out.stopReason = core.StopUserCancelled
					} else {
						out.stopReason = core.StopGenerationError
						out.err = err
					}
				}
				break loop
			}
			if delta.Content != "" {
				content.WriteString(delta.Content)
				emit(core.ChunkEvent{Content: delta.Content})
			}
			if delta.Reasoning != "" {
				reasoning.WriteString(delta.Reasoning)
				emit(core.ReasoningChunkEvent{Content: delta.Reasoning})
			}
			if delta.Done {
				out.toolCalls = delta.ToolCalls
				if delta.Usage != nil {
					out.usage = *delta.Usage
				}
			}
		}
	}

	out.content = content.String()
	out.reasoning = reasoning.String()
	out.metadata = metadataFrom(model, p, pcfg.Temperature, time.Since(start), out.usage)

	emit(core.MessageEndEvent{})
	emit(core.ResponseEvent{
		Content:    out.content,
		Reasoning:  out.reasoning,
		Metadata:   out.metadata,
		StopReason: out.stopReason,
		Err:        out.err,
	})

	if out.err != nil {
		e.logger.Error("streamed generation failed", "model", model, "provider", p.Name(), "error", out.err.Error())
	}
	return out
}

// appendOutcome converts a stream outcome into the message appended to the
// transcript. Partial content from cancelled or failed generations is
// preserved as an assistant message, never discarded.
func appendOutcome(kit *tool.Kit, transcript []core.Message, out streamOutcome) ([]core.Message, core.Message) {
	var msg core.Message
	if out.stopReason == core.StopCompleted && len(out.toolCalls) > 0 {
		msg = core.NewToolCallMessage(out.content, newToolCalls(kit, out.toolCalls))
	} else {
		msg = core.NewAssistantMessage(out.content)
	}
	return append(transcript, msg), msg
}

// GenerateStream performs a single streamed generation without tool
// execution. Any tool calls the model requested are surfaced on the appended
// tool-call message. The trailing messages event is always emitted.
func (e *Engine) GenerateStream(ctx context.Context, messages []core.Message, cfg Config) <-chan core.StreamEvent {
	events := make(chan core.StreamEvent, 16)

	go func() {
		defer close(events)
		emit := func(ev core.StreamEvent) { events <- ev }

		out := e.streamOnce(ctx, messages, &cfg, emit)
		transcript, _ := appendOutcome(cfg.Kit, append([]core.Message{}, messages...), out)
		emit(core.MessagesEvent{Messages: transcript, StopReason: out.stopReason, Err: out.err})
	}()

	return e.buffered(events)
}

// GenerateStreamAndProcessTools drives the streaming tool loop: stream a
// generation; when it requests tool calls, emit toolCallStarted/completed
// lifecycle events around execution and stream a follow-up generation, until
// a plain assistant message, an approval gate, cancellation, a provider
// error, or the attempt budget ends the request. Tool processing is skipped
// entirely on cancellation or provider error; partial content is preserved.
// The trailing messages event carries the updated transcript and terminal
// stop reason on every path.
func (e *Engine) GenerateStreamAndProcessTools(ctx context.Context, messages []core.Message, cfg Config) <-chan core.StreamEvent {
	events := make(chan core.StreamEvent, 16)

	go func() {
		defer close(events)
		emit := func(ev core.StreamEvent) { events <- ev }

		inv := cfg.Invocation
		if inv == nil {
			inv = tool.NewInvocation()
		}
		if inv.Logger == nil {
			inv.Logger = e.logger
		}

		maxCalls := e.maxToolCalls(&cfg)
		maxErrors := e.maxToolCallErrors(&cfg)
		attempts := maxCalls + maxErrors

		transcript := append([]core.Message{}, messages...)
		var finalErr error
		stopReason := core.StopCompleted

		for attempt := 0; attempt < attempts; attempt++ {
			out := e.streamOnce(ctx, transcript, &cfg, emit)
			var msg core.Message
			transcript, msg = appendOutcome(cfg.Kit, transcript, out)

			if out.stopReason != core.StopCompleted {
				// Cancellation or provider failure: no tool processing.
				stopReason = out.stopReason
				finalErr = out.err
				break
			}

			toolMsg, ok := msg.(*core.ToolCallMessage)
			if !ok {
				stopReason = core.StopCompleted
				break
			}
			if cfg.Kit == nil {
				stopReason = core.StopCompleted
				break
			}

			if cfg.AutoApprove {
				cfg.Kit.ApproveCalls(toolMsg)
			}
			if cfg.Kit.Classify(toolMsg.ToolCalls) == tool.ClassApprovalPending {
				stopReason = core.StopToolApprovalRequired
				break
			}

			processCallsStreaming(ctx, cfg.Kit, toolMsg, inv, maxCalls, maxErrors, emit)

			if attempt == attempts-1 {
				stopReason = core.StopGenerationError
				finalErr = ErrNoResponse
			}
		}

		emit(core.MessagesEvent{Messages: transcript, StopReason: stopReason, Err: finalErr})
	}()

	return e.buffered(events)
}

// processCallsStreaming mirrors Kit.ProcessCalls while emitting a
// started/completed event pair per executed call. Calls left over when the
// budget runs out are failed through the kit so their bookkeeping matches
// the non-streaming path.
func processCallsStreaming(ctx context.Context, kit *tool.Kit, msg *core.ToolCallMessage, inv *tool.Invocation, maxCalls, maxErrors int, emit func(core.StreamEvent)) {
	handled, failures := 0, 0
	for i := range msg.ToolCalls {
		call := &msg.ToolCalls[i]
		if call.Settled() || call.AwaitingApproval() {
			continue
		}
		if err := ctx.Err(); err != nil {
			call.Fail(core.ErrorTypeAborted, "tool processing aborted before execution")
			continue
		}
		if handled >= maxCalls {
			call.Fail(core.ErrorTypeBudgetExceeded, fmt.Sprintf("tool call budget of %d exceeded", maxCalls))
			continue
		}
		if failures >= maxErrors {
			call.Fail(core.ErrorTypeBudgetExceeded, fmt.Sprintf("tool error budget of %d exceeded", maxErrors))
			continue
		}

		emit(core.ToolCallStartedEvent{ToolCall: *call})
		if kit.ProcessCall(ctx, call, inv) {
			handled++
			if call.Execution == core.ExecutionError {
				failures++
			}
		}
		emit(core.ToolCallCompletedEvent{ToolCall: *call})
	}
}

func (e *Engine) buffered(in <-chan core.StreamEvent) <-chan core.StreamEvent {
	if e.buffering == nil {
		return in
	}
	return BufferEvents(in, func(o *BufferOptions) { *o = *e.buffering })
}
