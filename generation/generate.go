package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/tool"
)

// Generate performs a single-turn generation. The returned result carries
// either a plain assistant message or a tool-call message when the model
// requested tool execution; no tools are executed here.
func (e *Engine) Generate(ctx context.Context, messages []core.Message, cfg Config) (*Result, error) {
	p, model, pcfg, prelude, err := e.resolve(&cfg)
	if err != nil {
		return nil, err
	}

	transcript := append(append([]core.Message{}, prelude...), messages...)

	start := time.Now()
	resp, err := p.GenerateResponse(ctx, model, transcript, pcfg)
	dur := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		e.logger.Error("generation failed", "model", model, "provider", p.Name(), "error", err.Error())
		return nil, fmt.Errorf("provider %s: %w", p.Name(), err)
	}

	e.logger.Debug("generation completed",
		"model", model,
		"provider", p.Name(),
		"duration_ms", dur.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	var msg core.Message
	if len(resp.ToolCalls) > 0 {
		msg = core.NewToolCallMessage(resp.Content, newToolCalls(cfg.Kit, resp.ToolCalls))
	} else {
		msg = core.NewAssistantMessage(resp.Content)
	}

	gen := core.Generation{
		Model:        model,
		Provider:     p.Name(),
		DurationMS:   dur.Milliseconds(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}

	return &Result{
		Message:     msg,
		Messages:    append(append([]core.Message{}, messages...), msg),
		Metadata:    metadataFrom(model, p, pcfg.Temperature, dur, resp.Usage),
		Generations: []core.Generation{gen},
		StopReason:  core.StopCompleted,
	}, nil
}

// GenerateAndProcessTools drives the bounded generate/execute loop: generate,
// and while the result requests tool execution, process the batch (under the
// per-batch call and error budgets) and generate a follow-up, until a plain
// assistant message is produced, an approval gate is hit (returning
// immediately with stop reason toolCallsRequireApproval), or the attempt
// budget is exhausted. Token usage across all attempts is accumulated into
// the final metadata with one audit entry per model call.
func (e *Engine) GenerateAndProcessTools(ctx context.Context, messages []core.Message, cfg Config) (*Result, error) {
	if cfg.Kit == nil {
		return e.Generate(ctx, messages, cfg)
	}

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
	var generations []core.Generation
	var usage core.TokenUsage
	var lastMetadata core.Metadata

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAborted, err)
		}

		res, err := e.Generate(ctx, transcript, cfg)
		if err != nil {
			return nil, err
		}
		generations = append(generations, res.Generations...)
		usage.Add(core.TokenUsage{InputTokens: res.Metadata.InputTokens, OutputTokens: res.Metadata.OutputTokens})
		lastMetadata = res.Metadata
		transcript = res.Messages

		toolMsg, ok := res.Message.(*core.ToolCallMessage)
		if !ok {
			lastMetadata.InputTokens = usage.InputTokens
			lastMetadata.OutputTokens = usage.OutputTokens
			return &Result{
				Message:     res.Message,
				Messages:    transcript,
				Metadata:    lastMetadata,
				Generations: generations,
				StopReason:  core.StopCompleted,
			}, nil
		}

		if cfg.AutoApprove {
			cfg.Kit.ApproveCalls(toolMsg)
		}
		if cfg.Kit.Classify(toolMsg.ToolCalls) == tool.ClassApprovalPending {
			lastMetadata.InputTokens = usage.InputTokens
			lastMetadata.OutputTokens = usage.OutputTokens
			return &Result{
				Message:     toolMsg,
				Messages:    transcript,
				Metadata:    lastMetadata,
				Generations: generations,
				StopReason:  core.StopToolApprovalRequired,
			}, nil
		}

		cfg.Kit.ProcessCalls(ctx, toolMsg, inv, func(o *tool.ProcessOptions) {
			o.MaxCalls = maxCalls
			o.MaxErrors = maxErrors
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNoResponse, attempts)
}

// Embed creates an embedding via the named provider.
func (e *Engine) Embed(ctx context.Context, providerName, model, text string) ([]float64, error) {
	p, err := e.registry.Provider(providerName)
	if err != nil {
		return nil, err
	}
	vec, err := p.CreateEmbedding(ctx, model, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		return nil, fmt.Errorf("provider %s: %w", providerName, err)
	}
	return vec, nil
}
