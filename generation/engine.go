// Package generation drives model generation against the provider registry:
// single-turn generation, the bounded generate-and-process-tools loop, and
// the streaming analogues emitting granular lifecycle events. It owns the
// model quirk handling (silently dropping parameters a model rejects) and
// token-usage accounting across multi-call requests.
package generation

import (
	"errors"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/provider"
	"github.com/hupe1980/taskmesh/tool"
)

// ErrNoResponse signals that the tool loop exhausted its attempt budget
// without the provider producing a final assistant message. This indicates a
// caller bug (runaway tool configuration), not a normal runtime path.
var ErrNoResponse = errors.New("unable to generate a response")

// ErrAborted signals cancellation surfaced from a non-streaming path.
var ErrAborted = errors.New("generation aborted")

// Defaults configures engine-wide fallbacks applied when a request omits a
// value.
type Defaults struct {
	// Temperature applied when neither request nor agent override one.
	Temperature *float64
	// MaxTokens per generation (0 leaves the provider default).
	MaxTokens int
	// MaxToolCalls bounds executed calls per batch (default 5).
	MaxToolCalls int
	// MaxToolCallErrors bounds failures per batch (default 3).
	MaxToolCallErrors int
}

// Options configures Engine construction.
type Options struct {
	Logger   logging.Logger
	Defaults Defaults
	// Buffering coalesces adjacent stream chunks when non-nil.
	Buffering *BufferOptions
}

// Engine resolves models through the registry and executes generation
// requests. Safe for concurrent use; all request state is per-call.
type Engine struct {
	registry  *provider.Registry
	logger    logging.Logger
	defaults  Defaults
	buffering *BufferOptions
}

// NewEngine creates an Engine over a provider registry.
func NewEngine(registry *provider.Registry, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Defaults: Defaults{
			MaxToolCalls:      5,
			MaxToolCallErrors: 3,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		registry:  registry,
		logger:    opts.Logger,
		defaults:  opts.Defaults,
		buffering: opts.Buffering,
	}
}

// Config carries per-request generation parameters.
type Config struct {
	// Model selects the model ("" resolves the registry default).
	Model string
	// SystemMessage is prepended to the transcript when non-empty, unless
	// the model's quirk table forbids system messages.
	SystemMessage string
	// Temperature overrides the engine default when non-nil.
	Temperature *float64
	// MaxTokens overrides the engine default when > 0.
	MaxTokens int
	// Kit supplies tool resolution; nil disables tool calling.
	Kit *tool.Kit
	// AllowedTools lists the tool names exposed to the model. Only
	// meaningful with a Kit.
	AllowedTools []string
	// ToolChoice steers tool usage (defaults to auto when tools are set).
	ToolChoice provider.ToolChoice
	// JSONOutput requests a JSON object response.
	JSONOutput bool
	// ReasoningEffort and Verbosity are passed through to providers that
	// support them.
	ReasoningEffort string
	Verbosity       string
	// AutoApprove clears approval gates inside the tool loop instead of
	// stopping on them.
	AutoApprove bool
	// MaxToolCalls / MaxToolCallErrors override the engine defaults (>0).
	MaxToolCalls      int
	MaxToolCallErrors int
	// Invocation is threaded into tool executors (nil gets a fresh one).
	Invocation *tool.Invocation
}

// Result is the outcome of a generation request.
type Result struct {
	// Message is the final appended message: a plain assistant message on
	// completion, or the tool-call message when stopped on an approval gate.
	Message core.Message
	// Messages is the full updated transcript (input plus appended turns).
	Messages []core.Message
	// Metadata aggregates model, provider, temperature, duration and token
	// usage summed across all underlying calls.
	Metadata core.Metadata
	// Generations audits each underlying model call.
	Generations []core.Generation
	// StopReason classifies the terminal condition.
	StopReason core.StopReason
}

// Text returns the assistant text of the final message.
func (r *Result) Text() string { return core.MessageText(r.Message) }

func (e *Engine) maxToolCalls(cfg *Config) int {
	if cfg.MaxToolCalls > 0 {
		return cfg.MaxToolCalls
	}
	return e.defaults.MaxToolCalls
}

func (e *Engine) maxToolCallErrors(cfg *Config) int {
	if cfg.MaxToolCallErrors > 0 {
		return cfg.MaxToolCallErrors
	}
	return e.defaults.MaxToolCallErrors
}

// resolve maps the request onto a provider call: provider, model name, and
// the provider config with quirks applied.
func (e *Engine) resolve(cfg *Config) (provider.Provider, string, provider.Config, []core.Message, error) {
	p, model, err := e.registry.Resolve(cfg.Model)
	if err != nil {
		return nil, "", provider.Config{}, nil, err
	}

	quirks := e.registry.QuirksFor(model)

	temperature := cfg.Temperature
	if temperature == nil {
		temperature = e.defaults.Temperature
	}
	if temperature != nil && quirks.NoTemperature {
		e.logger.Debug("model rejects temperature, dropping", "model", model)
		temperature = nil
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = e.defaults.MaxTokens
	}

	pcfg := provider.Config{
		Temperature:     temperature,
		MaxTokens:       maxTokens,
		ToolChoice:      cfg.ToolChoice,
		ReasoningEffort: cfg.ReasoningEffort,
		Verbosity:       cfg.Verbosity,
		JSONOutput:      cfg.JSONOutput,
		Logger:          e.logger,
	}
	if cfg.Kit != nil && len(cfg.AllowedTools) > 0 {
		pcfg.Tools = cfg.Kit.Definitions(cfg.AllowedTools...)
		if pcfg.ToolChoice == "" {
			pcfg.ToolChoice = provider.ToolChoiceAuto
		}
	}

	var prelude []core.Message
	if cfg.SystemMessage != "" {
		if quirks.NoSystemMessage {
			e.logger.Debug("model rejects system message, dropping", "model", model)
		} else {
			prelude = []core.Message{core.NewSystemMessage(cfg.SystemMessage)}
		}
	}
	return p, model, pcfg, prelude, nil
}

// newToolCalls converts provider-surfaced requests into engine tool calls,
// gating each behind approval when its tool requires confirmation.
func newToolCalls(kit *tool.Kit, requests []core.ToolCallRequest) []core.ToolCall {
	calls := make([]core.ToolCall, 0, len(requests))
	for _, req := range requests {
		approval := core.ApprovalNotRequired
		if kit != nil {
			if t, ok := kit.Get(req.Name); ok && t.RequiresConfirmation {
				approval = core.ApprovalRequired
			}
		}
		calls = append(calls, core.NewToolCall(req, approval))
	}
	return calls
}

func metadataFrom(model string, p provider.Provider, temperature *float64, dur time.Duration, usage core.TokenUsage) core.Metadata {
	return core.Metadata{
		Model:        model,
		Provider:     p.Name(),
		Temperature:  temperature,
		DurationMS:   dur.Milliseconds(),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
}
