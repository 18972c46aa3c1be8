// Package anthropic adapts the Anthropic Messages API to the provider
// capability contract, including streaming and tool use.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/provider"
)

// Name identifies this provider in the registry.
const Name = "anthropic"

// defaultMaxTokens applies when the request leaves max tokens unset; the
// Messages API requires an explicit value.
const defaultMaxTokens = 4096

// Options configure the Anthropic provider adapter.
type Options struct {
	// APIKey overrides the environment-derived key when non-empty.
	APIKey string
}

// Provider wraps the Anthropic Messages API behind the provider contract.
type Provider struct {
	client anthropic.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Anthropic provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Provider{client: anthropic.NewClient(reqOpts...)}
}

// NewFromClient creates an Anthropic provider from an existing client.
func NewFromClient(client anthropic.Client) *Provider {
	return &Provider{client: client}
}

// Name returns the registry identifier.
func (p *Provider) Name() string { return Name }

// buildParams maps the normalized transcript onto a Messages API request.
// System messages become the request-level system prompt; tool results are
// carried in a user turn following the assistant's tool_use turn, as the
// API requires.
func buildParams(model string, messages []core.Message, cfg provider.Config) (anthropic.MessageNewParams, error) {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}
	if cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*cfg.Temperature)
	}

	for _, m := range messages {
		switch msg := m.(type) {
		case core.SystemMessage:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case core.UserMessage:
			if text := core.MessageText(msg); text != "" {
				params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		case core.AssistantMessage:
			if msg.Content != "" {
				params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case *core.ToolCallMessage:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			var results []anthropic.ContentBlockParamUnion
			for i := range msg.ToolCalls {
				call := &msg.ToolCalls[i]
				blocks = append(blocks, anthropic.NewToolUseBlock(call.Request.CallID, call.Request.Arguments, call.Request.Name))
				if call.Settled() {
					results = append(results, anthropic.NewToolResultBlock(call.Request.CallID, serializeOutcome(call), call.Error != nil))
				}
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
			if len(results) > 0 {
				params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))
			}
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unknown message type %T", m)
		}
	}

	if len(cfg.Tools) > 0 {
		params.Tools = buildTools(cfg.Tools)
		switch cfg.ToolChoice {
		case provider.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case provider.ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		case provider.ToolChoiceAuto:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}
	return params, nil
}

func serializeOutcome(call *core.ToolCall) string {
	if call.Error != nil {
		return fmt.Sprintf("Error (%s): %s", call.Error.Type, call.Error.Message)
	}
	text, err := core.Serialize(call.Result)
	if err != nil {
		return fmt.Sprintf("%v", call.Result)
	}
	return text
}

// buildTools converts tool definitions into the Anthropic tool format.
func buildTools(tools []provider.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if tdef.Parameters != nil {
			if properties, ok := tdef.Parameters["properties"]; ok {
				schema.Properties = properties
			}
			switch required := tdef.Parameters["required"].(type) {
			case []string:
				schema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, tdef.Name)
	}
	return out
}

// responseFrom converts a completed API message into the normalized response.
func responseFrom(msg *anthropic.Message) (*provider.Response, error) {
	out := &provider.Response{
		FinishReason: string(msg.StopReason),
		Usage: core.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args, err := core.DecodeArguments(string(toolBlock.Input))
			if err != nil {
				return nil, fmt.Errorf("decode arguments for call %s: %w", toolBlock.ID, err)
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCallRequest{
				CallID:    toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

// GenerateResponse performs a single non-streaming message request.
func (p *Provider) GenerateResponse(ctx context.Context, model string, messages []core.Message, cfg provider.Config) (*provider.Response, error) {
	params, err := buildParams(model, messages, cfg)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}
	return responseFrom(resp)
}

// GenerateResponseStream streams a message request, emitting text deltas as
// they arrive and a final done delta with accumulated tool calls and usage.
func (p *Provider) GenerateResponseStream(ctx context.Context, model string, messages []core.Message, cfg provider.Config) (<-chan provider.StreamDelta, <-chan error) {
	out := make(chan provider.StreamDelta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params, err := buildParams(model, messages, cfg)
		if err != nil {
			errCh <- err
			return
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		var accumulated anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := accumulated.Accumulate(event); err != nil {
				errCh <- fmt.Errorf("anthropic stream accumulate error: %w", err)
				return
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						out <- provider.StreamDelta{Content: delta.Text}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						out <- provider.StreamDelta{Reasoning: delta.Thinking}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
			return
		}

		resp, err := responseFrom(&accumulated)
		if err != nil {
			errCh <- err
			return
		}
		out <- provider.StreamDelta{
			Done:         true,
			ToolCalls:    resp.ToolCalls,
			Usage:        &resp.Usage,
			FinishReason: resp.FinishReason,
		}
	}()

	return out, errCh
}

// CreateEmbedding is not supported by the Anthropic API.
func (p *Provider) CreateEmbedding(_ context.Context, _, _ string) ([]float64, error) {
	return nil, fmt.Errorf("anthropic does not provide an embedding endpoint")
}

// AvailableModels lists the model identifiers visible to the credential.
func (p *Provider) AvailableModels(ctx context.Context) ([]string, error) {
	var names []string
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("anthropic model list error: %w", err)
	}
	for page != nil {
		for _, m := range page.Data {
			names = append(names, string(m.ID))
		}
		page, err = page.GetNextPage()
		if err != nil {
			return nil, fmt.Errorf("anthropic model list error: %w", err)
		}
	}
	return names, nil
}
