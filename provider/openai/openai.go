// Package openai adapts the OpenAI Chat Completions API (including
// streaming and function/tool calling) to the provider capability contract.
// It converts the normalized message model into the SDK's message format
// and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/provider"
)

// Name identifies this provider in the registry.
const Name = "openai"

// aggCall aggregates partial tool call streaming deltas (id, name,
// arguments) so complete calls can be reconstructed when the finish reason
// arrives.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI provider adapter.
type Options struct {
	// APIKey overrides the environment-derived key when non-empty.
	APIKey string
	// BaseURL overrides the API endpoint (Azure, proxies).
	BaseURL string
	// EmbeddingModel used when CreateEmbedding is called with an empty model.
	EmbeddingModel string
}

// Provider wraps the OpenAI API behind the provider contract.
type Provider struct {
	client openai.Client
	opts   Options
}

var _ provider.Provider = (*Provider)(nil)

// New creates an OpenAI provider using the official client. Credentials
// come from the environment unless overridden via options.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{EmbeddingModel: "text-embedding-3-small"}
	for _, fn := range optFns {
		fn(&opts)
	}
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Provider{client: openai.NewClient(reqOpts...), opts: opts}
}

// NewFromClient creates an OpenAI provider from an existing client.
func NewFromClient(client openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{EmbeddingModel: "text-embedding-3-small"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Name returns the registry identifier.
func (p *Provider) Name() string { return Name }

// buildMessages converts the normalized transcript into OpenAI chat
// messages. Tool results live on the tool-call message itself, so each
// settled call is followed by a tool-role message carrying its serialized
// result.
func buildMessages(messages []core.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch msg := m.(type) {
		case core.SystemMessage:
			out = append(out, openai.SystemMessage(msg.Content))
		case core.UserMessage:
			out = append(out, openai.UserMessage(core.MessageText(msg)))
		case core.AssistantMessage:
			out = append(out, openai.AssistantMessage(msg.Content))
		case *core.ToolCallMessage:
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for i := range msg.ToolCalls {
				call := &msg.ToolCalls[i]
				args, err := json.Marshal(call.Request.Arguments)
				if err != nil {
					return nil, fmt.Errorf("marshal arguments for call %s: %w", call.ID, err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   call.Request.CallID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Request.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
			for i := range msg.ToolCalls {
				call := &msg.ToolCalls[i]
				if !call.Settled() {
					continue
				}
				out = append(out, openai.ToolMessage(serializeOutcome(call), call.Request.CallID))
			}
		default:
			return nil, fmt.Errorf("unknown message type %T", m)
		}
	}
	return out, nil
}

// serializeOutcome renders a settled call's result (or error) for the model.
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

// buildParams assembles the request parameters including tool definitions.
func buildParams(model string, messages []openai.ChatCompletionMessageParamUnion, cfg provider.Config) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    model,
	}
	if cfg.Temperature != nil {
		params.Temperature = openai.Float(*cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(cfg.MaxTokens))
	}
	if cfg.JSONOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if cfg.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(cfg.ReasoningEffort)
	}
	if len(cfg.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(cfg.Tools))
		for i, tdef := range cfg.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Name,
					Description: openai.String(tdef.Description),
					Parameters:  tdef.Parameters,
				},
			}
		}
		params.Tools = tools
		if cfg.ToolChoice != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(string(cfg.ToolChoice)),
			}
		}
	}
	return params
}

// GenerateResponse performs a single non-streaming completion.
func (p *Provider) GenerateResponse(ctx context.Context, model string, messages []core.Message, cfg provider.Config) (*provider.Response, error) {
	built, err := buildMessages(messages)
	if err != nil {
		return nil, err
	}
	params := buildParams(model, built, cfg)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	choice := resp.Choices[0]
	out := &provider.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: core.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args, derr := core.DecodeArguments(tc.Function.Arguments)
		if derr != nil {
			return nil, fmt.Errorf("decode arguments for call %s: %w", tc.ID, derr)
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCallRequest{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// GenerateResponseStream streams a completion, emitting content deltas as
// they arrive and a final done delta carrying reconstructed tool calls,
// token usage and the finish reason.
func (p *Provider) GenerateResponseStream(ctx context.Context, model string, messages []core.Message, cfg provider.Config) (<-chan provider.StreamDelta, <-chan error) {
	out := make(chan provider.StreamDelta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		built, err := buildMessages(messages)
		if err != nil {
			errCh <- err
			return
		}
		params := buildParams(model, built, cfg)
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		toolAgg := map[int64]*aggCall{}
		aggOrder := []int64{}
		var usage core.TokenUsage
		finishReason := ""

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = core.TokenUsage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- provider.StreamDelta{Content: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
						aggOrder = append(aggOrder, tc.Index)
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					if tc.Function.Arguments != "" {
						ac.args += tc.Function.Arguments
					}
				}
				if choice.FinishReason != "" {
					finishReason = string(choice.FinishReason)
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
			return
		}

		final := provider.StreamDelta{Done: true, Usage: &usage, FinishReason: finishReason}
		for _, idx := range aggOrder {
			ac := toolAgg[idx]
			args, derr := core.DecodeArguments(ac.args)
			if derr != nil {
				errCh <- fmt.Errorf("decode arguments for call %s: %w", ac.id, derr)
				return
			}
			final.ToolCalls = append(final.ToolCalls, core.ToolCallRequest{
				CallID:    ac.id,
				Name:      ac.name,
				Arguments: args,
			})
		}
		out <- final
	}()

	return out, errCh
}

// CreateEmbedding embeds a single text. An empty model falls back to the
// configured embedding model.
func (p *Provider) CreateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	if model == "" {
		model = p.opts.EmbeddingModel
	}
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

// AvailableModels lists the model identifiers visible to the credential.
func (p *Provider) AvailableModels(ctx context.Context) ([]string, error) {
	var names []string
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai model list error: %w", err)
	}
	for page != nil {
		for _, m := range page.Data {
			names = append(names, m.ID)
		}
		page, err = page.GetNextPage()
		if err != nil {
			return nil, fmt.Errorf("openai model list error: %w", err)
		}
	}
	return names, nil
}
