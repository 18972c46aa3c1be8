// Package ollama adapts a local or remote Ollama server to the provider
// capability contract via the official api client.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/provider"
)

// Name identifies this provider in the registry.
const Name = "ollama"

// Options configure the Ollama provider adapter.
type Options struct {
	// Host overrides the server address; empty uses OLLAMA_HOST or the
	// default localhost endpoint.
	Host string
	// HTTPClient overrides the transport used with a custom host.
	HTTPClient *http.Client
}

// Provider wraps the Ollama chat API behind the provider contract.
type Provider struct {
	client *api.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Ollama provider. Without a host option the client is
// configured from the environment.
func New(optFns ...func(o *Options)) (*Provider, error) {
	opts := Options{HTTPClient: http.DefaultClient}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client from environment: %w", err)
		}
		return &Provider{client: client}, nil
	}

	baseURL, err := parseHost(opts.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	return &Provider{client: api.NewClient(baseURL, opts.HTTPClient)}, nil
}

// NewFromClient creates an Ollama provider from an existing api client.
func NewFromClient(client *api.Client) *Provider {
	return &Provider{client: client}
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Name returns the registry identifier.
func (p *Provider) Name() string { return Name }

// buildRequest maps the normalized transcript onto an Ollama chat request.
func buildRequest(model string, messages []core.Message, cfg provider.Config, stream bool) (*api.ChatRequest, error) {
	var msgs []api.Message
	for _, m := range messages {
		switch msg := m.(type) {
		case core.SystemMessage:
			msgs = append(msgs, api.Message{Role: "system", Content: msg.Content})
		case core.UserMessage:
			msgs = append(msgs, api.Message{Role: "user", Content: core.MessageText(msg)})
		case core.AssistantMessage:
			msgs = append(msgs, api.Message{Role: "assistant", Content: msg.Content})
		case *core.ToolCallMessage:
			assistant := api.Message{Role: "assistant", Content: msg.Content}
			for i := range msg.ToolCalls {
				call := &msg.ToolCalls[i]
				assistant.ToolCalls = append(assistant.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      call.Request.Name,
						Arguments: api.ToolCallFunctionArguments(call.Request.Arguments),
					},
				})
			}
			msgs = append(msgs, assistant)
			for i := range msg.ToolCalls {
				call := &msg.ToolCalls[i]
				if !call.Settled() {
					continue
				}
				msgs = append(msgs, api.Message{Role: "tool", Content: serializeOutcome(call)})
			}
		default:
			return nil, fmt.Errorf("unknown message type %T", m)
		}
	}

	req := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if cfg.Temperature != nil {
		req.Options["temperature"] = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		req.Options["num_predict"] = cfg.MaxTokens
	}
	if cfg.JSONOutput {
		req.Format = []byte(`"json"`)
	}
	if len(cfg.Tools) > 0 {
		tools, err := buildTools(cfg.Tools)
		if err != nil {
			return nil, err
		}
		req.Tools = tools
	}
	return req, nil
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

// buildTools converts tool definitions into the Ollama tool format. Only
// the property type and description survive the conversion; richer schema
// constraints are validated engine-side before execution.
func buildTools(tools []provider.ToolDefinition) ([]api.Tool, error) {
	out := make([]api.Tool, 0, len(tools))
	for _, tdef := range tools {
		properties := map[string]api.ToolProperty{}
		var required []string
		if tdef.Parameters != nil {
			if props, ok := tdef.Parameters["properties"].(map[string]any); ok {
				for name, raw := range props {
					prop := api.ToolProperty{Type: []string{"string"}}
					if pm, ok := raw.(map[string]any); ok {
						if pt, ok := pm["type"].(string); ok {
							prop.Type = []string{pt}
						}
						if desc, ok := pm["description"].(string); ok {
							prop.Description = desc
						}
					}
					properties[name] = prop
				}
			}
			switch req := tdef.Parameters["required"].(type) {
			case []string:
				required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						required = append(required, s)
					}
				}
			}
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tdef.Name,
				Description: tdef.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return out, nil
}

func toolCallRequests(calls []api.ToolCall) []core.ToolCallRequest {
	var out []core.ToolCallRequest
	for i, tc := range calls {
		out = append(out, core.ToolCallRequest{
			// Ollama assigns no call ids; synthesize stable ones.
			CallID:    fmt.Sprintf("call_%d_%s", i, tc.Function.Name),
			Name:      tc.Function.Name,
			Arguments: map[string]any(tc.Function.Arguments),
		})
	}
	return out
}

// GenerateResponse performs a single non-streaming chat request.
func (p *Provider) GenerateResponse(ctx context.Context, model string, messages []core.Message, cfg provider.Config) (*provider.Response, error) {
	req, err := buildRequest(model, messages, cfg, false)
	if err != nil {
		return nil, err
	}

	var final api.ChatResponse
	if err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		final = resp
		return nil
	}); err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	return &provider.Response{
		Content:      final.Message.Content,
		ToolCalls:    toolCallRequests(final.Message.ToolCalls),
		FinishReason: final.DoneReason,
		Usage: core.TokenUsage{
			InputTokens:  final.PromptEvalCount,
			OutputTokens: final.EvalCount,
		},
	}, nil
}

// GenerateResponseStream streams a chat request. Ollama delivers tool calls
// and token counts on the final chunk, which maps directly onto the done
// delta.
func (p *Provider) GenerateResponseStream(ctx context.Context, model string, messages []core.Message, cfg provider.Config) (<-chan provider.StreamDelta, <-chan error) {
	out := make(chan provider.StreamDelta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		req, err := buildRequest(model, messages, cfg, true)
		if err != nil {
			errCh <- err
			return
		}

		var toolCalls []api.ToolCall
		var usage core.TokenUsage
		doneReason := ""

		if err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				out <- provider.StreamDelta{Content: resp.Message.Content}
			}
			if resp.Message.Thinking != "" {
				out <- provider.StreamDelta{Reasoning: resp.Message.Thinking}
			}
			if len(resp.Message.ToolCalls) > 0 {
				toolCalls = append(toolCalls, resp.Message.ToolCalls...)
			}
			if resp.Done {
				usage = core.TokenUsage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}
				doneReason = resp.DoneReason
			}
			return nil
		}); err != nil {
			errCh <- fmt.Errorf("ollama chat error: %w", err)
			return
		}

		out <- provider.StreamDelta{
			Done:         true,
			ToolCalls:    toolCallRequests(toolCalls),
			Usage:        &usage,
			FinishReason: doneReason,
		}
	}()

	return out, errCh
}

// CreateEmbedding embeds a single text via the embed endpoint.
func (p *Provider) CreateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed error: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama: no embedding returned")
	}
	vec := make([]float64, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		vec[i] = float64(v)
	}
	return vec, nil
}

// AvailableModels lists the locally available model names.
func (p *Provider) AvailableModels(ctx context.Context) ([]string, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama model list error: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
