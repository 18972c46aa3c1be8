package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// MockProvider is a lightweight in-memory Provider for tests and examples.
// Responses are served from a scripted queue first (consumed in order), then
// from prompt-keyed canned responses, then from a generic echo.
type MockProvider struct {
	name string

	mu        sync.Mutex
	scripted  []*Response
	responses map[string]string

	// streaming failure injection: emit failAfter content chunks, then fail.
	failAfter int
	failWith  error

	chunkDelay time.Duration
	models     []string
}

// MockOptions configures a MockProvider.
type MockOptions struct {
	// Name reported by the provider (defaults to "mock").
	Name string
	// ChunkDelay inserts a pause between streamed chunks, giving
	// cancellation tests a window to fire mid-stream.
	ChunkDelay time.Duration
	// Models reported by AvailableModels.
	Models []string
}

// NewMockProvider constructs a mock provider.
func NewMockProvider(optFns ...func(o *MockOptions)) *MockProvider {
	opts := MockOptions{Name: "mock", Models: []string{"mock-small", "mock-large"}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &MockProvider{
		name:      opts.Name,
		responses: map[string]string{},
		models:    opts.Models,

		chunkDelay: opts.ChunkDelay,
	}
}

// Name implements Provider.
func (m *MockProvider) Name() string { return m.name }

// AddResponse registers a canned completion for an exact input prompt.
func (m *MockProvider) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends a scripted response served before any canned responses.
func (m *MockProvider) Enqueue(resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, resp)
}

// EnqueueText is shorthand for scripting a plain assistant response.
func (m *MockProvider) EnqueueText(text string) {
	m.Enqueue(&Response{Content: text, Usage: core.TokenUsage{InputTokens: 10, OutputTokens: 5}, FinishReason: "stop"})
}

// EnqueueToolCall is shorthand for scripting a tool call response.
func (m *MockProvider) EnqueueToolCall(name string, args map[string]any) {
	m.Enqueue(&Response{
		ToolCalls:    []core.ToolCallRequest{{CallID: fmt.Sprintf("call_%s", name), Name: name, Arguments: args}},
		Usage:        core.TokenUsage{InputTokens: 10, OutputTokens: 5},
		FinishReason: "tool_calls",
	})
}

// FailStreamAfter injects a provider error after n content chunks.
func (m *MockProvider) FailStreamAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.failWith = err
}

func (m *MockProvider) next(messages []core.Message) *Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.scripted) > 0 {
		resp := m.scripted[0]
		m.scripted = m.scripted[1:]
		return resp
	}
	var input string
	for i := len(messages) - 1; i >= 0; i-- {
		if um, ok := messages[i].(core.UserMessage); ok {
			input = um.Text()
			break
		}
	}
	text := m.responses[input]
	if text == "" {
		text = fmt.Sprintf("Mock response to: %s", input)
	}
	return &Response{Content: text, Usage: core.TokenUsage{InputTokens: 10, OutputTokens: 5}, FinishReason: "stop"}
}

// GenerateResponse implements Provider.
func (m *MockProvider) GenerateResponse(ctx context.Context, model string, messages []core.Message, _ Config) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	return m.next(messages), nil
}

// GenerateResponseStream implements Provider; the scripted content is split
// into rune chunks followed by a final delta.
func (m *MockProvider) GenerateResponseStream(ctx context.Context, model string, messages []core.Message, _ Config) (<-chan StreamDelta, <-chan error) {
	out := make(chan StreamDelta, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if len(messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}

		resp := m.next(messages)

		m.mu.Lock()
		failAfter, failWith := m.failAfter, m.failWith
		delay := m.chunkDelay
		m.mu.Unlock()

		emitted := 0
		for _, r := range resp.Content {
			if failWith != nil && emitted >= failAfter {
				errCh <- failWith
				return
			}
			if delay > 0 {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-time.After(delay):
				}
			} else if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- StreamDelta{Content: string(r)}:
				emitted++
			}
		}
		if failWith != nil && emitted >= failAfter {
			errCh <- failWith
			return
		}

		usage := resp.Usage
		out <- StreamDelta{
			Done:         true,
			ToolCalls:    resp.ToolCalls,
			Usage:        &usage,
			FinishReason: resp.FinishReason,
		}
	}()

	return out, errCh
}

// CreateEmbedding implements Provider with a deterministic toy embedding.
func (m *MockProvider) CreateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, 8)
	for i, r := range text {
		vec[i%8] += float64(r) / 1000
	}
	return vec, nil
}

// AvailableModels implements Provider.
func (m *MockProvider) AvailableModels(_ context.Context) ([]string, error) {
	return append([]string(nil), m.models...), nil
}
