package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/hupe1980/taskmesh/provider"
	"github.com/hupe1980/taskmesh/tool"
)

func newTestEngine(t *testing.T, optFns ...func(o *Options)) (*Engine, *provider.MockProvider) {
	t.Helper()
	mock := provider.NewMockProvider()
	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterProvider(mock))
	require.NoError(t, registry.RegisterModel("mock-small", "mock", true))
	return NewEngine(registry, optFns...), mock
}

func counterTool(calls *int) *tool.Tool {
	return tool.NewFunctionTool("counter", "counts invocations", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		*calls++
		return map[string]any{"count": *calls}, nil
	})
}

func TestGenerate(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.EnqueueText("the answer")

	res, err := engine.Generate(context.Background(), testutil.Transcript("question"), Config{})
	require.NoError(t, err)

	assert.Equal(t, "the answer", res.Text())
	assert.Equal(t, core.StopCompleted, res.StopReason)
	assert.Len(t, res.Messages, 2)
	assert.Equal(t, core.RoleAssistant, res.Message.Role())
	require.Len(t, res.Generations, 1)
	assert.Equal(t, "mock-small", res.Generations[0].Model)
	assert.Equal(t, "mock", res.Metadata.Provider)
	assert.Equal(t, 10, res.Metadata.InputTokens)
	assert.Equal(t, 5, res.Metadata.OutputTokens)
}

func TestGenerateUnknownModel(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Generate(context.Background(), testutil.Transcript("question"), Config{Model: "ghost"})
	assert.Error(t, err)
}

func TestGenerateToolCallMessage(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.EnqueueToolCall("lookup", map[string]any{"q": "go"})

	kit, err := tool.NewKit()
	require.NoError(t, err)

	res, err := engine.Generate(context.Background(), testutil.Transcript("question"), Config{Kit: kit})
	require.NoError(t, err)

	toolMsg, ok := res.Message.(*core.ToolCallMessage)
	require.True(t, ok)
	require.Len(t, toolMsg.ToolCalls, 1)
	assert.Equal(t, "lookup", toolMsg.ToolCalls[0].Request.Name)
	assert.Equal(t, core.ExecutionPending, toolMsg.ToolCalls[0].Execution)
	assert.Equal(t, core.ApprovalNotRequired, toolMsg.ToolCalls[0].Approval)
}

func TestGenerateAppliesConfirmationGate(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.EnqueueToolCall("deploy", nil)

	gated := tool.NewFunctionTool("deploy", "ships a release", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		return "shipped", nil
	})
	gated.RequiresConfirmation = true
	kit, err := tool.NewKit(gated)
	require.NoError(t, err)

	res, err := engine.Generate(context.Background(), testutil.Transcript("ship it"), Config{Kit: kit})
	require.NoError(t, err)

	toolMsg := res.Message.(*core.ToolCallMessage)
	assert.Equal(t, core.ApprovalRequired, toolMsg.ToolCalls[0].Approval)
}

func TestGenerateCancelled(t *testing.T) {
	engine, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Generate(ctx, testutil.Transcript("question"), Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestGenerateAndProcessTools(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.EnqueueToolCall("counter", nil)
	mock.EnqueueText("done after one tool round")

	var calls int
	kit, err := tool.NewKit(counterTool(&calls))
	require.NoError(t, err)

	res, err := engine.GenerateAndProcessTools(context.Background(), testutil.Transcript("count once"), Config{Kit: kit})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, core.StopCompleted, res.StopReason)
	assert.Equal(t, "done after one tool round", res.Text())

	// Transcript: user, tool-call message, final assistant message.
	require.Len(t, res.Messages, 3)
	toolMsg, ok := res.Messages[1].(*core.ToolCallMessage)
	require.True(t, ok)
	assert.Equal(t, core.ExecutionCompleted, toolMsg.ToolCalls[0].Execution)

	// Usage is summed across both model calls.
	assert.Len(t, res.Generations, 2)
	assert.Equal(t, 20, res.Metadata.InputTokens)
	assert.Equal(t, 10, res.Metadata.OutputTokens)
}

func TestGenerateAndProcessToolsWithoutKit(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.EnqueueText("plain")

	res, err := engine.GenerateAndProcessTools(context.Background(), testutil.Transcript("question"), Config{})
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Text())
}

func TestGenerateAndProcessToolsApprovalStop(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.EnqueueToolCall("deploy", nil)

	var calls int
	gated := tool.NewFunctionTool("deploy", "ships a release", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		calls++
		return "shipped", nil
	})
	gated.RequiresConfirmation = true
	kit, err := tool.NewKit(gated)
	require.NoError(t, err)

	res, err := engine.GenerateAndProcessTools(context.Background(), testutil.Transcript("ship it"), Config{Kit: kit})
	require.NoError(t, err)

	assert.Equal(t, core.StopToolApprovalRequired, res.StopReason)
	assert.Equal(t, 0, calls)

	toolMsg, ok := res.Message.(*core.ToolCallMessage)
	require.True(t, ok)
	assert.True(t, toolMsg.ToolCalls[0].AwaitingApproval())
}

func TestGenerateAndProcessToolsAutoApprove(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.EnqueueToolCall("deploy", nil)
	mock.EnqueueText("shipped and announced")

	var calls int
	gated := tool.NewFunctionTool("deploy", "ships a release", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		calls++
		return "shipped", nil
	})
	gated.RequiresConfirmation = true
	kit, err := tool.NewKit(gated)
	require.NoError(t, err)

	res, err := engine.GenerateAndProcessTools(context.Background(), testutil.Transcript("ship it"), Config{Kit: kit, AutoApprove: true})
	require.NoError(t, err)

	assert.Equal(t, core.StopCompleted, res.StopReason)
	assert.Equal(t, 1, calls)
}

func TestGenerateAndProcessToolsAttemptBudget(t *testing.T) {
	engine, mock := newTestEngine(t)

	// The model keeps asking for tools; the loop must give up. With
	// MaxToolCalls=1 and MaxToolCallErrors=1 the budget is 2 attempts.
	mock.EnqueueToolCall("counter", nil)
	mock.EnqueueToolCall("counter", nil)
	mock.EnqueueToolCall("counter", nil)

	var calls int
	kit, err := tool.NewKit(counterTool(&calls))
	require.NoError(t, err)

	_, err = engine.GenerateAndProcessTools(context.Background(), testutil.Transcript("loop"), Config{
		Kit:               kit,
		MaxToolCalls:      1,
		MaxToolCallErrors: 1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, 2, calls)
}

func TestEngineQuirks(t *testing.T) {
	mock := provider.NewMockProvider()
	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterProvider(mock))
	require.NoError(t, registry.RegisterModel("mock-small", "mock", true))
	registry.SetModelQuirks("mock-small", provider.ModelQuirks{NoTemperature: true, NoSystemMessage: true})

	engine := NewEngine(registry)
	temp := 0.7
	cfg := Config{Temperature: &temp, SystemMessage: "be terse"}

	_, model, pcfg, prelude, err := engine.resolve(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "mock-small", model)
	assert.Nil(t, pcfg.Temperature)
	assert.Empty(t, prelude)
}

func TestEngineDefaults(t *testing.T) {
	temp := 0.2
	engine, _ := newTestEngine(t, func(o *Options) {
		o.Defaults.Temperature = &temp
		o.Defaults.MaxTokens = 512
	})

	cfg := Config{}
	_, _, pcfg, _, err := engine.resolve(&cfg)
	require.NoError(t, err)
	require.NotNil(t, pcfg.Temperature)
	assert.Equal(t, 0.2, *pcfg.Temperature)
	assert.Equal(t, 512, pcfg.MaxTokens)

	// Request values win over defaults.
	override := 0.9
	cfg = Config{Temperature: &override, MaxTokens: 64}
	_, _, pcfg, _, err = engine.resolve(&cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.9, *pcfg.Temperature)
	assert.Equal(t, 64, pcfg.MaxTokens)
}

func TestEngineToolDefinitions(t *testing.T) {
	engine, _ := newTestEngine(t)

	kit, err := tool.NewKit(tool.NewToolDefinition("lookup", "finds things", nil))
	require.NoError(t, err)

	cfg := Config{Kit: kit, AllowedTools: []string{"lookup"}}
	_, _, pcfg, _, err := engine.resolve(&cfg)
	require.NoError(t, err)
	require.Len(t, pcfg.Tools, 1)
	assert.Equal(t, "lookup", pcfg.Tools[0].Name)
	assert.Equal(t, provider.ToolChoiceAuto, pcfg.ToolChoice)
}

func TestEmbed(t *testing.T) {
	engine, _ := newTestEngine(t)

	vec, err := engine.Embed(context.Background(), "mock", "mock-embed", "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	_, err = engine.Embed(context.Background(), "missing", "m", "text")
	assert.Error(t, err)
}
