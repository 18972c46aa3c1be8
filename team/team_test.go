package team

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/generation"
	"github.com/hupe1980/taskmesh/provider"
	"github.com/hupe1980/taskmesh/task"
	"github.com/hupe1980/taskmesh/tool"
)

type fixture struct {
	team  *Team
	mock  *provider.MockProvider
	kit   *tool.Kit
	store *task.InMemoryStore
}

func newFixture(t *testing.T, agents []*agent.Agent, tools []*tool.Tool, optFns ...func(o *Options)) *fixture {
	t.Helper()

	mock := provider.NewMockProvider()
	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterProvider(mock))
	require.NoError(t, registry.RegisterModel("mock-small", "mock", true))
	engine := generation.NewEngine(registry)

	agentReg := agent.NewRegistry()
	for _, a := range agents {
		require.NoError(t, agentReg.Register(a))
	}

	kit, err := tool.NewKit(tools...)
	require.NoError(t, err)

	store := task.NewInMemoryStore()
	opts := append([]func(o *Options){func(o *Options) { o.Store = store }}, optFns...)
	return &fixture{
		team:  New(agentReg, kit, engine, opts...),
		mock:  mock,
		kit:   kit,
		store: store,
	}
}

func simpleAgent(name string) *agent.Agent {
	return &agent.Agent{
		Name:                  name,
		Description:           "a test persona",
		SystemMessageTemplate: "You are " + name + ".",
	}
}

func TestSingleAgentTask(t *testing.T) {
	f := newFixture(t, []*agent.Agent{simpleAgent("assistant")}, nil)
	f.mock.EnqueueText("Paris")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "What is the capital of France?")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, "Paris", exec.Result())
	assert.Equal(t, 1, exec.Stats.Generations)
	assert.Equal(t, 0, exec.Stats.Delegations)
	assert.Len(t, exec.MainThread().Messages, 2)
}

func TestCreateTaskUnknownAgent(t *testing.T) {
	f := newFixture(t, []*agent.Agent{simpleAgent("assistant")}, nil)

	_, err := f.team.CreateTask(context.Background(), "stranger", "hello")
	assert.Error(t, err)
}

func TestFunctionToolTask(t *testing.T) {
	var calls int
	lookup := tool.NewFunctionTool("lookup", "looks things up", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		calls++
		return map[string]any{"weather": "sunny"}, nil
	})

	a := simpleAgent("assistant")
	a.AllowedTools = []string{"lookup"}
	f := newFixture(t, []*agent.Agent{a}, []*tool.Tool{lookup})
	f.mock.EnqueueToolCall("lookup", map[string]any{"city": "Berlin"})
	f.mock.EnqueueText("It is sunny in Berlin.")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "Weather in Berlin?")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, "It is sunny in Berlin.", exec.Result())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, exec.Stats.Generations)

	// Transcript: user, settled tool-call message, final assistant turn.
	messages := exec.MainThread().Messages
	require.Len(t, messages, 3)
	toolMsg, ok := messages[1].(*core.ToolCallMessage)
	require.True(t, ok)
	assert.Equal(t, core.ExecutionCompleted, toolMsg.ToolCalls[0].Execution)

	// The tool invocation is on the audit trail.
	var sawToolUse bool
	for _, ev := range exec.Events() {
		if ev.Kind == task.EventToolUse {
			sawToolUse = true
			assert.Equal(t, "lookup", ev.ToolName)
		}
	}
	assert.True(t, sawToolUse)
}

func TestDelegationRoundTrip(t *testing.T) {
	coordinator := simpleAgent("coordinator")
	coordinator.CanDelegateTo = []string{"researcher"}
	researcher := simpleAgent("researcher")

	f := newFixture(t, []*agent.Agent{coordinator, researcher}, nil)
	f.mock.EnqueueToolCall(tool.DelegateToolName, map[string]any{
		"agentName":       "researcher",
		"taskDescription": "Find three sources on Go generics.",
	})
	f.mock.EnqueueText("Found: blog A, talk B, paper C.")
	f.mock.EnqueueText("Here is a summary of three sources.")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "coordinator", "Summarize sources on Go generics.")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, "Here is a summary of three sources.", exec.Result())
	assert.Equal(t, 3, exec.Stats.Generations)
	assert.Equal(t, 1, exec.Stats.Delegations)

	// The cursor is back on the main thread, the child preserved.
	assert.Equal(t, task.MainThreadID, exec.ActiveThreadID())
	require.Len(t, exec.ThreadIDs(), 2)

	// The originating call was rewritten with the child's result.
	toolMsg, ok := exec.MainThread().Messages[1].(*core.ToolCallMessage)
	require.True(t, ok)
	call := toolMsg.ToolCalls[0]
	assert.Equal(t, core.ExecutionCompleted, call.Execution)
	result, ok := call.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Found: blog A, talk B, paper C.", result["message"])
	assert.NotEmpty(t, result["conversationId"])

	childID := result["conversationId"].(string)
	child, ok := exec.Thread(childID)
	require.True(t, ok)
	assert.Equal(t, "researcher", child.AgentID)
	assert.Equal(t, task.MainThreadID, child.ParentThreadID)

	// Audit trail covers delegation out and the return hand-off.
	kinds := map[task.EventKind]int{}
	for _, ev := range exec.Events() {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 1, kinds[task.EventDelegation])
	assert.Equal(t, 1, kinds[task.EventThreadChange])
	assert.Equal(t, 3, kinds[task.EventGeneration])
}

func TestDelegationNotAllowed(t *testing.T) {
	coordinator := simpleAgent("coordinator")
	researcher := simpleAgent("researcher")

	// No delegate allow-list: the call must fail without spawning.
	f := newFixture(t, []*agent.Agent{coordinator, researcher}, nil)
	f.mock.EnqueueToolCall(tool.DelegateToolName, map[string]any{
		"agentName":       "researcher",
		"taskDescription": "anything",
	})
	f.mock.EnqueueText("I cannot delegate that.")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "coordinator", "delegate this")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, 0, exec.Stats.Delegations)
	assert.Len(t, exec.ThreadIDs(), 1)

	toolMsg := exec.MainThread().Messages[1].(*core.ToolCallMessage)
	require.NotNil(t, toolMsg.ToolCalls[0].Error)
	assert.Equal(t, core.ErrorTypeDelegateNotAvailable, toolMsg.ToolCalls[0].Error.Type)
}

func TestDelegationMissingArguments(t *testing.T) {
	coordinator := simpleAgent("coordinator")
	coordinator.CanDelegateTo = []string{"researcher"}
	researcher := simpleAgent("researcher")

	f := newFixture(t, []*agent.Agent{coordinator, researcher}, nil)
	f.mock.EnqueueToolCall(tool.DelegateToolName, map[string]any{"agentName": "researcher"})
	f.mock.EnqueueText("recovered")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "coordinator", "delegate this")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	toolMsg := exec.MainThread().Messages[1].(*core.ToolCallMessage)
	require.NotNil(t, toolMsg.ToolCalls[0].Error)
	assert.Equal(t, core.ErrorTypeMissingArguments, toolMsg.ToolCalls[0].Error.Type)
	assert.Equal(t, 0, exec.Stats.Delegations)
}

func TestTransfer(t *testing.T) {
	writer := simpleAgent("writer")
	writer.CanTransferTo = []string{"editor"}
	editor := simpleAgent("editor")

	f := newFixture(t, []*agent.Agent{writer, editor}, nil)
	f.mock.EnqueueToolCall(tool.TransferToolName, map[string]any{"agentName": "editor"})
	f.mock.EnqueueText("Polished final text.")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "writer", "Write and polish a paragraph.")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, "Polished final text.", exec.Result())

	// The main thread changed hands; no sub-thread was created.
	assert.Equal(t, "editor", exec.MainThread().AgentID)
	assert.Len(t, exec.ThreadIDs(), 1)

	toolMsg := exec.MainThread().Messages[1].(*core.ToolCallMessage)
	call := toolMsg.ToolCalls[0]
	assert.Equal(t, core.ExecutionCompleted, call.Execution)
	assert.Equal(t, map[string]any{"transferredTo": "editor"}, call.Result)

	var sawTransfer bool
	for _, ev := range exec.Events() {
		if ev.Kind == task.EventTransfer {
			sawTransfer = true
			assert.Equal(t, "writer", ev.FromAgent)
			assert.Equal(t, "editor", ev.ToAgent)
		}
	}
	assert.True(t, sawTransfer)
}

func TestApprovalHaltAndResume(t *testing.T) {
	var calls int
	deploy := tool.NewFunctionTool("deploy", "ships a release", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		calls++
		return "shipped", nil
	})
	deploy.RequiresConfirmation = true

	a := simpleAgent("assistant")
	a.AllowedTools = []string{"deploy"}
	f := newFixture(t, []*agent.Agent{a}, []*tool.Tool{deploy})
	f.mock.EnqueueToolCall("deploy", map[string]any{"version": "1.2.3"})
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "Ship version 1.2.3.")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	// Halted on the gate without executing anything.
	assert.Equal(t, task.StatusHalted, exec.Status())
	assert.Equal(t, task.HaltApprovalRequired, exec.HaltReason())
	assert.True(t, exec.Resumable())
	assert.Equal(t, 0, calls)

	// Approve and run to completion.
	require.NoError(t, f.team.ApproveToolCalls(exec))
	f.mock.EnqueueText("Release 1.2.3 is live.")
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, "Release 1.2.3 is live.", exec.Result())
	assert.Equal(t, 1, calls)
}

func TestRejectionResume(t *testing.T) {
	var calls int
	deploy := tool.NewFunctionTool("deploy", "ships a release", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		calls++
		return "shipped", nil
	})
	deploy.RequiresConfirmation = true

	a := simpleAgent("assistant")
	a.AllowedTools = []string{"deploy"}
	f := newFixture(t, []*agent.Agent{a}, []*tool.Tool{deploy})
	f.mock.EnqueueToolCall("deploy", nil)
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "Ship it.")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))
	require.Equal(t, task.HaltApprovalRequired, exec.HaltReason())

	require.NoError(t, f.team.RejectToolCalls(exec))
	f.mock.EnqueueText("Understood, not shipping.")
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	// The rejection is visible to the model as an explicit outcome; the
	// executor never ran.
	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, 0, calls)

	toolMsg := exec.MainThread().Messages[1].(*core.ToolCallMessage)
	result, ok := toolMsg.ToolCalls[0].Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["rejected"])
}

func TestMaxIterations(t *testing.T) {
	a := simpleAgent("assistant")
	a.AllowedTools = []string{"lookup"}
	lookup := tool.NewFunctionTool("lookup", "looks things up", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		return "found", nil
	})

	f := newFixture(t, []*agent.Agent{a}, []*tool.Tool{lookup}, func(o *Options) {
		o.Limits.MaxIterations = 2
	})
	f.mock.EnqueueToolCall("lookup", nil)
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "Keep looking things up.")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	// Iteration 1 generated, iteration 2 processed tools, then the cap hit.
	assert.Equal(t, task.StatusHalted, exec.Status())
	assert.Equal(t, task.HaltMaxIterations, exec.HaltReason())
	assert.True(t, exec.Resumable())
}

func TestMaxGenerations(t *testing.T) {
	f := newFixture(t, []*agent.Agent{simpleAgent("assistant")}, nil, func(o *Options) {
		o.Limits.MaxGenerations = 1
	})
	f.mock.EnqueueText("first answer")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "question")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusHalted, exec.Status())
	assert.Equal(t, task.HaltMaxGenerations, exec.HaltReason())
}

func TestMaxDelegations(t *testing.T) {
	coordinator := simpleAgent("coordinator")
	coordinator.CanDelegateTo = []string{"researcher"}
	researcher := simpleAgent("researcher")

	f := newFixture(t, []*agent.Agent{coordinator, researcher}, nil, func(o *Options) {
		o.Limits.MaxDelegations = 1
	})
	f.mock.EnqueueToolCall(tool.DelegateToolName, map[string]any{
		"agentName":       "researcher",
		"taskDescription": "research",
	})
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "coordinator", "delegate away")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusHalted, exec.Status())
	assert.Equal(t, task.HaltMaxDelegations, exec.HaltReason())
}

func TestToolCallBudget(t *testing.T) {
	var calls int
	lookup := tool.NewFunctionTool("lookup", "looks things up", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		calls++
		return "found", nil
	})

	a := simpleAgent("assistant")
	a.AllowedTools = []string{"lookup"}
	f := newFixture(t, []*agent.Agent{a}, []*tool.Tool{lookup}, func(o *Options) {
		o.Limits.MaxToolCalls = 1
	})
	f.mock.Enqueue(&provider.Response{
		ToolCalls: []core.ToolCallRequest{
			{CallID: "call_1", Name: "lookup", Arguments: map[string]any{"q": "a"}},
			{CallID: "call_2", Name: "lookup", Arguments: map[string]any{"q": "b"}},
			{CallID: "call_3", Name: "lookup", Arguments: map[string]any{"q": "c"}},
		},
		FinishReason: "tool_calls",
	})
	f.mock.EnqueueText("done")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "three lookups please")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	// Only the first call ran; the rest were failed, not executed.
	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, 1, calls)

	toolMsg, ok := exec.MainThread().Messages[1].(*core.ToolCallMessage)
	require.True(t, ok)
	assert.Equal(t, core.ExecutionCompleted, toolMsg.ToolCalls[0].Execution)
	for _, call := range toolMsg.ToolCalls[1:] {
		assert.Equal(t, core.ExecutionError, call.Execution)
		require.NotNil(t, call.Error)
		assert.Equal(t, core.ErrorTypeBudgetExceeded, call.Error.Type)
		assert.Contains(t, call.Error.Message, "tool call budget of 1")
	}
}

func TestToolCallErrorBudget(t *testing.T) {
	var calls int
	boom := tool.NewFunctionTool("boom", "always fails", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		calls++
		return nil, errors.New("kaput")
	})

	a := simpleAgent("assistant")
	a.AllowedTools = []string{"boom"}
	f := newFixture(t, []*agent.Agent{a}, []*tool.Tool{boom}, func(o *Options) {
		o.Limits.MaxToolCallErrors = 1
	})
	f.mock.Enqueue(&provider.Response{
		ToolCalls: []core.ToolCallRequest{
			{CallID: "call_1", Name: "boom", Arguments: map[string]any{}},
			{CallID: "call_2", Name: "boom", Arguments: map[string]any{}},
		},
		FinishReason: "tool_calls",
	})
	f.mock.EnqueueText("giving up")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "try twice")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	assert.Equal(t, task.StatusCompleted, exec.Status())
	assert.Equal(t, 1, calls)

	toolMsg, ok := exec.MainThread().Messages[1].(*core.ToolCallMessage)
	require.True(t, ok)
	require.NotNil(t, toolMsg.ToolCalls[0].Error)
	assert.Equal(t, core.ErrorTypeExecution, toolMsg.ToolCalls[0].Error.Type)
	require.NotNil(t, toolMsg.ToolCalls[1].Error)
	assert.Equal(t, core.ErrorTypeBudgetExceeded, toolMsg.ToolCalls[1].Error.Type)
	assert.Contains(t, toolMsg.ToolCalls[1].Error.Message, "tool error budget of 1")
}

func TestResumeInvalidState(t *testing.T) {
	f := newFixture(t, []*agent.Agent{simpleAgent("assistant")}, nil)
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "question")
	require.NoError(t, err)

	// A system message is never a valid latest turn.
	exec.MainThread().Append(core.NewSystemMessage("stray"))
	require.NoError(t, exec.Run())
	require.NoError(t, f.team.ResumeTask(ctx, exec))

	assert.Equal(t, task.StatusHalted, exec.Status())
	assert.Equal(t, task.HaltInvalidState, exec.HaltReason())
}

func TestExecuteTaskSkipsCompleted(t *testing.T) {
	f := newFixture(t, []*agent.Agent{simpleAgent("assistant")}, nil)
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "question")
	require.NoError(t, err)
	exec.Complete()

	// No queued responses: an attempted generation would fail the test.
	require.NoError(t, f.team.ExecuteTask(ctx, exec))
	assert.Equal(t, task.StatusCompleted, exec.Status())
}

func TestPersistenceAndLoad(t *testing.T) {
	f := newFixture(t, []*agent.Agent{simpleAgent("assistant")}, nil)
	f.mock.EnqueueText("persisted answer")
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "question")
	require.NoError(t, err)
	require.NoError(t, f.team.ExecuteTask(ctx, exec))

	loaded, err := f.team.LoadTask(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, loaded.Status())
	assert.Equal(t, "persisted answer", loaded.Result())
	assert.Equal(t, exec.Stats, loaded.Stats)

	_, err = f.team.LoadTask(ctx, "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestApproveToolCallsWithoutBatch(t *testing.T) {
	f := newFixture(t, []*agent.Agent{simpleAgent("assistant")}, nil)
	ctx := context.Background()

	exec, err := f.team.CreateTask(ctx, "assistant", "question")
	require.NoError(t, err)

	assert.Error(t, f.team.ApproveToolCalls(exec))
	assert.Error(t, f.team.RejectToolCalls(exec))
}
