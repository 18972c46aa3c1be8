// Package team orchestrates multi-agent task execution: it resolves agents,
// drives the resume/execute loop over a task's threads, and implements the
// delegation, transfer and tool-processing transitions between threads.
package team

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/generation"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/task"
	"github.com/hupe1980/taskmesh/tool"
)

// Limits bounds a task execution. Zero values mean unlimited, except
// MaxIterations which defaults to 10.
type Limits struct {
	// MaxIterations caps resume loop iterations per ExecuteTask call.
	MaxIterations int
	// MaxGenerations caps total model calls across the task.
	MaxGenerations int
	// MaxDelegations caps total sub-task spawns across the task.
	MaxDelegations int
	// MaxToolCalls / MaxToolCallErrors bound each tool-call batch: calls
	// beyond an exhausted budget are failed with a budget error rather
	// than executed (0 means unlimited).
	MaxToolCalls      int
	MaxToolCallErrors int
}

// DefaultMaxIterations bounds the resume loop when no limit is configured.
const DefaultMaxIterations = 10

// Options configures Team construction.
type Options struct {
	Logger logging.Logger
	// Store persists task snapshots after every execute step when non-nil.
	Store task.Store
	// Limits bounds every task this team executes.
	Limits Limits
	// Context / SecureContext are passed to tool executors on every
	// invocation. SecureContext never crosses the LLM boundary.
	Context       map[string]any
	SecureContext map[string]any
}

// Team wires an agent registry, a tool kit and a generation engine into a
// task orchestrator. Task executions are not safe for concurrent mutation;
// run one ExecuteTask per task at a time.
type Team struct {
	agents        *agent.Registry
	kit           *tool.Kit
	engine        *generation.Engine
	store         task.Store
	logger        logging.Logger
	limits        Limits
	context       map[string]any
	secureContext map[string]any
}

// New creates a Team.
func New(agents *agent.Registry, kit *tool.Kit, engine *generation.Engine, optFns ...func(o *Options)) *Team {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Limits: Limits{MaxIterations: DefaultMaxIterations},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Limits.MaxIterations <= 0 {
		opts.Limits.MaxIterations = DefaultMaxIterations
	}
	return &Team{
		agents:        agents,
		kit:           kit,
		engine:        engine,
		store:         opts.Store,
		logger:        opts.Logger,
		limits:        opts.Limits,
		context:       opts.Context,
		secureContext: opts.SecureContext,
	}
}

// Agents returns the team's agent registry.
func (t *Team) Agents() *agent.Registry { return t.agents }

// Kit returns the team's tool kit.
func (t *Team) Kit() *tool.Kit { return t.kit }

// CreateTask creates a pending task for the named agent, seeded with the
// prompt as the main thread's user message.
func (t *Team) CreateTask(ctx context.Context, agentName, prompt string) (*task.Execution, error) {
	if !t.agents.Has(agentName) {
		return nil, fmt.Errorf("agent %q is not registered", agentName)
	}
	exec := task.NewExecution(agentName, prompt)
	t.logger.Debug("task created", "task_id", exec.ID, "agent", agentName)
	if err := t.persist(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// LoadTask rehydrates a task from the team's store, re-validating all agent
// and thread references.
func (t *Team) LoadTask(ctx context.Context, id string) (*task.Execution, error) {
	if t.store == nil {
		return nil, fmt.Errorf("team has no task store")
	}
	def, err := t.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return task.FromDefinition(def, t.agents.Has)
}

// ExecuteTask drives the resume loop until the task reaches a terminal
// state or a limit is hit. Limit checks run before each iteration in a
// fixed order: generations, then delegations, then iterations. The task is
// mutated in place and persisted when a store is configured.
func (t *Team) ExecuteTask(ctx context.Context, exec *task.Execution) error {
	if exec.Terminal() && !exec.Resumable() {
		return nil
	}
	if err := exec.Run(); err != nil {
		return err
	}

	for iteration := 0; !exec.Terminal(); iteration++ {
		if t.limits.MaxGenerations > 0 && exec.Stats.Generations >= t.limits.MaxGenerations {
			exec.Halt(task.HaltMaxGenerations)
			break
		}
		if t.limits.MaxDelegations > 0 && exec.Stats.Delegations >= t.limits.MaxDelegations {
			exec.Halt(task.HaltMaxDelegations)
			break
		}
		if iteration >= t.limits.MaxIterations {
			exec.Halt(task.HaltMaxIterations)
			break
		}

		if err := t.ResumeTask(ctx, exec); err != nil {
			exec.Halt(task.HaltError)
			if perr := t.persist(ctx, exec); perr != nil {
				t.logger.Error("task persist failed", "task_id", exec.ID, "error", perr.Error())
			}
			return err
		}
	}

	t.logger.Debug("task finished",
		"task_id", exec.ID,
		"status", string(exec.Status()),
		"halt_reason", string(exec.HaltReason()),
		"generations", exec.Stats.Generations,
		"delegations", exec.Stats.Delegations,
	)
	return t.persist(ctx, exec)
}

// ResumeTask performs exactly one state-machine step, dispatching on the
// active thread's latest message role:
//
//   - terminal task: unchanged
//   - user message: generate an assistant response for the thread
//   - assistant message on a non-main thread: return the result to the
//     parent thread, resolving the originating tool call
//   - assistant message on the main thread: complete the task
//   - tool-call message, all calls settled: generate a follow-up
//   - tool-call message, calls outstanding: process the tool calls
//   - anything else: halt with invalidState
func (t *Team) ResumeTask(ctx context.Context, exec *task.Execution) error {
	if exec.Terminal() {
		return nil
	}

	thread := exec.ActiveThread()
	latest := thread.LatestMessage()

	switch msg := latest.(type) {
	case core.UserMessage:
		return t.generateForThread(ctx, exec, thread)
	case core.AssistantMessage:
		if !thread.IsMain() {
			return t.returnToParent(exec, thread)
		}
		exec.Complete()
		return nil
	case *core.ToolCallMessage:
		if !msg.PendingCalls() {
			return t.generateForThread(ctx, exec, thread)
		}
		return t.ProcessToolCalls(ctx, exec)
	default:
		exec.Halt(task.HaltInvalidState)
		return nil
	}
}

// generateForThread runs one model call for the thread's agent and appends
// the resulting assistant turn.
func (t *Team) generateForThread(ctx context.Context, exec *task.Execution, thread *task.Thread) error {
	a, ok := t.agents.Get(thread.AgentID)
	if !ok {
		return fmt.Errorf("task %s: thread %q references unknown agent %q", exec.ID, thread.ID, thread.AgentID)
	}
	systemMessage, err := t.agents.ResolveSystemMessage(a)
	if err != nil {
		return fmt.Errorf("agent %q: %w", a.Name, err)
	}

	cfg := generation.Config{
		Model:         a.Model,
		SystemMessage: systemMessage,
		Temperature:   a.Temperature,
		Kit:           t.kit,
		AllowedTools:  t.allowedTools(a),
		JSONOutput:    a.ResponseType == agent.ResponseJSON,
		Invocation:    t.invocation(exec, thread),
	}

	res, err := t.engine.Generate(ctx, thread.Messages, cfg)
	if err != nil {
		return err
	}

	if err := thread.ReplaceMessages(res.Messages); err != nil {
		return err
	}
	exec.AddGeneration()
	thread.AddEvent(task.NewGenerationEvent(thread.ID, res.Metadata.Model, core.TokenUsage{
		InputTokens:  res.Metadata.InputTokens,
		OutputTokens: res.Metadata.OutputTokens,
	}))
	return nil
}

// allowedTools extends the agent's tool list with the built-in delegation
// and transfer tools when the agent has targets for them.
func (t *Team) allowedTools(a *agent.Agent) []string {
	names := append([]string{}, a.AllowedTools...)
	if a.HasDelegates() {
		names = append(names, tool.DelegateToolName)
	}
	if a.HasTransfers() {
		names = append(names, tool.TransferToolName)
	}
	return names
}

func (t *Team) invocation(exec *task.Execution, thread *task.Thread) *tool.Invocation {
	inv := tool.NewInvocation()
	inv.TaskID = exec.ID
	inv.ThreadID = thread.ID
	inv.Agent = thread.AgentID
	inv.Logger = t.logger
	if t.context != nil {
		inv.Context = t.context
	}
	if t.secureContext != nil {
		inv.SecureContext = t.secureContext
	}
	return inv
}

// returnToParent passes a finished delegation result up: the parent
// thread's originating tool call is completed with the sub-thread's
// conversation id and final message, and the active cursor moves back to
// the parent. Fails when the originating call cannot be located, which
// indicates task-graph corruption.
func (t *Team) returnToParent(exec *task.Execution, thread *task.Thread) error {
	if thread.ParentThreadID == "" || thread.ParentToolCallID == "" {
		return fmt.Errorf("task %s: thread %q has no parent to return to", exec.ID, thread.ID)
	}
	parent, ok := exec.Thread(thread.ParentThreadID)
	if !ok {
		return fmt.Errorf("task %s: thread %q references missing parent %q", exec.ID, thread.ID, thread.ParentThreadID)
	}

	call := findToolCall(parent, thread.ParentToolCallID)
	if call == nil {
		return fmt.Errorf("task %s: originating tool call %q not found in parent thread %q", exec.ID, thread.ParentToolCallID, parent.ID)
	}

	call.Complete(map[string]any{
		"conversationId": thread.ID,
		"message":        core.MessageText(thread.LatestMessage()),
	})
	parent.AddEvent(task.NewThreadChangeEvent(thread.ID, parent.ID))
	t.logger.Debug("delegation returned", "task_id", exec.ID, "from_thread", thread.ID, "to_thread", parent.ID)
	return exec.SetActiveThread(parent.ID)
}

// findToolCall locates a call by id anywhere in the thread's transcript,
// newest message first.
func findToolCall(thread *task.Thread, callID string) *core.ToolCall {
	for i := len(thread.Messages) - 1; i >= 0; i-- {
		if msg, ok := thread.Messages[i].(*core.ToolCallMessage); ok {
			if call := msg.Call(callID); call != nil {
				return call
			}
		}
	}
	return nil
}
