package tool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
	"github.com/hupe1980/taskmesh/provider"
)

// Classification is the batch-level verdict over a set of tool calls.
// Exactly one classification applies, with precedence approval > transfer >
// missingExecutor > completed.
type Classification string

const (
	// ClassApprovalPending: at least one call still requires approval.
	ClassApprovalPending Classification = "approvalPending"
	// ClassTransferPending: an unresolved call targets a transfer tool.
	ClassTransferPending Classification = "transferPending"
	// ClassMissingExecutor: an unresolved call targets a schema-only tool.
	ClassMissingExecutor Classification = "missingExecutor"
	// ClassCompleted: none of the above conditions hold.
	ClassCompleted Classification = "completed"
)

// ProcessOptions bounds a ProcessCalls batch.
type ProcessOptions struct {
	// MaxCalls caps how many calls are executed in this batch; calls
	// beyond the cap are failed with a budget error, not executed.
	MaxCalls int
	// MaxErrors stops execution after this many failures in the batch.
	MaxErrors int
}

// Kit holds named tool definitions and drives their invocation lifecycle.
// The built-in delegation and transfer tools are always present.
//
// Kit methods serialize registry access internally, but tool calls being
// processed mutate caller-owned state and must not be processed from
// multiple goroutines for the same message.
type Kit struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewKit creates a Kit pre-populated with the built-in delegation and
// transfer tools.
func NewKit(tools ...*Tool) (*Kit, error) {
	k := &Kit{tools: map[string]*Tool{}}
	k.tools[DelegateToolName] = newDelegateTool()
	k.tools[TransferToolName] = newTransferTool()
	if err := k.Register(tools...); err != nil {
		return nil, err
	}
	return k, nil
}

// Register adds tools to the kit. Registering a name that already exists
// (including the reserved built-ins) fails.
func (k *Kit) Register(tools ...*Tool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("tool name must not be empty")
		}
		if _, exists := k.tools[t.Name]; exists {
			return fmt.Errorf("tool %q is already registered", t.Name)
		}
		k.tools[t.Name] = t
	}
	return nil
}

// Unregister removes a tool by name. Fails when the name is unknown or names
// a reserved built-in.
func (k *Kit) Unregister(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if name == DelegateToolName || name == TransferToolName {
		return fmt.Errorf("tool %q is reserved and cannot be unregistered", name)
	}
	if _, exists := k.tools[name]; !exists {
		return fmt.Errorf("tool %q is not registered", name)
	}
	delete(k.tools, name)
	return nil
}

// Get returns a registered tool by name.
func (k *Kit) Get(name string) (*Tool, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	t, ok := k.tools[name]
	return t, ok
}

// Has reports whether a tool name is registered.
func (k *Kit) Has(name string) bool {
	_, ok := k.Get(name)
	return ok
}

// Names lists all registered tool names including the built-ins.
func (k *Kit) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.tools))
	for name := range k.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns provider-facing declarations for the named tools.
// Unknown names are skipped: an agent may list tools that were never
// registered, which surfaces later as a toolNotFound call error.
func (k *Kit) Definitions(names ...string) []provider.ToolDefinition {
	k.mu.RLock()
	defer k.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := k.tools[name]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// Classify computes the batch verdict for a set of tool calls. The checks
// run in precedence order across the whole batch: any call awaiting approval
// wins, then any unresolved transfer, then any unresolved schema-only call,
// otherwise completed. The result is deterministic and total.
func (k *Kit) Classify(calls []core.ToolCall) Classification {
	for i := range calls {
		if calls[i].AwaitingApproval() {
			return ClassApprovalPending
		}
	}
	for i := range calls {
		if calls[i].Settled() {
			continue
		}
		if t, ok := k.Get(calls[i].Request.Name); ok && t.Kind == KindTransfer {
			return ClassTransferPending
		}
	}
	for i := range calls {
		if calls[i].Settled() {
			continue
		}
		if t, ok := k.Get(calls[i].Request.Name); ok && t.Kind == KindDefinition {
			return ClassMissingExecutor
		}
	}
	return ClassCompleted
}

// NextCall returns the first call in array order whose execution state is
// pending or inProgress, paired with its resolved tool. It returns an error
// when the referenced tool is unknown and (nil, nil, nil) when no call is
// outstanding.
func (k *Kit) NextCall(calls []core.ToolCall) (*core.ToolCall, *Tool, error) {
	for i := range calls {
		switch calls[i].Execution {
		case core.ExecutionPending, core.ExecutionInProgress:
			t, ok := k.Get(calls[i].Request.Name)
			if !ok {
				return nil, nil, fmt.Errorf("tool %q referenced by call %s is not registered", calls[i].Request.Name, calls[i].ID)
			}
			return &calls[i], t, nil
		}
	}
	return nil, nil, nil
}

// ProcessCall executes a single tool call in place. The return value reports
// whether the call was handled: a call still awaiting approval is left
// untouched and reported unhandled; every other outcome (rejection marker,
// success, captured failure) is handled. Executor errors and panics are
// captured into the call's error state, never propagated.
func (k *Kit) ProcessCall(ctx context.Context, call *core.ToolCall, inv *Invocation) bool {
	if call.AwaitingApproval() {
		return false
	}
	if call.Approval == core.ApprovalRejected {
		call.Complete(rejectionResult())
		return true
	}

	t, ok := k.Get(call.Request.Name)
	if !ok {
		call.Fail(core.ErrorTypeToolNotFound, fmt.Sprintf("tool %q is not registered", call.Request.Name))
		return true
	}

	switch t.Kind {
	case KindFunction:
		k.execute(ctx, t, call, inv)
	case KindDefinition:
		call.Fail(core.ErrorTypeToolNotExecutable, fmt.Sprintf("tool %q has no executor", t.Name))
	default:
		// Delegation and transfer semantics live in the team package; a
		// bare kit cannot resolve agents.
		call.Fail(core.ErrorTypeToolNotExecutable, fmt.Sprintf("tool %q requires a task context", t.Name))
	}
	return true
}

func (k *Kit) execute(ctx context.Context, t *Tool, call *core.ToolCall, inv *Invocation) {
	if t.Execute == nil {
		call.Fail(core.ErrorTypeToolNotExecutable, fmt.Sprintf("tool %q has no executor", t.Name))
		return
	}
	if t.Parameters != nil {
		if err := util.ValidateParameters(call.Request.Arguments, t.Parameters); err != nil {
			call.Fail(core.ErrorTypeInvalidArguments, err.Error())
			return
		}
	}

	start := time.Now()
	var (
		result any
		err    error
	)
	func() { // panic safety: a tool must never take down the engine
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tool panicked: %v\n%s", r, debug.Stack())
			}
		}()
		result, err = t.Execute(ctx, call.Request.Arguments, inv)
	}()

	if inv != nil && inv.Logger != nil {
		inv.Logger.Debug("tool executed", "tool", t.Name, "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
	}

	if err != nil {
		call.Fail(core.ErrorTypeExecution, errString(err))
		return
	}
	call.Complete(result)
}

// ProcessCalls applies ProcessCall to every unsettled call in the message,
// in array order, under a batch budget. Once the budget is exhausted or the
// context is cancelled, remaining unsettled calls are forced into the error
// state with a descriptive message rather than executed. Calls awaiting
// approval are left untouched throughout.
func (k *Kit) ProcessCalls(ctx context.Context, msg *core.ToolCallMessage, inv *Invocation, optFns ...func(o *ProcessOptions)) {
	opts := ProcessOptions{MaxCalls: 5, MaxErrors: 3}
	for _, fn := range optFns {
		fn(&opts)
	}

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
		if handled >= opts.MaxCalls {
			call.Fail(core.ErrorTypeBudgetExceeded, fmt.Sprintf("tool call budget of %d exceeded", opts.MaxCalls))
			continue
		}
		if failures >= opts.MaxErrors {
			call.Fail(core.ErrorTypeBudgetExceeded, fmt.Sprintf("tool error budget of %d exceeded", opts.MaxErrors))
			continue
		}

		if k.ProcessCall(ctx, call, inv) {
			handled++
			if call.Execution == core.ExecutionError {
				failures++
			}
		}
	}
}

// ApproveCalls transitions calls awaiting approval to approved. With no ids
// every awaiting call is approved; calls already in a terminal approval
// state are left untouched.
func (k *Kit) ApproveCalls(msg *core.ToolCallMessage, ids ...string) {
	transitionApproval(msg, core.ApprovalApproved, ids)
}

// RejectCalls transitions calls awaiting approval to rejected. With no ids
// every awaiting call is rejected; calls already in a terminal approval
// state are left untouched.
func (k *Kit) RejectCalls(msg *core.ToolCallMessage, ids ...string) {
	transitionApproval(msg, core.ApprovalRejected, ids)
}

func transitionApproval(msg *core.ToolCallMessage, target core.ApprovalState, ids []string) {
	selected := map[string]bool{}
	for _, id := range ids {
		selected[id] = true
	}
	for i := range msg.ToolCalls {
		call := &msg.ToolCalls[i]
		if len(ids) > 0 && !selected[call.ID] {
			continue
		}
		if call.Approval != core.ApprovalRequired {
			continue
		}
		call.Approval = target
	}
}
