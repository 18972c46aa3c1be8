package team

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/task"
	"github.com/hupe1980/taskmesh/tool"
)

// ProcessToolCalls processes the active thread's latest tool-call batch, in
// array order. A pre-validation pass classifies the whole batch first: an
// approval-pending batch halts the task with approvalRequired without
// touching any call, and a missing executor fails hard since it signals a
// wiring bug rather than a recoverable state. Delegation and transfer calls
// suppress processing of the remaining calls in the batch; the suppressed
// calls stay pending and are picked up on a later resume.
//
// The team's MaxToolCalls / MaxToolCallErrors limits bound the batch: once
// a budget is exhausted, remaining unsettled calls are failed with a budget
// error rather than executed.
func (t *Team) ProcessToolCalls(ctx context.Context, exec *task.Execution) error {
	thread := exec.ActiveThread()
	msg, ok := thread.LatestMessage().(*core.ToolCallMessage)
	if !ok {
		return fmt.Errorf("task %s: thread %q has no tool calls to process", exec.ID, thread.ID)
	}

	switch t.kit.Classify(msg.ToolCalls) {
	case tool.ClassApprovalPending:
		exec.Halt(task.HaltApprovalRequired)
		t.logger.Debug("task halted on approval gate", "task_id", exec.ID, "thread_id", thread.ID)
		return nil
	case tool.ClassMissingExecutor:
		return fmt.Errorf("task %s: thread %q has calls on tools without executors", exec.ID, thread.ID)
	}

	inv := t.invocation(exec, thread)
	handled, failures := 0, 0

	for i := range msg.ToolCalls {
		call := &msg.ToolCalls[i]
		if call.Settled() {
			continue
		}

		if reason := t.limits.batchBudgetExceeded(handled, failures); reason != "" {
			call.Fail(core.ErrorTypeBudgetExceeded, reason)
			thread.AddEvent(task.NewToolUseEvent(thread.ID, call.Request.Name, call.ID, call.Request.Arguments, nil, reason))
			continue
		}

		if call.Approval == core.ApprovalRejected {
			t.kit.ProcessCall(ctx, call, inv)
			thread.AddEvent(task.NewToolUseEvent(thread.ID, call.Request.Name, call.ID, call.Request.Arguments, call.Result, ""))
		} else if def, found := t.kit.Get(call.Request.Name); !found {
			call.Fail(core.ErrorTypeToolNotFound, fmt.Sprintf("tool %q is not registered", call.Request.Name))
			thread.AddEvent(task.NewToolUseEvent(thread.ID, call.Request.Name, call.ID, call.Request.Arguments, nil, call.Error.Message))
		} else {
			switch def.Kind {
			case tool.KindDefinition:
				call.Fail(core.ErrorTypeToolNotExecutable, fmt.Sprintf("tool %q has no executor", def.Name))
				thread.AddEvent(task.NewToolUseEvent(thread.ID, def.Name, call.ID, call.Request.Arguments, nil, call.Error.Message))

			case tool.KindFunction:
				t.kit.ProcessCall(ctx, call, inv)
				errMsg := ""
				if call.Error != nil {
					errMsg = call.Error.Message
				}
				thread.AddEvent(task.NewToolUseEvent(thread.ID, def.Name, call.ID, call.Request.Arguments, call.Result, errMsg))

			case tool.KindDelegate:
				if t.processDelegation(exec, thread, call) {
					return nil // remaining calls stay pending for a later resume
				}

			case tool.KindTransfer:
				if t.processTransfer(exec, thread, call) {
					return nil
				}
			}
		}

		handled++
		if call.Execution == core.ExecutionError {
			failures++
		}
	}
	return nil
}

// batchBudgetExceeded reports the budget that would be violated by handling
// the next call, or "" when processing may proceed. Zero limits are
// unlimited.
func (l Limits) batchBudgetExceeded(handled, failures int) string {
	if l.MaxToolCalls > 0 && handled >= l.MaxToolCalls {
		return fmt.Sprintf("tool call budget of %d exceeded", l.MaxToolCalls)
	}
	if l.MaxToolCallErrors > 0 && failures >= l.MaxToolCallErrors {
		return fmt.Sprintf("tool error budget of %d exceeded", l.MaxToolCallErrors)
	}
	return ""
}

// processDelegation handles a sub-task call. It reports whether a child
// thread was spawned, which suppresses the rest of the batch; argument and
// resolution failures are captured on the call and do not suppress.
func (t *Team) processDelegation(exec *task.Execution, thread *task.Thread, call *core.ToolCall) bool {
	agentName, err := stringArgument(call.Request.Arguments, "agentName")
	if err != nil {
		failArgument(thread, call, err)
		return false
	}
	taskDescription, err := stringArgument(call.Request.Arguments, "taskDescription")
	if err != nil {
		failArgument(thread, call, err)
		return false
	}

	caller, _ := t.agents.Get(thread.AgentID)
	if caller == nil || !caller.CanDelegate(agentName) || !t.agents.Has(agentName) {
		call.Fail(core.ErrorTypeDelegateNotAvailable, fmt.Sprintf("agent %q cannot delegate to %q", thread.AgentID, agentName))
		thread.AddEvent(task.NewToolUseEvent(thread.ID, tool.DelegateToolName, call.ID, call.Request.Arguments, nil, call.Error.Message))
		return false
	}

	child, spawnErr := exec.SpawnThread(agentName, taskDescription, thread.ID, call.ID)
	if spawnErr != nil {
		call.Fail(core.ErrorTypeExecution, spawnErr.Error())
		thread.AddEvent(task.NewToolUseEvent(thread.ID, tool.DelegateToolName, call.ID, call.Request.Arguments, nil, call.Error.Message))
		return false
	}

	call.Begin(map[string]any{"conversationId": child.ID})
	thread.AddEvent(task.NewDelegationEvent(thread.ID, agentName, child.ID))
	t.logger.Debug("delegation spawned", "task_id", exec.ID, "from_agent", thread.AgentID, "to_agent", agentName, "thread_id", child.ID)
	return true
}

// processTransfer handles a hand-off call. It reports whether the thread
// was reassigned, which suppresses the rest of the batch.
func (t *Team) processTransfer(exec *task.Execution, thread *task.Thread, call *core.ToolCall) bool {
	agentName, err := stringArgument(call.Request.Arguments, "agentName")
	if err != nil {
		failArgument(thread, call, err)
		return false
	}

	caller, _ := t.agents.Get(thread.AgentID)
	if caller == nil || !caller.CanTransfer(agentName) || !t.agents.Has(agentName) {
		call.Fail(core.ErrorTypeDelegateNotAvailable, fmt.Sprintf("agent %q cannot transfer to %q", thread.AgentID, agentName))
		thread.AddEvent(task.NewToolUseEvent(thread.ID, tool.TransferToolName, call.ID, call.Request.Arguments, nil, call.Error.Message))
		return false
	}

	fromAgent := thread.AgentID
	call.Complete(map[string]any{"transferredTo": agentName})
	thread.Reassign(agentName)
	thread.AddEvent(task.NewTransferEvent(thread.ID, fromAgent, agentName))
	t.logger.Debug("thread transferred", "task_id", exec.ID, "thread_id", thread.ID, "from_agent", fromAgent, "to_agent", agentName)
	return true
}

// argumentError distinguishes a missing argument from a malformed one.
type argumentError struct {
	errType string
	message string
}

func (e *argumentError) Error() string { return e.message }

func stringArgument(args map[string]any, key string) (string, *argumentError) {
	raw, ok := args[key]
	if !ok {
		return "", &argumentError{errType: core.ErrorTypeMissingArguments, message: fmt.Sprintf("argument %q is required", key)}
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", &argumentError{errType: core.ErrorTypeInvalidArguments, message: fmt.Sprintf("argument %q must be a non-empty string", key)}
	}
	return s, nil
}

func failArgument(thread *task.Thread, call *core.ToolCall, err *argumentError) {
	call.Fail(err.errType, err.message)
	thread.AddEvent(task.NewToolUseEvent(thread.ID, call.Request.Name, call.ID, call.Request.Arguments, nil, err.message))
}

// ApproveToolCalls approves awaiting calls on the active thread's latest
// tool-call message (all of them when no ids are given). A task halted on
// the approval gate can be executed again afterwards.
func (t *Team) ApproveToolCalls(exec *task.Execution, ids ...string) error {
	msg, err := activeToolCallMessage(exec)
	if err != nil {
		return err
	}
	t.kit.ApproveCalls(msg, ids...)
	return nil
}

// RejectToolCalls rejects awaiting calls on the active thread's latest
// tool-call message (all of them when no ids are given).
func (t *Team) RejectToolCalls(exec *task.Execution, ids ...string) error {
	msg, err := activeToolCallMessage(exec)
	if err != nil {
		return err
	}
	t.kit.RejectCalls(msg, ids...)
	return nil
}

func activeToolCallMessage(exec *task.Execution) (*core.ToolCallMessage, error) {
	thread := exec.ActiveThread()
	msg, ok := thread.LatestMessage().(*core.ToolCallMessage)
	if !ok {
		return nil, fmt.Errorf("task %s: thread %q has no tool calls awaiting a decision", exec.ID, thread.ID)
	}
	return msg, nil
}

// persist snapshots the task into the configured store, clearing the
// modified flags on success. A nil store makes this a no-op.
func (t *Team) persist(ctx context.Context, exec *task.Execution) error {
	if t.store == nil || !exec.Modified() {
		return nil
	}
	def, err := exec.Definition()
	if err != nil {
		return err
	}
	if err := t.store.Save(ctx, def); err != nil {
		return err
	}
	exec.ResetModified()
	return nil
}
