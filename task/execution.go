// Package task holds the resumable execution state machine: a task is a
// tree of agent-owned conversation threads with an active cursor, aggregate
// statistics, an append-only event log and plain-data snapshots for
// persistence.
package task

import (
	"fmt"
	"sort"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusHalted    Status = "halted"
	StatusCompleted Status = "completed"
)

// HaltReason explains why a task stopped. It is set only on halted or
// completed tasks.
type HaltReason string

const (
	HaltMaxIterations    HaltReason = "maxIterations"
	HaltMaxGenerations   HaltReason = "maxGenerations"
	HaltMaxDelegations   HaltReason = "maxDelegations"
	HaltApprovalRequired HaltReason = "approvalRequired"
	HaltInvalidState     HaltReason = "invalidState"
	HaltError            HaltReason = "error"
	HaltCompleted        HaltReason = "completed"
)

// Stats aggregates counters across all threads of a task.
type Stats struct {
	// Generations counts model calls.
	Generations int `json:"generations"`
	// Delegations counts sub-task spawns.
	Delegations int `json:"delegations"`
}

// Execution is the resumable unit of work: a tree of threads (one per agent
// hand-off) with an active cursor, aggregate statistics and a halt reason.
// Not safe for concurrent mutation; serialize access per task or branch via
// Clone.
type Execution struct {
	ID    string
	Stats Stats

	status         Status
	threads        map[string]*Thread
	activeThreadID string
	haltReason     HaltReason
	modified       bool
}

// NewExecution creates a pending task whose main thread is owned by agentID
// and seeded with one user message carrying the prompt.
func NewExecution(agentID, prompt string) *Execution {
	main := NewThread(MainThreadID, agentID, core.NewUserTextMessage(prompt))
	return &Execution{
		ID:             util.NewID(),
		status:         StatusPending,
		threads:        map[string]*Thread{MainThreadID: main},
		activeThreadID: MainThreadID,
		modified:       true,
	}
}

// Status returns the current lifecycle state.
func (e *Execution) Status() Status { return e.status }

// HaltReason returns why the task stopped, or "" while it has not.
func (e *Execution) HaltReason() HaltReason { return e.haltReason }

// Terminal reports whether the task reached completed or halted.
func (e *Execution) Terminal() bool {
	return e.status == StatusCompleted || e.status == StatusHalted
}

// Resumable reports whether a halted task may run again: every halt is
// transient except one caused by completion.
func (e *Execution) Resumable() bool {
	if e.status == StatusCompleted {
		return false
	}
	return e.status != StatusHalted || e.haltReason != HaltCompleted
}

// Run transitions the task to running, clearing a transient halt reason.
// Fails on completed tasks.
func (e *Execution) Run() error {
	if !e.Resumable() {
		return fmt.Errorf("task %s: cannot resume a completed task", e.ID)
	}
	e.status = StatusRunning
	e.haltReason = ""
	e.modified = true
	return nil
}

// Halt stops the task with the given reason.
func (e *Execution) Halt(reason HaltReason) {
	e.status = StatusHalted
	e.haltReason = reason
	e.modified = true
}

// Complete marks the task finished.
func (e *Execution) Complete() {
	e.status = StatusCompleted
	e.haltReason = HaltCompleted
	e.modified = true
}

// ActiveThreadID returns the id of the thread driving the next step.
func (e *Execution) ActiveThreadID() string { return e.activeThreadID }

// ActiveThread returns the thread driving the next step. The active id
// always resolves; a miss indicates task-graph corruption.
func (e *Execution) ActiveThread() *Thread {
	t, ok := e.threads[e.activeThreadID]
	if !ok {
		panic(fmt.Sprintf("task %s: active thread %q missing", e.ID, e.activeThreadID))
	}
	return t
}

// Thread returns a thread by id.
func (e *Execution) Thread(id string) (*Thread, bool) {
	t, ok := e.threads[id]
	return t, ok
}

// MainThread returns the task's root thread.
func (e *Execution) MainThread() *Thread {
	return e.threads[MainThreadID]
}

// ThreadIDs lists all thread ids in deterministic order.
func (e *Execution) ThreadIDs() []string {
	ids := make([]string, 0, len(e.threads))
	for id := range e.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetActiveThread switches the cursor to an existing thread.
func (e *Execution) SetActiveThread(id string) error {
	if _, ok := e.threads[id]; !ok {
		return fmt.Errorf("task %s: thread %q does not exist", e.ID, id)
	}
	e.activeThreadID = id
	e.modified = true
	return nil
}

// SpawnThread creates a child thread for a delegation: owned by agentID,
// seeded with a user message carrying the task description, parented to
// parentThreadID and the originating tool call. The new thread becomes the
// active thread and the delegation counter is incremented.
func (e *Execution) SpawnThread(agentID, taskDescription, parentThreadID, parentToolCallID string) (*Thread, error) {
	if _, ok := e.threads[parentThreadID]; !ok {
		return nil, fmt.Errorf("task %s: parent thread %q does not exist", e.ID, parentThreadID)
	}
	child := NewThread("", agentID, core.NewUserTextMessage(taskDescription))
	child.ParentThreadID = parentThreadID
	child.ParentToolCallID = parentToolCallID
	e.threads[child.ID] = child
	e.activeThreadID = child.ID
	e.Stats.Delegations++
	e.modified = true
	return child, nil
}

// AddGeneration increments the model-call counter.
func (e *Execution) AddGeneration() {
	e.Stats.Generations++
	e.modified = true
}

// Result returns the text of the main thread's latest assistant message, or
// "" when no assistant turn exists yet.
func (e *Execution) Result() string {
	main := e.MainThread()
	for i := len(main.Messages) - 1; i >= 0; i-- {
		if main.Messages[i].Role() == core.RoleAssistant {
			return core.MessageText(main.Messages[i])
		}
	}
	return ""
}

// Events returns all audit records across threads ordered by timestamp.
func (e *Execution) Events() []Event {
	var events []Event
	for _, t := range e.threads {
		events = append(events, t.Events...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// Modified reports whether the task or any of its threads changed since the
// last ResetModified.
func (e *Execution) Modified() bool {
	if e.modified {
		return true
	}
	for _, t := range e.threads {
		if t.Modified() {
			return true
		}
	}
	return false
}

// ResetModified clears the task-level and all thread-level modified flags.
func (e *Execution) ResetModified() {
	e.modified = false
	for _, t := range e.threads {
		t.ResetModified()
	}
}

// Clone returns an independent copy for concurrent branching.
func (e *Execution) Clone() *Execution {
	threads := make(map[string]*Thread, len(e.threads))
	for id, t := range e.threads {
		threads[id] = t.Clone()
	}
	return &Execution{
		ID:             e.ID,
		Stats:          e.Stats,
		status:         e.status,
		threads:        threads,
		activeThreadID: e.activeThreadID,
		haltReason:     e.haltReason,
		modified:       e.modified,
	}
}

// Validate checks the task-graph invariants: the active thread exists, every
// parent reference resolves, every transcript is non-empty and, when an
// agent resolver is supplied, every thread's agent is registered.
func (e *Execution) Validate(agentExists func(name string) bool) error {
	if _, ok := e.threads[e.activeThreadID]; !ok {
		return fmt.Errorf("task %s: active thread %q does not exist", e.ID, e.activeThreadID)
	}
	if _, ok := e.threads[MainThreadID]; !ok {
		return fmt.Errorf("task %s: main thread missing", e.ID)
	}
	for id, t := range e.threads {
		if len(t.Messages) == 0 {
			return fmt.Errorf("task %s: thread %q has an empty transcript", e.ID, id)
		}
		if t.ParentThreadID != "" {
			if _, ok := e.threads[t.ParentThreadID]; !ok {
				return fmt.Errorf("task %s: thread %q references missing parent %q", e.ID, id, t.ParentThreadID)
			}
		}
		if agentExists != nil && !agentExists(t.AgentID) {
			return fmt.Errorf("task %s: thread %q references unknown agent %q", e.ID, id, t.AgentID)
		}
	}
	return nil
}
