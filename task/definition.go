package task

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// ThreadDefinition is the plain-data snapshot of a thread, suitable for
// JSON persistence. Messages is the envelope-encoded transcript.
type ThreadDefinition struct {
	ID               string          `json:"id"`
	AgentID          string          `json:"agentId"`
	Messages         json.RawMessage `json:"messages"`
	ParentThreadID   string          `json:"parentThreadId,omitempty"`
	ParentToolCallID string          `json:"parentToolCallId,omitempty"`
	Events           []Event         `json:"events,omitempty"`
}

// Definition is the plain-data snapshot of a task execution.
type Definition struct {
	ID             string             `json:"id"`
	Status         Status             `json:"status"`
	Threads        []ThreadDefinition `json:"threads"`
	ActiveThreadID string             `json:"activeThreadId"`
	Stats          Stats              `json:"stats"`
	HaltReason     HaltReason         `json:"haltReason,omitempty"`
}

// Definition snapshots the execution into plain data.
func (e *Execution) Definition() (*Definition, error) {
	def := &Definition{
		ID:             e.ID,
		Status:         e.status,
		ActiveThreadID: e.activeThreadID,
		Stats:          e.Stats,
		HaltReason:     e.haltReason,
	}
	for _, id := range e.ThreadIDs() {
		t := e.threads[id]
		encoded, err := core.EncodeMessages(t.Messages)
		if err != nil {
			return nil, fmt.Errorf("task %s: thread %q: %w", e.ID, id, err)
		}
		def.Threads = append(def.Threads, ThreadDefinition{
			ID:               t.ID,
			AgentID:          t.AgentID,
			Messages:         encoded,
			ParentThreadID:   t.ParentThreadID,
			ParentToolCallID: t.ParentToolCallID,
			Events:           append([]Event{}, t.Events...),
		})
	}
	return def, nil
}

// FromDefinition rehydrates an execution from a snapshot, re-validating all
// cross references. It fails fast on any dangling reference: unknown status,
// missing main or active thread, a parent id that does not resolve, an empty
// transcript, or (when agentExists is supplied) an unregistered agent.
func FromDefinition(def *Definition, agentExists func(name string) bool) (*Execution, error) {
	switch def.Status {
	case StatusPending, StatusRunning, StatusHalted, StatusCompleted:
	default:
		return nil, fmt.Errorf("task %s: unknown status %q", def.ID, def.Status)
	}

	e := &Execution{
		ID:             def.ID,
		Stats:          def.Stats,
		status:         def.Status,
		threads:        make(map[string]*Thread, len(def.Threads)),
		activeThreadID: def.ActiveThreadID,
		haltReason:     def.HaltReason,
	}
	for _, td := range def.Threads {
		if _, exists := e.threads[td.ID]; exists {
			return nil, fmt.Errorf("task %s: duplicate thread id %q", def.ID, td.ID)
		}
		messages, err := core.DecodeMessages(td.Messages)
		if err != nil {
			return nil, fmt.Errorf("task %s: thread %q: %w", def.ID, td.ID, err)
		}
		e.threads[td.ID] = &Thread{
			ID:               td.ID,
			AgentID:          td.AgentID,
			Messages:         messages,
			ParentThreadID:   td.ParentThreadID,
			ParentToolCallID: td.ParentToolCallID,
			Events:           append([]Event{}, td.Events...),
		}
	}
	if err := e.Validate(agentExists); err != nil {
		return nil, err
	}
	return e, nil
}
