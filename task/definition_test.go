package task

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

func TestDefinitionRoundTrip(t *testing.T) {
	exec := NewExecution("coordinator", "research and write")
	require.NoError(t, exec.Run())
	exec.AddGeneration()

	call := core.NewToolCall(core.ToolCallRequest{CallID: "vc1", Name: "lookup", Arguments: map[string]any{"q": "go"}}, core.ApprovalNotRequired)
	call.Complete("ok")
	exec.MainThread().Append(core.NewToolCallMessage("", []core.ToolCall{call}))

	child, err := exec.SpawnThread("researcher", "find sources", MainThreadID, call.ID)
	require.NoError(t, err)
	child.Append(core.NewAssistantMessage("sources found"))
	child.AddEvent(NewGenerationEvent(child.ID, "m1", core.TokenUsage{InputTokens: 3, OutputTokens: 7}))
	exec.Halt(HaltApprovalRequired)

	def, err := exec.Definition()
	require.NoError(t, err)

	// The snapshot survives a JSON round trip, as a store would apply.
	data, err := json.Marshal(def)
	require.NoError(t, err)
	var decoded Definition
	require.NoError(t, json.Unmarshal(data, &decoded))

	restored, err := FromDefinition(&decoded, nil)
	require.NoError(t, err)

	assert.Equal(t, exec.ID, restored.ID)
	assert.Equal(t, StatusHalted, restored.Status())
	assert.Equal(t, HaltApprovalRequired, restored.HaltReason())
	assert.Equal(t, child.ID, restored.ActiveThreadID())
	assert.Equal(t, exec.Stats, restored.Stats)
	assert.Equal(t, exec.ThreadIDs(), restored.ThreadIDs())

	restoredChild, ok := restored.Thread(child.ID)
	require.True(t, ok)
	assert.Equal(t, MainThreadID, restoredChild.ParentThreadID)
	assert.Equal(t, call.ID, restoredChild.ParentToolCallID)
	require.Len(t, restoredChild.Events, 1)
	assert.Equal(t, EventGeneration, restoredChild.Events[0].Kind)

	toolMsg, ok := restored.MainThread().Messages[1].(*core.ToolCallMessage)
	require.True(t, ok)
	assert.Equal(t, core.ExecutionCompleted, toolMsg.ToolCalls[0].Execution)
}

func TestFromDefinitionRejectsCorruption(t *testing.T) {
	base := func() *Definition {
		exec := NewExecution("assistant", "work")
		def, err := exec.Definition()
		require.NoError(t, err)
		return def
	}

	// Unknown status.
	def := base()
	def.Status = "paused"
	_, err := FromDefinition(def, nil)
	assert.Error(t, err)

	// Dangling active thread.
	def = base()
	def.ActiveThreadID = "ghost"
	_, err = FromDefinition(def, nil)
	assert.Error(t, err)

	// Duplicate thread ids.
	def = base()
	def.Threads = append(def.Threads, def.Threads[0])
	_, err = FromDefinition(def, nil)
	assert.Error(t, err)

	// Dangling parent reference.
	def = base()
	def.Threads[0].ParentThreadID = "ghost"
	_, err = FromDefinition(def, nil)
	assert.Error(t, err)

	// Empty transcript.
	def = base()
	def.Threads[0].Messages = json.RawMessage(`[]`)
	_, err = FromDefinition(def, nil)
	assert.Error(t, err)

	// Unknown agent under a resolver.
	def = base()
	_, err = FromDefinition(def, func(name string) bool { return false })
	assert.Error(t, err)
}

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	exec := NewExecution("assistant", "work")
	def, err := exec.Definition()
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, def))

	loaded, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, loaded.ID)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	other := NewExecution("assistant", "more work")
	otherDef, err := other.Definition()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, otherDef))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, exec.ID)

	require.NoError(t, store.Delete(ctx, exec.ID))
	assert.NoError(t, store.Delete(ctx, exec.ID))

	_, err = store.Load(ctx, exec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
