package taskmesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/generation"
	"github.com/hupe1980/taskmesh/provider"
	"github.com/hupe1980/taskmesh/tool"
)

func newTestMesh(t *testing.T, optFns ...func(o *Options)) (*TaskMesh, *provider.MockProvider) {
	t.Helper()
	mesh, err := New(optFns...)
	require.NoError(t, err)

	mock := provider.NewMockProvider()
	require.NoError(t, mesh.RegisterProvider(mock))
	require.NoError(t, mesh.RegisterModel("mock-small", "mock", true))
	return mesh, mock
}

func TestText(t *testing.T) {
	mesh, mock := newTestMesh(t)
	mock.AddResponse("ping", "pong")

	out, err := mesh.Text(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestTextWithTools(t *testing.T) {
	var calls int
	mesh, mock := newTestMesh(t, func(o *Options) {
		o.Tools = []*tool.Tool{
			tool.NewFunctionTool("clock", "tells the time", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
				calls++
				return "12:00", nil
			}),
		}
	})
	mock.EnqueueToolCall("clock", nil)
	mock.EnqueueText("It is noon.")

	out, err := mesh.Text(context.Background(), "What time is it?", func(c *generation.Config) {
		c.Kit = mesh.Tools()
		c.AllowedTools = []string{"clock"}
	})
	require.NoError(t, err)
	assert.Equal(t, "It is noon.", out)
	assert.Equal(t, 1, calls)
}

func TestJSON(t *testing.T) {
	mesh, mock := newTestMesh(t)
	mock.EnqueueText(`{"city": "Berlin", "population": 3700000}`)

	var out struct {
		City       string `json:"city"`
		Population int    `json:"population"`
	}
	require.NoError(t, mesh.JSON(context.Background(), "Largest German city?", &out))
	assert.Equal(t, "Berlin", out.City)
	assert.Equal(t, 3700000, out.Population)

	mock.EnqueueText("not json")
	assert.Error(t, mesh.JSON(context.Background(), "again", &out))
}

func TestAsk(t *testing.T) {
	mesh, mock := newTestMesh(t)
	require.NoError(t, mesh.RegisterAgent(&agent.Agent{
		Name:                  "assistant",
		Description:           "answers questions",
		SystemMessageTemplate: "You are helpful.",
	}))
	mock.EnqueueText("Paris")

	out, err := mesh.Ask(context.Background(), "assistant", "Capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)

	_, err = mesh.Ask(context.Background(), "stranger", "anything")
	assert.Error(t, err)
}

func TestAskSurfacesHalt(t *testing.T) {
	gated := tool.NewFunctionTool("deploy", "ships a release", nil, func(ctx context.Context, args map[string]any, inv *tool.Invocation) (any, error) {
		return "shipped", nil
	})
	gated.RequiresConfirmation = true

	mesh, mock := newTestMesh(t, func(o *Options) {
		o.Tools = []*tool.Tool{gated}
	})
	require.NoError(t, mesh.RegisterAgent(&agent.Agent{
		Name:                  "assistant",
		Description:           "operates carefully",
		SystemMessageTemplate: "You are careful.",
		AllowedTools:          []string{"deploy"},
	}))
	mock.EnqueueToolCall("deploy", nil)

	_, err := mesh.Ask(context.Background(), "assistant", "Ship it.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approvalRequired")
}

func TestEmbed(t *testing.T) {
	mesh, _ := newTestMesh(t)

	vec, err := mesh.Embed(context.Background(), "mock", "mock-embed", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
}

func TestRegisterToolConflicts(t *testing.T) {
	mesh, _ := newTestMesh(t)

	clock := tool.NewFunctionTool("clock", "tells the time", nil, nil)
	require.NoError(t, mesh.RegisterTool(clock))
	assert.Error(t, mesh.RegisterTool(clock))
}

func TestToolAccessRequiresRegisteredTool(t *testing.T) {
	mesh, _ := newTestMesh(t)
	require.NoError(t, mesh.RegisterAgent(&agent.Agent{
		Name:                  "assistant",
		Description:           "a helpful assistant",
		SystemMessageTemplate: "You are a helpful assistant.",
	}))

	assert.Error(t, mesh.Agents().AddToolAccess("assistant", "clock"))

	clock := tool.NewFunctionTool("clock", "tells the time", nil, nil)
	require.NoError(t, mesh.RegisterTool(clock))
	require.NoError(t, mesh.Agents().AddToolAccess("assistant", "clock"))
}
