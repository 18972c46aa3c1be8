// Package taskmesh provides a high-level façade over the provider registry,
// the generation engine and the team orchestrator, enabling rapid
// construction of multi-agent task systems. Most applications interact with
// this package by:
//  1. Creating a TaskMesh via New() and registering providers and models
//  2. Registering tools and agents
//  3. Creating tasks (CreateTask/ExecuteTask) or using the thin Ask/Text/JSON
//     helpers for single-shot requests
//
// The façade delegates orchestration to team.Team and generation to
// generation.Engine while keeping setup concise. Defaults are safe for local
// development; production deployments typically supply a durable task store
// and a structured logger.
package taskmesh

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/generation"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/provider"
	"github.com/hupe1980/taskmesh/task"
	"github.com/hupe1980/taskmesh/team"
	"github.com/hupe1980/taskmesh/tool"
)

// Options configures the TaskMesh instance.
type Options struct {
	Logger logging.Logger
	// Defaults apply to every generation lacking an explicit value.
	Defaults generation.Defaults
	// Buffering enables stream chunk coalescing when non-nil.
	Buffering *generation.BufferOptions
	// Store persists task snapshots (default in-memory).
	Store task.Store
	// Limits bounds every task execution.
	Limits team.Limits
	// Tools pre-registers function tools.
	Tools []*tool.Tool
}

// TaskMesh is the high-level façade aggregating the registries, the
// generation engine and the team orchestrator.
type TaskMesh struct {
	providers *provider.Registry
	agents    *agent.Registry
	kit       *tool.Kit
	engine    *generation.Engine
	team      *team.Team
	logger    logging.Logger
}

// New creates a TaskMesh with optional overrides. Unset services are
// initialized with in-memory implementations.
func New(optFns ...func(o *Options)) (*TaskMesh, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Store:  task.NewInMemoryStore(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	kit, err := tool.NewKit(opts.Tools...)
	if err != nil {
		return nil, err
	}

	providers := provider.NewRegistry()
	agents := agent.NewRegistry(func(o *agent.RegistryOptions) {
		o.HasTool = kit.Has
	})

	engine := generation.NewEngine(providers, func(o *generation.Options) {
		o.Logger = opts.Logger
		o.Defaults.Temperature = opts.Defaults.Temperature
		o.Defaults.MaxTokens = opts.Defaults.MaxTokens
		if opts.Defaults.MaxToolCalls > 0 {
			o.Defaults.MaxToolCalls = opts.Defaults.MaxToolCalls
		}
		if opts.Defaults.MaxToolCallErrors > 0 {
			o.Defaults.MaxToolCallErrors = opts.Defaults.MaxToolCallErrors
		}
		o.Buffering = opts.Buffering
	})

	mesh := &TaskMesh{
		providers: providers,
		agents:    agents,
		kit:       kit,
		engine:    engine,
		logger:    opts.Logger,
	}
	mesh.team = team.New(agents, kit, engine, func(o *team.Options) {
		o.Logger = opts.Logger
		o.Store = opts.Store
		o.Limits = opts.Limits
	})
	return mesh, nil
}

// Providers returns the provider registry for registration and routing.
func (m *TaskMesh) Providers() *provider.Registry { return m.providers }

// Agents returns the agent registry.
func (m *TaskMesh) Agents() *agent.Registry { return m.agents }

// Tools returns the tool kit.
func (m *TaskMesh) Tools() *tool.Kit { return m.kit }

// Engine returns the generation engine for direct generation calls.
func (m *TaskMesh) Engine() *generation.Engine { return m.engine }

// Team returns the task orchestrator.
func (m *TaskMesh) Team() *team.Team { return m.team }

// RegisterProvider adds a vendor adapter; the first registered becomes the
// default.
func (m *TaskMesh) RegisterProvider(p provider.Provider) error {
	return m.providers.RegisterProvider(p)
}

// RegisterModel routes a model name to a registered provider.
func (m *TaskMesh) RegisterModel(model, providerName string, setDefault bool) error {
	return m.providers.RegisterModel(model, providerName, setDefault)
}

// RegisterAgent validates and adds an agent.
func (m *TaskMesh) RegisterAgent(a *agent.Agent) error {
	return m.agents.Register(a)
}

// RegisterTool adds a tool to the kit.
func (m *TaskMesh) RegisterTool(tools ...*tool.Tool) error {
	return m.kit.Register(tools...)
}

// Text performs a single-shot generation over a user prompt and returns the
// assistant's text.
func (m *TaskMesh) Text(ctx context.Context, prompt string, optFns ...func(c *generation.Config)) (string, error) {
	cfg := generation.Config{}
	for _, fn := range optFns {
		fn(&cfg)
	}
	res, err := m.engine.GenerateAndProcessTools(ctx, []core.Message{core.NewUserTextMessage(prompt)}, cfg)
	if err != nil {
		return "", err
	}
	if res.StopReason == core.StopToolApprovalRequired {
		return "", fmt.Errorf("generation stopped: tool calls require approval")
	}
	return res.Text(), nil
}

// JSON performs a single-shot generation requesting a JSON object response
// and unmarshals it into target.
func (m *TaskMesh) JSON(ctx context.Context, prompt string, target any, optFns ...func(c *generation.Config)) error {
	text, err := m.Text(ctx, prompt, append(optFns, func(c *generation.Config) {
		c.JSONOutput = true
	})...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), target); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return nil
}

// Ask runs a full task for the named agent and returns the final result
// text. The task halts instead of erroring on limits and approval gates;
// those surface as an error naming the halt reason.
func (m *TaskMesh) Ask(ctx context.Context, agentName, prompt string) (string, error) {
	exec, err := m.team.CreateTask(ctx, agentName, prompt)
	if err != nil {
		return "", err
	}
	if err := m.team.ExecuteTask(ctx, exec); err != nil {
		return "", err
	}
	if exec.Status() != task.StatusCompleted {
		return "", fmt.Errorf("task %s halted: %s", exec.ID, exec.HaltReason())
	}
	return exec.Result(), nil
}

// Embed creates an embedding via the named provider.
func (m *TaskMesh) Embed(ctx context.Context, providerName, model, text string) ([]float64, error) {
	return m.engine.Embed(ctx, providerName, model, text)
}
