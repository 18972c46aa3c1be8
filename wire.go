package taskmesh

import (
	"fmt"
	"os"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/config"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/provider"
	"github.com/hupe1980/taskmesh/provider/anthropic"
	"github.com/hupe1980/taskmesh/provider/ollama"
	"github.com/hupe1980/taskmesh/provider/openai"
	"github.com/hupe1980/taskmesh/team"
)

// FromConfig builds a fully wired TaskMesh from a parsed configuration:
// vendor adapters, model routing with quirks, agents with their links, and
// execution limits. Additional options are applied before wiring so they
// can still override the logger or store.
func FromConfig(cfg *config.Config, optFns ...func(o *Options)) (*TaskMesh, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := loggerFromConfig(cfg.Logging)

	mesh, err := New(append([]func(o *Options){func(o *Options) {
		o.Logger = logger
		o.Limits = team.Limits{
			MaxIterations:     cfg.Limits.MaxIterations,
			MaxGenerations:    cfg.Limits.MaxGenerations,
			MaxDelegations:    cfg.Limits.MaxDelegations,
			MaxToolCalls:      cfg.Limits.MaxToolCalls,
			MaxToolCallErrors: cfg.Limits.MaxToolCallErrors,
		}
	}}, optFns...)...)
	if err != nil {
		return nil, err
	}

	if err := registerProviders(mesh, cfg.Providers); err != nil {
		return nil, err
	}

	for _, m := range cfg.Models {
		if err := mesh.RegisterModel(m.Name, m.Provider, m.Default); err != nil {
			return nil, err
		}
		if m.Quirks.NoTemperature || m.Quirks.NoSystemMessage {
			mesh.Providers().SetModelQuirks(m.Name, provider.ModelQuirks{
				NoTemperature:   m.Quirks.NoTemperature,
				NoSystemMessage: m.Quirks.NoSystemMessage,
			})
		}
	}

	for _, a := range cfg.Agents {
		if err := mesh.RegisterAgent(&agent.Agent{
			Name:                  a.Name,
			Description:           a.Description,
			SystemMessageTemplate: a.SystemMessage,
			Model:                 a.Model,
			Temperature:           a.Temperature,
			ResponseType:          agent.ResponseType(a.ResponseType),
			AllowedTools:          a.AllowedTools,
			CanDelegateTo:         a.CanDelegateTo,
			CanTransferTo:         a.CanTransferTo,
		}); err != nil {
			return nil, err
		}
	}
	return mesh, nil
}

func registerProviders(mesh *TaskMesh, providers config.Providers) error {
	if c := providers.OpenAI; c != nil {
		p := openai.New(func(o *openai.Options) {
			if c.APIKeyEnv != "" {
				o.APIKey = os.Getenv(c.APIKeyEnv)
			}
			o.BaseURL = c.BaseURL
			if c.EmbeddingModel != "" {
				o.EmbeddingModel = c.EmbeddingModel
			}
		})
		if err := mesh.RegisterProvider(p); err != nil {
			return err
		}
	}
	if c := providers.Anthropic; c != nil {
		p := anthropic.New(func(o *anthropic.Options) {
			if c.APIKeyEnv != "" {
				o.APIKey = os.Getenv(c.APIKeyEnv)
			}
		})
		if err := mesh.RegisterProvider(p); err != nil {
			return err
		}
	}
	if c := providers.Ollama; c != nil {
		p, err := ollama.New(func(o *ollama.Options) {
			o.Host = c.Host
		})
		if err != nil {
			return fmt.Errorf("ollama provider: %w", err)
		}
		if err := mesh.RegisterProvider(p); err != nil {
			return err
		}
	}
	return nil
}

func loggerFromConfig(cfg config.LoggingConfig) logging.Logger {
	if cfg.Level == "" && cfg.Format == "" {
		return logging.NoOpLogger{}
	}
	return logging.NewSlogLogger(logging.ParseLogLevel(cfg.Level), cfg.Format, false)
}
