// Package config loads team configuration from YAML: providers, model
// routing with per-model quirks, agent definitions and execution limits.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root document.
type Config struct {
	Providers Providers     `yaml:"providers"`
	Models    []ModelConfig `yaml:"models"`
	Agents    []AgentConfig `yaml:"agents"`
	Limits    LimitsConfig  `yaml:"limits"`
	Logging   LoggingConfig `yaml:"logging"`
}

// Providers enables vendor adapters. A nil entry leaves the vendor out.
type Providers struct {
	OpenAI    *OpenAIConfig    `yaml:"openai"`
	Anthropic *AnthropicConfig `yaml:"anthropic"`
	Ollama    *OllamaConfig    `yaml:"ollama"`
}

// OpenAIConfig configures the OpenAI adapter. APIKeyEnv names the
// environment variable holding the key; the SDK default applies when empty.
type OpenAIConfig struct {
	APIKeyEnv      string `yaml:"apiKeyEnv"`
	BaseURL        string `yaml:"baseUrl"`
	EmbeddingModel string `yaml:"embeddingModel"`
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKeyEnv string `yaml:"apiKeyEnv"`
}

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	Host string `yaml:"host"`
}

// ModelConfig routes a model name to a provider, optionally marking it the
// default and declaring parameter quirks.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
	Default  bool   `yaml:"default"`
	Quirks   Quirks `yaml:"quirks"`
}

// Quirks flags parameters a model rejects; they are dropped with a debug
// log instead of failing the request.
type Quirks struct {
	NoTemperature   bool `yaml:"noTemperature"`
	NoSystemMessage bool `yaml:"noSystemMessage"`
}

// AgentConfig declares an agent.
type AgentConfig struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	SystemMessage string   `yaml:"systemMessage"`
	Model         string   `yaml:"model"`
	Temperature   *float64 `yaml:"temperature"`
	ResponseType  string   `yaml:"responseType"`
	AllowedTools  []string `yaml:"allowedTools"`
	CanDelegateTo []string `yaml:"canDelegateTo"`
	CanTransferTo []string `yaml:"canTransferTo"`
}

// LimitsConfig bounds task execution. Zero values fall back to the team
// defaults.
type LimitsConfig struct {
	MaxIterations     int `yaml:"maxIterations"`
	MaxGenerations    int `yaml:"maxGenerations"`
	MaxDelegations    int `yaml:"maxDelegations"`
	MaxToolCalls      int `yaml:"maxToolCalls"`
	MaxToolCallErrors int `yaml:"maxToolCallErrors"`
}

// LoggingConfig selects the log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default info).
	Level string `yaml:"level"`
	// Format is text or json (default text).
	Format string `yaml:"format"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes and validates cross references.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks internal consistency: model entries name an enabled
// provider, at most one default model, and agent delegate/transfer targets
// reference declared agents.
func (c *Config) Validate() error {
	enabled := map[string]bool{
		"openai":    c.Providers.OpenAI != nil,
		"anthropic": c.Providers.Anthropic != nil,
		"ollama":    c.Providers.Ollama != nil,
	}

	defaults := 0
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model entry without a name")
		}
		if !enabled[m.Provider] {
			return fmt.Errorf("model %q references provider %q which is not enabled", m.Name, m.Provider)
		}
		if m.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("more than one default model declared")
	}

	names := map[string]bool{}
	for _, a := range c.Agents {
		if names[a.Name] {
			return fmt.Errorf("duplicate agent %q", a.Name)
		}
		names[a.Name] = true
	}
	for _, a := range c.Agents {
		for _, d := range a.CanDelegateTo {
			if !names[d] {
				return fmt.Errorf("agent %q delegates to undeclared agent %q", a.Name, d)
			}
		}
		for _, t := range a.CanTransferTo {
			if !names[t] {
				return fmt.Errorf("agent %q transfers to undeclared agent %q", a.Name, t)
			}
		}
	}
	return nil
}
