package agent

import (
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
)

// Config is the agent section of an app definition.
type Config struct {
	Provider            string   `json:"provider" yaml:"provider"`
	Model               string   `json:"model,omitempty" yaml:"model,omitempty"`
	SystemMessage       string   `json:"system_message,omitempty" yaml:"system_message,omitempty"`
	UserMessageTemplate string   `json:"user_message_template,omitempty" yaml:"user_message_template,omitempty"`
	MaxSteps            int      `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	Stream              bool     `json:"stream,omitempty" yaml:"stream,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// ModelFactory creates the model the agent talks to.
type ModelFactory func(cfg Config) (model.Model, error)

// ToolDefinition builds the model-facing definition of a tool actor.
func ToolDefinition(cfg core.ActorConfig, schema map[string]any) model.ToolDefinition {
	desc := cfg.Description
	if desc == "" {
		desc = "Invoke " + cfg.Name
	}
	return model.NewToolDefinition(cfg.Name, desc, schema)
}
