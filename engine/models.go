package engine

import (
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentgraph/agent"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/model/anthropic"
	"github.com/hupe1980/agentgraph/model/openai"
	"github.com/hupe1980/agentgraph/processor"
)

// Provider slugs of the built-in language model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ProviderConfig selects the default models of the built-in providers. The
// OpenAI client reads OPENAI_API_KEY from the environment.
type ProviderConfig struct {
	OpenAIModel     string
	AnthropicModel  string
	AnthropicAPIKey string
}

// NewModel creates a model of a built-in provider. An empty name selects
// the provider default.
func (p ProviderConfig) NewModel(provider, name string, temperature *float64) (model.Model, error) {
	switch provider {
	case ProviderOpenAI:
		if name == "" {
			name = p.OpenAIModel
		}
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
			if temperature != nil {
				o.Temperature = *temperature
			}
		}), nil
	case ProviderAnthropic:
		if name == "" {
			name = p.AnthropicModel
		}
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
			if temperature != nil {
				o.Temperature = *temperature
			}
			o.APIKey = p.AnthropicAPIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

// AgentModels returns the agent model factory of the built-in providers.
func (p ProviderConfig) AgentModels() agent.ModelFactory {
	return func(cfg agent.Config) (model.Model, error) {
		return p.NewModel(cfg.Provider, cfg.Model, cfg.Temperature)
	}
}

// RegisterChat registers the chat processors of the built-in providers.
func (p ProviderConfig) RegisterChat(r *processor.Registry) error {
	for _, provider := range []string{ProviderOpenAI, ProviderAnthropic} {
		provider := provider
		spec := processor.ChatSpec(provider, func(cfg processor.ChatConfig) (model.Model, error) {
			return p.NewModel(provider, cfg.Model, cfg.Temperature)
		})
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}
