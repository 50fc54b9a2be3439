package processor

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/schema"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/value"
)

// ChatInput is the input of the chat processors.
type ChatInput struct {
	Prompt string `json:"prompt" description:"User prompt sent to the model"`
}

// ChatConfig configures a chat processor.
type ChatConfig struct {
	Model         string   `json:"model,omitempty"`
	SystemMessage string   `json:"system_message,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// ModelFactory creates the model a chat processor talks to.
type ModelFactory func(cfg ChatConfig) (model.Model, error)

// Chat sends a single prompt to a language model and returns {text}.
// Streamed deltas are emitted as {text: delta} chunks.
type Chat struct {
	cfg   ChatConfig
	model model.Model
}

// NewChat creates a chat processor around m.
func NewChat(m model.Model, cfg ChatConfig) *Chat {
	return &Chat{cfg: cfg, model: m}
}

// Process implements Processor.
func (c *Chat) Process(env *Env, input value.Map) (value.Value, error) {
	var in ChatInput
	if err := Decode(input, &in); err != nil {
		return nil, err
	}

	var turns []core.AgentTurn
	if c.cfg.SystemMessage != "" {
		turns = append(turns, core.NewTextTurn(core.RoleSystem, c.cfg.SystemMessage))
	}
	turns = append(turns, core.NewTextTurn(core.RoleUser, in.Prompt))

	req := model.Request{
		Messages:    turns,
		Stream:      c.cfg.Stream,
		Temperature: c.cfg.Temperature,
	}

	start := time.Now()
	respCh, errCh := c.model.Generate(env.Context, req)

	var (
		final   *model.Response
		emitted bool
	)

	for resp := range respCh {
		if resp.Partial {
			if resp.Delta == "" {
				continue
			}
			if err := env.Emit(value.Map{"text": value.String(resp.Delta)}); err != nil {
				return nil, err
			}
			emitted = true
			continue
		}
		r := resp
		final = &r
	}

	if err := <-errCh; err != nil {
		env.LogWarn("processor.chat.failed", "model", c.model.Info().Name, "error", err.Error())
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if final == nil {
		return nil, nil
	}

	if u := final.Usage; u != nil {
		env.RecordUsage(value.Map{
			"prompt_tokens":     value.Number(u.PromptTokens),
			"completion_tokens": value.Number(u.CompletionTokens),
			"total_tokens":      value.Number(u.TotalTokens),
		})
	}

	env.LogDebug("processor.chat.completed",
		"model", c.model.Info().Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if emitted {
		// The stitched deltas already carry the text.
		return nil, nil
	}

	return value.Map{"text": value.String(final.Text)}, nil
}

// ChatSpec registers a chat processor for the given provider slug.
func ChatSpec(providerSlug string, factory ModelFactory) Spec {
	return Spec{
		ProcessorSlug: "chat",
		ProviderSlug:  providerSlug,
		Description:   "Complete a prompt with a language model",
		InputSchema:   schema.Of(ChatInput{}),
		New: func(cfg core.ActorConfig) (Processor, error) {
			var c ChatConfig
			if err := Decode(cfg.Config, &c); err != nil {
				return nil, err
			}
			m, err := factory(c)
			if err != nil {
				return nil, err
			}
			return NewChat(m, c), nil
		},
	}
}
