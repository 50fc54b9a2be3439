// Package app loads app definitions: the declarative description of the
// actors of a run, the output template and the optional agent.
//
// Definitions are YAML or JSON documents:
//
//	name: hello
//	output_template: "{{ leaf.output_str }} {{ input.data }}"
//	actors:
//	  - id: leaf
//	    processor_slug: echo
//	    provider_slug: builtin
//	    input:
//	      input_str: "Hello, World!"
package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentgraph/agent"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/value"
)

// ErrUnknownKind is returned for actor kinds other than processor and tool.
var ErrUnknownKind = errors.New("unknown actor kind")

// Definition is an app definition.
type Definition struct {
	Name           string        `yaml:"name,omitempty" json:"name,omitempty"`
	OutputTemplate string        `yaml:"output_template,omitempty" json:"output_template,omitempty"`
	Agent          *agent.Config `yaml:"agent,omitempty" json:"agent,omitempty"`
	Actors         []Actor       `yaml:"actors" json:"actors"`
}

// Actor is the wire shape of one actor.
type Actor struct {
	ID            string         `yaml:"id" json:"id"`
	TemplateKey   string         `yaml:"template_key,omitempty" json:"template_key,omitempty"`
	Kind          string         `yaml:"kind,omitempty" json:"kind,omitempty"`
	ProcessorSlug string         `yaml:"processor_slug" json:"processor_slug"`
	ProviderSlug  string         `yaml:"provider_slug" json:"provider_slug"`
	Input         map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Config        map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Dependencies  []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	OutputType    string         `yaml:"output_type,omitempty" json:"output_type,omitempty"`
	Description   string         `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters    map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Load reads a definition file. Files ending in .json are decoded as JSON,
// everything else as YAML.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app definition: %w", err)
	}

	format := "yaml"
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		format = "json"
	}

	return Parse(data, format)
}

// Parse decodes and validates a definition.
func Parse(data []byte, format string) (*Definition, error) {
	var def Definition

	switch format {
	case "json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse app definition: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse app definition: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported app definition format %q", format)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// Validate checks the structural invariants of the definition. Processor
// lookup happens when a run is built.
func (d *Definition) Validate() error {
	cfgs, err := d.ActorConfigs()
	if err != nil {
		return err
	}

	if err := core.ValidateActorConfigs(cfgs); err != nil {
		return err
	}

	for _, cfg := range cfgs {
		if cfg.ProcessorSlug == "" || cfg.ProviderSlug == "" {
			return &core.GraphConstructionError{Name: cfg.Name, Reason: errors.New("processor_slug and provider_slug are required")}
		}
		if cfg.IsTool() && d.Agent == nil {
			return &core.GraphConstructionError{Name: cfg.Name, Reason: errors.New("tool actors require an agent")}
		}
	}

	if d.Agent != nil && d.Agent.Provider == "" {
		return &core.GraphConstructionError{Name: core.AgentActorName, Reason: errors.New("agent provider is required")}
	}

	return nil
}

// ActorConfigs converts the wire actors into core configs.
func (d *Definition) ActorConfigs() ([]core.ActorConfig, error) {
	cfgs := make([]core.ActorConfig, 0, len(d.Actors))

	for _, a := range d.Actors {
		kind := core.ActorKind(a.Kind)
		switch kind {
		case "":
			kind = core.ActorKindProcessor
		case core.ActorKindProcessor, core.ActorKindTool:
		default:
			return nil, &core.GraphConstructionError{Name: a.ID, Reason: fmt.Errorf("%w %q", ErrUnknownKind, a.Kind)}
		}

		cfgs = append(cfgs, core.ActorConfig{
			Name:          a.ID,
			TemplateKey:   a.TemplateKey,
			Kind:          kind,
			ProcessorSlug: a.ProcessorSlug,
			ProviderSlug:  a.ProviderSlug,
			Input:         toMap(a.Input),
			Config:        toMap(a.Config),
			Dependencies:  a.Dependencies,
			OutputType:    a.OutputType,
			Description:   a.Description,
			Parameters:    a.Parameters,
		})
	}

	return cfgs, nil
}

func toMap(m map[string]any) value.Map {
	if m == nil {
		return nil
	}
	v, _ := value.FromAny(m).(value.Map)
	return v
}
