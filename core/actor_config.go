package core

import (
	"fmt"

	"github.com/hupe1980/agentgraph/value"
)

// ActorKind selects how an ActorConfig is materialized.
type ActorKind string

const (
	// ActorKindProcessor is a graph step backed by a processor.
	ActorKindProcessor ActorKind = "processor"
	// ActorKindTool is a processor exposed to the agent as a callable tool.
	ActorKindTool ActorKind = "tool"
)

// ActorConfig is the immutable declaration of one actor in a run.
type ActorConfig struct {
	Name          string    `json:"name"`
	TemplateKey   string    `json:"template_key,omitempty"`
	Kind          ActorKind `json:"kind,omitempty"`
	ProcessorSlug string    `json:"processor_slug"`
	ProviderSlug  string    `json:"provider_slug"`
	Input         value.Map `json:"input,omitempty"`
	Config        value.Map `json:"config,omitempty"`
	Dependencies  []string  `json:"dependencies,omitempty"`
	// OutputType optionally pins the kind of the finalized output (see
	// value.Kind); "null" is not accepted.
	OutputType string `json:"output_type,omitempty"`

	// Description and Parameters describe the actor when it is exposed as a
	// tool. Parameters is a JSON schema; when empty the processor's input
	// schema is used.
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Key returns the template key, defaulting to the actor name.
func (c ActorConfig) Key() string {
	if c.TemplateKey != "" {
		return c.TemplateKey
	}
	return c.Name
}

// IsTool reports whether the actor is exposed as a tool.
func (c ActorConfig) IsTool() bool { return c.Kind == ActorKindTool }

var outputTypes = map[string]struct{}{"boolean": {}, "number": {}, "string": {}, "list": {}, "map": {}}

// CheckOutput reports an error when v does not match the declared
// OutputType. Configs without an OutputType accept any value.
func (c ActorConfig) CheckOutput(v value.Value) error {
	if c.OutputType == "" {
		return nil
	}
	if got := value.Kind(v); got != c.OutputType {
		return fmt.Errorf("output is %s, declared output_type is %s", got, c.OutputType)
	}
	return nil
}

// ValidateActorConfigs checks the construction-time invariants of a run:
// names are non-empty, unique and not reserved, template keys are unique
// (including against the reserved names, which double as their own keys) and
// output types are known.
func ValidateActorConfigs(cfgs []ActorConfig) error {
	names := make(map[string]struct{}, len(cfgs))
	keys := make(map[string]struct{}, len(cfgs))

	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return &GraphConstructionError{Name: cfg.Name, Reason: ErrEmptyName}
		}
		if IsReservedName(cfg.Name) {
			return &GraphConstructionError{Name: cfg.Name, Reason: ErrReservedName}
		}
		if _, dup := names[cfg.Name]; dup {
			return &GraphConstructionError{Name: cfg.Name, Reason: ErrDuplicateName}
		}
		names[cfg.Name] = struct{}{}

		key := cfg.Key()
		if IsReservedName(key) {
			return &GraphConstructionError{Name: key, Reason: ErrReservedName}
		}
		if _, dup := keys[key]; dup {
			return &GraphConstructionError{Name: key, Reason: ErrDuplicateTemplateKey}
		}
		keys[key] = struct{}{}

		if cfg.OutputType != "" {
			if _, ok := outputTypes[cfg.OutputType]; !ok {
				return &GraphConstructionError{Name: cfg.Name, Reason: fmt.Errorf("%w: %q", ErrUnknownOutputType, cfg.OutputType)}
			}
		}
	}

	return nil
}
