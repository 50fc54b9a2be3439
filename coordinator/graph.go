package coordinator

import (
	"fmt"
	"sort"

	"github.com/hupe1980/agentgraph/actor"
	"github.com/hupe1980/agentgraph/agent"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
)

// DefaultAgentOutputTemplate renders the agent's answer when an agent run
// declares no output template.
const DefaultAgentOutputTemplate = "{{ agent.text }}"

// graph is the resolved actor graph of a run. It is read-only after
// buildGraph returns.
type graph struct {
	actors []actor.Actor
	tools  []string
	// keys maps actor names to template keys.
	keys map[string]string
	// names maps template keys to actor names.
	names        map[string]string
	dependencies map[string][]string
	dependents   map[string][]string
	participants []string

	input  *actor.InputActor
	output *actor.OutputActor
	agent  *agent.Actor
}

func buildGraph(cfgs []core.ActorConfig, opts *Options) (*graph, error) {
	if err := core.ValidateActorConfigs(cfgs); err != nil {
		return nil, err
	}

	g := &graph{
		keys:         map[string]string{},
		names:        map[string]string{},
		dependencies: map[string][]string{},
		dependents:   map[string][]string{},
	}

	g.input = actor.NewInputActor()
	g.add(g.input)

	var toolDefs []model.ToolDefinition

	for _, cfg := range cfgs {
		proc, spec, err := opts.Registry.New(cfg)
		if err != nil {
			return nil, &core.GraphConstructionError{Name: cfg.Name, Reason: err}
		}

		pa := actor.NewProcessorActor(cfg, proc, func(o *actor.ProcessorActorOptions) {
			o.Renderer = opts.Renderer
			o.Credentials = opts.Credentials
			o.InputSchema = spec.InputSchema
			if opts.Metrics != nil {
				o.Observer = opts.Metrics
			}
		})

		if cfg.IsTool() {
			g.tools = append(g.tools, cfg.Name)
			g.actors = append(g.actors, pa)
			g.keys[cfg.Name] = cfg.Key()
			toolDefs = append(toolDefs, agent.ToolDefinition(cfg, pa.ToolSchema()))
			continue
		}

		g.add(pa)
	}

	tpl := opts.OutputTemplate

	if opts.Agent != nil {
		if opts.Models == nil {
			return nil, &core.GraphConstructionError{Name: core.AgentActorName, Reason: fmt.Errorf("no model factory configured")}
		}

		m, err := opts.Models(*opts.Agent)
		if err != nil {
			return nil, &core.GraphConstructionError{Name: core.AgentActorName, Reason: err}
		}

		g.agent = agent.NewActor(*opts.Agent, m, func(o *agent.ActorOptions) {
			o.Tools = toolDefs
			o.Renderer = opts.Renderer
			o.Tracer = opts.Tracer
			if opts.Metrics != nil {
				o.Observer = opts.Metrics
			}
		})
		g.add(g.agent)

		if tpl == "" {
			tpl = DefaultAgentOutputTemplate
		}
	} else if len(g.tools) > 0 {
		return nil, &core.GraphConstructionError{Name: g.tools[0], Reason: fmt.Errorf("tool actors require an agent")}
	}

	g.output = actor.NewOutputActor(tpl, opts.Renderer)
	g.add(g.output)

	g.resolve()

	return g, nil
}

// add registers a graph participant.
func (g *graph) add(a actor.Actor) {
	g.actors = append(g.actors, a)
	g.keys[a.Name()] = a.TemplateKey()
	g.names[a.TemplateKey()] = a.Name()
	g.participants = append(g.participants, a.Name())
}

// resolve computes the dependencies and dependents maps. Dependencies are
// template keys; dependents are actor names.
func (g *graph) resolve() {
	for _, a := range g.actors {
		name := a.Name()
		if g.isTool(name) || name == core.OutputActorName {
			continue
		}
		g.dependencies[name] = g.resolveKeys(name, a.Dependencies())
	}

	for name, deps := range g.dependencies {
		for _, key := range deps {
			dep := g.names[key]
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	// The output waits for the keys its template references, the input and
	// every leaf.
	outDeps := map[string]struct{}{core.InputActorName: {}}
	for _, key := range g.resolveKeys(core.OutputActorName, g.output.Dependencies()) {
		outDeps[key] = struct{}{}
	}
	for _, name := range g.participants {
		if name == core.OutputActorName || name == core.InputActorName {
			continue
		}
		if len(g.dependents[name]) == 0 {
			outDeps[g.keys[name]] = struct{}{}
		}
	}

	g.dependencies[core.OutputActorName] = sortedKeys(outDeps)
	for key := range outDeps {
		dep := g.names[key]
		g.dependents[dep] = append(g.dependents[dep], core.OutputActorName)
	}

	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}
}

// resolveKeys maps declared dependencies to template keys. Names are
// accepted in place of keys; unknown identifiers and self references are
// dropped.
func (g *graph) resolveKeys(self string, deps []string) []string {
	set := map[string]struct{}{}

	for _, d := range deps {
		key := d
		if _, ok := g.names[d]; !ok {
			k, known := g.keys[d]
			if !known || g.isTool(d) {
				continue
			}
			key = k
		}
		if g.names[key] == self {
			continue
		}
		set[key] = struct{}{}
	}

	return sortedKeys(set)
}

func (g *graph) isTool(name string) bool {
	for _, t := range g.tools {
		if t == name {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
