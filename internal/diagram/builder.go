package diagram

import (
	"fmt"

	"github.com/rendis/colloquy/internal/engine"
	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/pkg/schema"
)

// Build constructs a Model from a template and an optional dialog whose step
// results overlay runtime status onto the nodes. The main flow follows the
// enabled steps in declaration order; disabled steps appear detached unless a
// fallback detour points at them.
func Build(tpl *schema.Template, d *store.Dialog) (*Model, error) {
	machine, err := engine.Compile(tpl)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	results := map[string]*store.StepResult{}
	if d != nil {
		for _, r := range d.StepResults {
			results[r.StepName] = r
		}
	}

	nodes := make([]*Node, 0, len(tpl.Steps)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i := range tpl.Steps {
		step := &tpl.Steps[i]
		node := &Node{
			ID:       step.Name,
			Label:    nodeLabel(step),
			Kind:     stepKindToNodeKind(step.Kind),
			Disabled: !step.IsEnabled(),
		}
		if r, ok := results[step.Name]; ok {
			node.Status = overlayFromResult(r)
		}
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	edges := mainFlowEdges(machine)
	edges = append(edges, fallbackEdges(machine)...)

	return &Model{Title: tpl.Name, Nodes: nodes, Edges: edges}, nil
}

const (
	startID = "__start__"
	endID   = "__end__"
)

// mainFlowEdges chains the enabled steps between the virtual start and end
// nodes.
func mainFlowEdges(m *engine.Machine) []Edge {
	var edges []Edge
	prev := startID
	for name, ok := m.First(); ok; name, ok = m.Next(name) {
		edges = append(edges, Edge{From: prev, To: name})
		prev = name
	}
	edges = append(edges, Edge{From: prev, To: endID})
	return edges
}

// fallbackEdges adds a dashed detour from each step with a fallback policy to
// its fallback step, and from the fallback step back into the main flow.
func fallbackEdges(m *engine.Machine) []Edge {
	var edges []Edge
	for name, ok := m.First(); ok; name, ok = m.Next(name) {
		eh := m.ErrorHandling(name)
		if eh.Strategy != schema.ErrorStrategyFallback || eh.FallbackStep == "" {
			continue
		}
		if m.Step(eh.FallbackStep) == nil {
			continue
		}
		edges = append(edges, Edge{From: name, To: eh.FallbackStep, Label: "on error", Detour: true})

		resume := endID
		if next, ok := m.Next(name); ok {
			resume = next
		}
		edges = append(edges, Edge{From: eh.FallbackStep, To: resume, Detour: true})
	}
	return edges
}

func stepKindToNodeKind(k schema.StepKind) NodeKind {
	switch k {
	case schema.StepKindPrompt:
		return NodeKindPrompt
	case schema.StepKindUserInput:
		return NodeKindUserInput
	case schema.StepKindInvoke:
		return NodeKindInvoke
	default:
		return NodeKindMessage
	}
}

func nodeLabel(step *schema.Step) string {
	switch step.Kind {
	case schema.StepKindInvoke:
		if step.Callable != "" {
			return fmt.Sprintf("%s (%s)", step.Name, step.Callable)
		}
	case schema.StepKindPrompt:
		if step.Template != "" {
			return fmt.Sprintf("%s (%s)", step.Name, step.Template)
		}
	}
	return step.Name
}

func overlayFromResult(r *store.StepResult) *StatusOverlay {
	errStr := ""
	if len(r.Error) > 0 {
		errStr = string(r.Error)
	}
	return &StatusOverlay{
		Status:     string(r.Status),
		Attempts:   r.Attempts,
		DurationMs: r.DurationMs,
		Error:      errStr,
	}
}
