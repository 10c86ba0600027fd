package engine

import (
	"github.com/rendis/colloquy/pkg/schema"
)

// Machine is the compiled, immutable execution plan for one template: the
// ordered step list plus the dialog status transition table. Compilation is
// deterministic; compiling the same template twice yields the same machine.
type Machine struct {
	template *schema.Template
	order    []string
	index    map[string]int
}

// Compile builds a Machine from a template. Step names must be unique and
// every resolved fallback chain must reference existing, runnable steps and
// terminate; violations return TEMPLATE_ERROR.
func Compile(tpl *schema.Template) (*Machine, error) {
	if tpl == nil {
		return nil, schema.NewError(schema.ErrCodeTemplate, "template is nil")
	}
	if len(tpl.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeTemplate, "template has no steps")
	}

	m := &Machine{
		template: tpl,
		order:    make([]string, 0, len(tpl.Steps)),
		index:    make(map[string]int, len(tpl.Steps)),
	}
	for i := range tpl.Steps {
		step := &tpl.Steps[i]
		if _, exists := m.index[step.Name]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate, "duplicate step name %q", step.Name)
		}
		m.index[step.Name] = i
		m.order = append(m.order, step.Name)
	}
	if err := m.checkFallbacks(); err != nil {
		return nil, err
	}
	return m, nil
}

// checkFallbacks walks the resolved fallback edge from every step and rejects
// dangling references, user_input targets, and cycles. A fallback chain must
// terminate; a revisited step would loop the engine forever.
func (m *Machine) checkFallbacks() error {
	for _, name := range m.order {
		seen := map[string]bool{name: true}
		current := name
		for {
			eh := m.ErrorHandling(current)
			if eh.Strategy != schema.ErrorStrategyFallback {
				break
			}
			if eh.FallbackStep == "" {
				return schema.NewErrorf(schema.ErrCodeTemplate,
					"step %q: fallback strategy requires fallback_step", current)
			}
			fb := m.Step(eh.FallbackStep)
			if fb == nil {
				return schema.NewErrorf(schema.ErrCodeTemplate,
					"fallback_step %q of step %q does not exist", eh.FallbackStep, current)
			}
			if fb.Kind == schema.StepKindUserInput {
				return schema.NewErrorf(schema.ErrCodeTemplate,
					"fallback_step %q of step %q is a user_input step and cannot run as a fallback", fb.Name, current)
			}
			if seen[fb.Name] {
				return schema.NewErrorf(schema.ErrCodeTemplate,
					"fallback cycle through step %q", fb.Name)
			}
			seen[fb.Name] = true
			current = fb.Name
		}
	}
	return nil
}

// Template returns the machine's source template.
func (m *Machine) Template() *schema.Template { return m.template }

// Step returns the step definition by name, or nil.
func (m *Machine) Step(name string) *schema.Step {
	i, ok := m.index[name]
	if !ok {
		return nil
	}
	return &m.template.Steps[i]
}

// Position returns the step's position in the template, or -1.
func (m *Machine) Position(name string) int {
	i, ok := m.index[name]
	if !ok {
		return -1
	}
	return i
}

// First returns the first enabled step name. ok is false when every step is
// disabled.
func (m *Machine) First() (string, bool) {
	return m.nextEnabledFrom(0)
}

// Next returns the enabled step following the named one. ok is false when the
// named step is the last enabled step.
func (m *Machine) Next(after string) (string, bool) {
	i, ok := m.index[after]
	if !ok {
		return "", false
	}
	return m.nextEnabledFrom(i + 1)
}

func (m *Machine) nextEnabledFrom(start int) (string, bool) {
	for i := start; i < len(m.template.Steps); i++ {
		if m.template.Steps[i].IsEnabled() {
			return m.template.Steps[i].Name, true
		}
	}
	return "", false
}

// ErrorHandling resolves the effective error policy for a step: the step's
// own policy, else the template default, else fail.
func (m *Machine) ErrorHandling(name string) *schema.ErrorHandling {
	if step := m.Step(name); step != nil && step.ErrorHandling != nil {
		return step.ErrorHandling
	}
	if m.template.ErrorHandling != nil {
		return m.template.ErrorHandling
	}
	return &schema.ErrorHandling{Strategy: schema.ErrorStrategyFail}
}

// validDialogTransitions defines the allowed dialog status transitions.
var validDialogTransitions = map[schema.DialogStatus][]schema.DialogStatus{
	schema.DialogStatusPending:      {schema.DialogStatusRunning, schema.DialogStatusFailed},
	schema.DialogStatusRunning:      {schema.DialogStatusWaitingInput, schema.DialogStatusCompleted, schema.DialogStatusFailed},
	schema.DialogStatusWaitingInput: {schema.DialogStatusRunning, schema.DialogStatusFailed},
	schema.DialogStatusCompleted:    {},
	schema.DialogStatusFailed:       {},
}

// checkTransition validates a dialog status transition.
func checkTransition(dialogID string, from, to schema.DialogStatus) error {
	for _, allowed := range validDialogTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	if from.Terminal() {
		return schema.NewErrorf(schema.ErrCodeDialogTerminal,
			"dialog %s is %s and admits no further transitions", dialogID, from).
			WithDetails(map[string]any{"dialog_id": dialogID, "from": string(from), "to": string(to)})
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid dialog transition: %s -> %s", from, to).
		WithDetails(map[string]any{"dialog_id": dialogID, "from": string(from), "to": string(to)})
}
