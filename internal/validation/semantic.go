package validation

import (
	"fmt"
	"time"

	"github.com/rendis/colloquy/pkg/schema"
)

// checkSemantics runs the structural checks JSON Schema cannot express:
// duplicate step names, dangling fallback references, kind-specific required
// fields and error-handling coherence.
func checkSemantics(tpl *schema.Template) error {
	result := &schema.ValidationResult{}

	names := make(map[string]int, len(tpl.Steps))
	for i, step := range tpl.Steps {
		if _, exists := names[step.Name]; exists {
			result.AddError(stepPath(i), "duplicate_step",
				fmt.Sprintf("duplicate step name %q", step.Name))
		}
		names[step.Name] = i
	}

	for i := range tpl.Steps {
		step := &tpl.Steps[i]
		checkStepFields(result, stepPath(i), step)
		checkErrorHandling(result, stepPath(i)+".error_handling", step.ErrorHandling, step.Name, names)
	}
	checkErrorHandling(result, "error_handling", tpl.ErrorHandling, "", names)
	checkFallbackGraph(result, tpl, names)

	return result.ToError()
}

// checkFallbackGraph walks the resolved fallback edge from every step. A
// chain that reaches a user_input step or revisits a step is rejected; the
// engine runs fallbacks inline and such a chain would suspend mid-detour or
// never terminate.
func checkFallbackGraph(result *schema.ValidationResult, tpl *schema.Template, names map[string]int) {
	for i := range tpl.Steps {
		seen := map[string]bool{tpl.Steps[i].Name: true}
		current := &tpl.Steps[i]
		for {
			eh := current.ErrorHandling
			if eh == nil {
				eh = tpl.ErrorHandling
			}
			if eh == nil || eh.Strategy != schema.ErrorStrategyFallback || eh.FallbackStep == "" {
				break
			}
			j, ok := names[eh.FallbackStep]
			if !ok {
				break // dangling reference already reported
			}
			fb := &tpl.Steps[j]
			if fb.Kind == schema.StepKindUserInput {
				result.AddError(stepPath(i)+".error_handling", "invalid_fallback_kind",
					fmt.Sprintf("fallback_step %q is a user_input step and cannot run as a fallback", fb.Name))
				break
			}
			if seen[fb.Name] {
				result.AddError(stepPath(i)+".error_handling", "fallback_cycle",
					fmt.Sprintf("fallback chain from step %q revisits step %q", tpl.Steps[i].Name, fb.Name))
				break
			}
			seen[fb.Name] = true
			current = fb
		}
	}
}

func checkStepFields(result *schema.ValidationResult, path string, step *schema.Step) {
	switch step.Kind {
	case schema.StepKindMessage:
		if step.Content == "" && step.Template == "" {
			result.AddError(path, "missing_field",
				fmt.Sprintf("message step %q requires content or template", step.Name))
		}
	case schema.StepKindPrompt:
		if step.Content == "" && step.Template == "" {
			result.AddError(path, "missing_field",
				fmt.Sprintf("prompt step %q requires content or template", step.Name))
		}
	case schema.StepKindUserInput:
		if step.Prompt == "" {
			result.AddError(path, "missing_field",
				fmt.Sprintf("user_input step %q requires prompt", step.Name))
		}
	case schema.StepKindInvoke:
		if step.Callable == "" {
			result.AddError(path, "missing_field",
				fmt.Sprintf("invoke step %q requires callable", step.Name))
		}
	}
}

func checkErrorHandling(result *schema.ValidationResult, path string, eh *schema.ErrorHandling, self string, names map[string]int) {
	if eh == nil {
		return
	}

	if eh.Strategy == schema.ErrorStrategyFallback {
		if eh.FallbackStep == "" {
			result.AddError(path, "missing_field", "fallback strategy requires fallback_step")
		} else if _, ok := names[eh.FallbackStep]; !ok {
			result.AddError(path, "unknown_step",
				fmt.Sprintf("fallback_step %q does not exist", eh.FallbackStep))
		} else if eh.FallbackStep == self {
			result.AddError(path, "self_reference",
				fmt.Sprintf("fallback_step %q refers to the step itself", eh.FallbackStep))
		}
	}

	if eh.RetryDelay != "" {
		if _, err := time.ParseDuration(eh.RetryDelay); err != nil {
			result.AddError(path, "invalid_duration",
				fmt.Sprintf("retry_delay %q is not a valid duration", eh.RetryDelay))
		}
	}
}

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}
