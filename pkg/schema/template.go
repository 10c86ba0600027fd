package schema

// Template is the immutable declarative definition of a dialog: an ordered
// list of steps plus session-wide defaults. Running dialogs reference a
// Template by name and never mutate it.
type Template struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Goal        string         `json:"goal,omitempty" yaml:"goal,omitempty"`
	Model       string         `json:"model" yaml:"model"`
	Tools       []string       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Resources   []string       `json:"resources,omitempty" yaml:"resources,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// ErrorHandling is the default policy for steps that do not override it.
	ErrorHandling *ErrorHandling `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`

	Steps []Step `json:"steps" yaml:"steps"`
}

// StepKind enumerates the kinds of steps in a dialog. Closed set; the engine
// dispatches executors through a lookup table keyed by kind.
type StepKind string

const (
	StepKindMessage   StepKind = "message"
	StepKindPrompt    StepKind = "prompt"
	StepKindUserInput StepKind = "user_input"
	StepKindInvoke    StepKind = "invoke"
)

// StepKinds lists all valid kinds, in no particular order.
var StepKinds = []StepKind{StepKindMessage, StepKindPrompt, StepKindUserInput, StepKindInvoke}

// Step is one unit of work in a dialog template. It is a tagged variant:
// Kind selects which of the kind-specific fields apply.
type Step struct {
	Name        string   `json:"name" yaml:"name"`
	Kind        StepKind `json:"kind" yaml:"kind"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	// Enabled defaults to true when absent. Disabled steps are skipped but
	// still occupy a state slot in the compiled machine.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	Config        *StepConfig    `json:"config,omitempty" yaml:"config,omitempty"`
	ErrorHandling *ErrorHandling `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`

	// message: role + content (content may be templated).
	Role    string `json:"role,omitempty" yaml:"role,omitempty"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`

	// message/prompt: registered template reference with arguments.
	Template     string         `json:"template,omitempty" yaml:"template,omitempty"`
	TemplateArgs map[string]any `json:"template_args,omitempty" yaml:"template_args,omitempty"`

	// user_input: text shown to the user while waiting.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	// Registered schema names for structural validation.
	InputSchema  string `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema string `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`

	// invoke: registered callable name ("@" prefix resolves a tool) and its
	// arguments (values may be templated).
	Callable string         `json:"callable,omitempty" yaml:"callable,omitempty"`
	Args     map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// IsEnabled reports whether the step participates in execution.
func (s *Step) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ErrorStrategy selects how a step failure is handled.
type ErrorStrategy string

const (
	ErrorStrategyFail     ErrorStrategy = "fail"
	ErrorStrategyRetry    ErrorStrategy = "retry"
	ErrorStrategyContinue ErrorStrategy = "continue"
	ErrorStrategyFallback ErrorStrategy = "fallback"
)

// ErrorHandling configures failure behavior for a step or a whole template.
type ErrorHandling struct {
	Strategy   ErrorStrategy `json:"strategy" yaml:"strategy"`
	MaxRetries int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// RetryDelay is the initial delay between attempts (e.g. "500ms").
	// Empty means retry immediately.
	RetryDelay string `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`

	// Backoff is none, constant, or exponential (default: none).
	Backoff string `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	FallbackStep string `json:"fallback_step,omitempty" yaml:"fallback_step,omitempty"`
}

// MergeStrategy selects how step-level tool/resource lists combine with the
// template defaults.
type MergeStrategy string

const (
	MergeReplace MergeStrategy = "replace"
	MergeAppend  MergeStrategy = "append"
	MergePrepend MergeStrategy = "prepend"
)

// StepConfig holds per-step overrides of the template defaults.
type StepConfig struct {
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	Tools             []string      `json:"tools,omitempty" yaml:"tools,omitempty"`
	ToolMergeStrategy MergeStrategy `json:"tool_merge_strategy,omitempty" yaml:"tool_merge_strategy,omitempty"`

	Resources             []string      `json:"resources,omitempty" yaml:"resources,omitempty"`
	ResourceMergeStrategy MergeStrategy `json:"resource_merge_strategy,omitempty" yaml:"resource_merge_strategy,omitempty"`
}

// RunConfig is the fully merged configuration a step executes with.
type RunConfig struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Resources   []string `json:"resources,omitempty"`
}

// ResolveRunConfig merges the template defaults with a step's overrides.
// List merges honor the step's declared merge strategy (default: replace).
func ResolveRunConfig(tpl *Template, step *Step) RunConfig {
	cfg := RunConfig{
		Model:     tpl.Model,
		Tools:     append([]string(nil), tpl.Tools...),
		Resources: append([]string(nil), tpl.Resources...),
	}

	sc := step.Config
	if sc == nil {
		return cfg
	}
	if sc.Model != "" {
		cfg.Model = sc.Model
	}
	if sc.Temperature != nil {
		cfg.Temperature = sc.Temperature
	}
	if sc.MaxTokens > 0 {
		cfg.MaxTokens = sc.MaxTokens
	}
	if sc.Tools != nil {
		cfg.Tools = mergeLists(cfg.Tools, sc.Tools, sc.ToolMergeStrategy)
	}
	if sc.Resources != nil {
		cfg.Resources = mergeLists(cfg.Resources, sc.Resources, sc.ResourceMergeStrategy)
	}
	return cfg
}

func mergeLists(base, override []string, strategy MergeStrategy) []string {
	switch strategy {
	case MergeAppend:
		return append(append([]string(nil), base...), override...)
	case MergePrepend:
		return append(append([]string(nil), override...), base...)
	default: // replace
		return append([]string(nil), override...)
	}
}
