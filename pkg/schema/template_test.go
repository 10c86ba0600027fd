package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestStep_IsEnabled_DefaultsTrue(t *testing.T) {
	s := Step{Name: "greet", Kind: StepKindMessage}
	assert.True(t, s.IsEnabled())

	s.Enabled = boolPtr(false)
	assert.False(t, s.IsEnabled())
}

func TestResolveRunConfig_TemplateDefaults(t *testing.T) {
	tpl := &Template{
		Model:     "gpt-4o",
		Tools:     []string{"search"},
		Resources: []string{"docs"},
	}
	step := &Step{Name: "ask", Kind: StepKindPrompt}

	cfg := ResolveRunConfig(tpl, step)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, []string{"search"}, cfg.Tools)
	assert.Equal(t, []string{"docs"}, cfg.Resources)
	assert.Nil(t, cfg.Temperature)
}

func TestResolveRunConfig_StepOverrides(t *testing.T) {
	temp := 0.2
	tpl := &Template{Model: "gpt-4o", Tools: []string{"search"}}
	step := &Step{
		Name: "ask",
		Kind: StepKindPrompt,
		Config: &StepConfig{
			Model:       "gpt-4o-mini",
			Temperature: &temp,
			MaxTokens:   512,
		},
	}

	cfg := ResolveRunConfig(tpl, step)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 0.2, *cfg.Temperature)
	assert.Equal(t, 512, cfg.MaxTokens)
	// Tools untouched when the step declares none.
	assert.Equal(t, []string{"search"}, cfg.Tools)
}

func TestResolveRunConfig_MergeStrategies(t *testing.T) {
	tpl := &Template{Model: "m", Tools: []string{"a", "b"}}

	cases := []struct {
		name     string
		strategy MergeStrategy
		want     []string
	}{
		{"replace_default", "", []string{"c"}},
		{"replace", MergeReplace, []string{"c"}},
		{"append", MergeAppend, []string{"a", "b", "c"}},
		{"prepend", MergePrepend, []string{"c", "a", "b"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step := &Step{
				Name: "s",
				Kind: StepKindPrompt,
				Config: &StepConfig{
					Tools:             []string{"c"},
					ToolMergeStrategy: tc.strategy,
				},
			}
			cfg := ResolveRunConfig(tpl, step)
			assert.Equal(t, tc.want, cfg.Tools)
		})
	}
}

func TestDialogStatus_Terminal(t *testing.T) {
	assert.True(t, DialogStatusCompleted.Terminal())
	assert.True(t, DialogStatusFailed.Terminal())
	assert.False(t, DialogStatusPending.Terminal())
	assert.False(t, DialogStatusRunning.Terminal())
	assert.False(t, DialogStatusWaitingInput.Terminal())
}

func TestEventName_Composition(t *testing.T) {
	assert.Equal(t, "dialog.d1.started", EventName("d1", EventStarted))
	assert.Equal(t, "dialog.d1.step.Ask for Topic.completed",
		EventName("d1", StepCompletedEvent("Ask for Topic")))
}

func TestDialogError_Recoverable(t *testing.T) {
	assert.True(t, NewError(ErrCodeRender, "x").Recoverable())
	assert.True(t, NewError(ErrCodeExecution, "x").Recoverable())
	assert.True(t, NewError(ErrCodeLLM, "x").Recoverable())
	assert.False(t, NewError(ErrCodeTemplate, "x").Recoverable())
	assert.False(t, NewError(ErrCodeConcurrentExecution, "x").Recoverable())
}

func TestIsCode_Unwraps(t *testing.T) {
	inner := NewError(ErrCodeLLM, "boom")
	outer := NewErrorf(ErrCodeExecution, "wrapped: %s", inner.Error()).WithCause(inner)
	assert.True(t, IsCode(outer, ErrCodeExecution))
	assert.True(t, IsCode(inner, ErrCodeLLM))
	assert.False(t, IsCode(outer, ErrCodeTemplate))
}
