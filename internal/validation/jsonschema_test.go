package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/colloquy/pkg/schema"
)

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func validTemplate() *schema.Template {
	return &schema.Template{
		Name:  "simple_qa",
		Model: "gpt-4o",
		Steps: []schema.Step{
			{Name: "Greet", Kind: schema.StepKindMessage, Role: "assistant", Content: "Hello!"},
			{Name: "Ask Topic", Kind: schema.StepKindUserInput, Prompt: "What topic?"},
			{Name: "Answer", Kind: schema.StepKindPrompt, Content: "Answer about {{ step_results['Ask Topic'].input }}"},
		},
	}
}

func TestValidateTemplate_Valid(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.ValidateTemplate(validTemplate()))
}

func TestValidateTemplate_Nil(t *testing.T) {
	v := newValidator(t)
	err := v.ValidateTemplate(nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
}

func TestValidateTemplate_MissingModel(t *testing.T) {
	v := newValidator(t)
	tpl := validTemplate()
	tpl.Model = ""
	err := v.ValidateTemplate(tpl)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
}

func TestValidateTemplate_EmptySteps(t *testing.T) {
	v := newValidator(t)
	tpl := validTemplate()
	tpl.Steps = nil
	err := v.ValidateTemplate(tpl)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
}

func TestValidateTemplate_BadKind(t *testing.T) {
	v := newValidator(t)
	tpl := validTemplate()
	tpl.Steps[0].Kind = "teleport"
	err := v.ValidateTemplate(tpl)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
}

func TestValidateTemplate_DuplicateStepNames(t *testing.T) {
	v := newValidator(t)
	tpl := validTemplate()
	tpl.Steps[2].Name = "Greet"
	err := v.ValidateTemplate(tpl)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
}

func TestValidateTemplate_KindRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		step schema.Step
	}{
		{"message without content", schema.Step{Name: "m", Kind: schema.StepKindMessage}},
		{"prompt without content", schema.Step{Name: "p", Kind: schema.StepKindPrompt}},
		{"user_input without prompt", schema.Step{Name: "u", Kind: schema.StepKindUserInput}},
		{"invoke without callable", schema.Step{Name: "i", Kind: schema.StepKindInvoke}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newValidator(t)
			tpl := &schema.Template{Name: "t", Model: "m", Steps: []schema.Step{tc.step}}
			err := v.ValidateTemplate(tpl)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
		})
	}
}

func TestValidateTemplate_FallbackChecks(t *testing.T) {
	v := newValidator(t)

	tpl := validTemplate()
	tpl.Steps[2].ErrorHandling = &schema.ErrorHandling{
		Strategy:     schema.ErrorStrategyFallback,
		FallbackStep: "Nope",
	}
	err := v.ValidateTemplate(tpl)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))

	tpl = validTemplate()
	tpl.Steps[2].ErrorHandling = &schema.ErrorHandling{
		Strategy:     schema.ErrorStrategyFallback,
		FallbackStep: "Answer",
	}
	err = v.ValidateTemplate(tpl)
	require.Error(t, err)

	tpl = validTemplate()
	tpl.Steps[2].ErrorHandling = &schema.ErrorHandling{
		Strategy:     schema.ErrorStrategyFallback,
		FallbackStep: "Greet",
	}
	assert.NoError(t, v.ValidateTemplate(tpl))
}

func TestValidateTemplate_FallbackCycle(t *testing.T) {
	v := newValidator(t)

	tpl := validTemplate()
	tpl.Steps[0].ErrorHandling = &schema.ErrorHandling{
		Strategy:     schema.ErrorStrategyFallback,
		FallbackStep: "Answer",
	}
	tpl.Steps[2].ErrorHandling = &schema.ErrorHandling{
		Strategy:     schema.ErrorStrategyFallback,
		FallbackStep: "Greet",
	}
	err := v.ValidateTemplate(tpl)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))

	var de *schema.DialogError
	require.ErrorAs(t, err, &de)
	issues, ok := de.Details["errors"].([]schema.ValidationIssue)
	require.True(t, ok)
	require.NotEmpty(t, issues)
	assert.Equal(t, "fallback_cycle", issues[0].Code)
}

func TestValidateTemplate_UserInputFallback(t *testing.T) {
	v := newValidator(t)

	tpl := validTemplate()
	tpl.Steps[2].ErrorHandling = &schema.ErrorHandling{
		Strategy:     schema.ErrorStrategyFallback,
		FallbackStep: "Ask Topic",
	}
	err := v.ValidateTemplate(tpl)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
	assert.Contains(t, err.Error(), "user_input")
}

func TestValidateTemplate_BadRetryDelay(t *testing.T) {
	v := newValidator(t)
	tpl := validTemplate()
	tpl.ErrorHandling = &schema.ErrorHandling{
		Strategy:   schema.ErrorStrategyRetry,
		MaxRetries: 3,
		RetryDelay: "soon",
	}
	err := v.ValidateTemplate(tpl)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
}

func TestNamedSchemas(t *testing.T) {
	v := newValidator(t)

	err := v.RegisterSchema("answer", []byte(`{
		"type": "object",
		"required": ["text"],
		"properties": { "text": { "type": "string", "minLength": 1 } }
	}`))
	require.NoError(t, err)
	assert.True(t, v.HasSchema("answer"))
	assert.False(t, v.HasSchema("other"))

	assert.NoError(t, v.ValidateNamed("answer", map[string]any{"text": "garlic"}))

	err = v.ValidateNamed("answer", map[string]any{"text": ""})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = v.ValidateNamed("missing", map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRegisterSchema_Invalid(t *testing.T) {
	v := newValidator(t)
	err := v.RegisterSchema("bad", []byte(`{not json`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
