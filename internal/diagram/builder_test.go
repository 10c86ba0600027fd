package diagram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/pkg/schema"
)

func boolPtr(v bool) *bool { return &v }

func sampleTemplate() *schema.Template {
	return &schema.Template{
		Name:  "briefing",
		Model: "gpt-4o",
		Steps: []schema.Step{
			{Name: "Greet", Kind: schema.StepKindMessage, Content: "hello"},
			{Name: "Ask", Kind: schema.StepKindUserInput, Prompt: "topic?"},
			{
				Name: "Answer", Kind: schema.StepKindPrompt, Content: "answer it",
				ErrorHandling: &schema.ErrorHandling{
					Strategy:     schema.ErrorStrategyFallback,
					FallbackStep: "Apology",
				},
			},
			{Name: "Apology", Kind: schema.StepKindMessage, Content: "sorry", Enabled: boolPtr(false)},
			{Name: "Lookup", Kind: schema.StepKindInvoke, Callable: "jq"},
		},
	}
}

func TestBuild_MainFlow(t *testing.T) {
	model, err := Build(sampleTemplate(), nil)
	require.NoError(t, err)

	assert.Equal(t, "briefing", model.Title)
	require.Len(t, model.Nodes, 7) // 5 steps + start + end

	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[6].Kind)
	assert.True(t, model.Nodes[4].Disabled)
	assert.Equal(t, "Lookup (jq)", model.Nodes[5].Label)

	// The solid flow skips the disabled Apology step.
	solid := map[string]string{}
	for _, e := range model.Edges {
		if !e.Detour {
			solid[e.From] = e.To
		}
	}
	assert.Equal(t, "Greet", solid[startID])
	assert.Equal(t, "Ask", solid["Greet"])
	assert.Equal(t, "Answer", solid["Ask"])
	assert.Equal(t, "Lookup", solid["Answer"])
	assert.Equal(t, endID, solid["Lookup"])
	assert.NotContains(t, solid, "Apology")
}

func TestBuild_FallbackDetour(t *testing.T) {
	model, err := Build(sampleTemplate(), nil)
	require.NoError(t, err)

	var detours []Edge
	for _, e := range model.Edges {
		if e.Detour {
			detours = append(detours, e)
		}
	}
	require.Len(t, detours, 2)
	assert.Equal(t, Edge{From: "Answer", To: "Apology", Label: "on error", Detour: true}, detours[0])
	assert.Equal(t, Edge{From: "Apology", To: "Lookup", Detour: true}, detours[1])
}

func TestBuild_StatusOverlay(t *testing.T) {
	d := &store.Dialog{
		ID: "d1",
		StepResults: []*store.StepResult{
			{StepName: "Greet", Status: schema.StepResultComplete, Attempts: 1, DurationMs: 12},
			{StepName: "Answer", Status: schema.StepResultError, Attempts: 3, Error: json.RawMessage(`{"code":"LLM_ERROR"}`)},
		},
	}

	model, err := Build(sampleTemplate(), d)
	require.NoError(t, err)

	greet := model.Nodes[1]
	require.NotNil(t, greet.Status)
	assert.Equal(t, "complete", greet.Status.Status)
	assert.Equal(t, int64(12), greet.Status.DurationMs)

	answer := model.Nodes[3]
	require.NotNil(t, answer.Status)
	assert.Equal(t, "error", answer.Status.Status)
	assert.Equal(t, 3, answer.Status.Attempts)
	assert.Contains(t, answer.Status.Error, "LLM_ERROR")

	assert.Nil(t, model.Nodes[2].Status)
}

func TestBuild_InvalidTemplate(t *testing.T) {
	_, err := Build(&schema.Template{Name: "empty"}, nil)
	assert.Error(t, err)
}
