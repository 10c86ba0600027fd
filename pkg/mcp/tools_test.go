package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/colloquy/internal/engine"
	"github.com/rendis/colloquy/internal/invokables"
	"github.com/rendis/colloquy/internal/llm"
	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/internal/streaming"
	"github.com/rendis/colloquy/internal/template"
	"github.com/rendis/colloquy/internal/validation"
	"github.com/rendis/colloquy/pkg/schema"
)

const qaTemplateYAML = `
name: simple_qa
model: gpt-4o
steps:
  - name: Greet
    kind: message
    content: "Let's talk about {{ inputs.topic }}."
  - name: Ask
    kind: user_input
    prompt: "What would you like to know?"
  - name: Answer
    kind: prompt
    content: "Answer this: {{ step_results['Ask'].input.text }}"
`

const briefingTemplateYAML = `
name: briefing
model: gpt-4o
steps:
  - name: Summarize
    kind: prompt
    content: "Summarize the day."
`

func newTestServer(t *testing.T, script ...string) *ColloquyServer {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "mcp.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	reg := template.NewRegistry(v)
	for _, y := range []string{qaTemplateYAML, briefingTemplateYAML} {
		tpl, perr := template.Parse([]byte(y))
		require.NoError(t, perr)
		require.NoError(t, reg.Register(tpl))
	}

	hub := streaming.NewMemoryHub()
	eng, err := engine.New(engine.Config{
		Store:      s,
		EventLog:   store.NewEventLog(s),
		Hub:        hub,
		Templates:  reg,
		Completer:  llm.NewFakeCompleter(script...),
		Invokables: invokables.NewRegistry(),
		Validator:  v,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return NewColloquyServer(ColloquyServerDeps{
		Engine:    eng,
		Store:     s,
		Templates: reg,
		Hub:       hub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func TestStartTool(t *testing.T) {
	s := newTestServer(t, "A fine day.")

	result, err := s.handleStart(context.Background(), buildRequest("dialog.start", map[string]any{
		"template_name": "briefing",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := resultJSON(t, result)
	assert.Equal(t, "briefing", payload["template"])
	assert.Equal(t, string(schema.DialogStatusCompleted), payload["status"])
	assert.NotEmpty(t, payload["dialog_id"])

	steps, ok := payload["steps"].([]any)
	require.True(t, ok)
	require.Len(t, steps, 1)
}

func TestStartTool_MissingArgs(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleStart(context.Background(), buildRequest("dialog.start", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStartTool_UnknownTemplate(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleStart(context.Background(), buildRequest("dialog.start", map[string]any{
		"template_name": "nonexistent",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStartAndResumeFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStart(ctx, buildRequest("dialog.start", map[string]any{
		"template_name": "simple_qa",
		"inputs":        map[string]any{"topic": "cooking"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := resultJSON(t, result)
	assert.Equal(t, string(schema.DialogStatusWaitingInput), payload["status"])
	assert.Equal(t, "Ask", payload["waiting_step"])
	dialogID := payload["dialog_id"].(string)

	result, err = s.handleResume(ctx, buildRequest("dialog.resume", map[string]any{
		"dialog_id": dialogID,
		"input":     map[string]any{"text": "why garlic?"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload = resultJSON(t, result)
	assert.Equal(t, string(schema.DialogStatusCompleted), payload["status"])
}

func TestResumeTool_MissingInput(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleResume(context.Background(), buildRequest("dialog.resume", map[string]any{
		"dialog_id": "some-id",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestResumeTool_NotWaiting(t *testing.T) {
	s := newTestServer(t, "done")
	ctx := context.Background()

	start, err := s.handleStart(ctx, buildRequest("dialog.start", map[string]any{
		"template_name": "briefing",
	}))
	require.NoError(t, err)
	dialogID := resultJSON(t, start)["dialog_id"].(string)

	result, err := s.handleResume(ctx, buildRequest("dialog.resume", map[string]any{
		"dialog_id": dialogID,
		"input":     map[string]any{"text": "hi"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	start, err := s.handleStart(ctx, buildRequest("dialog.start", map[string]any{
		"template_name": "simple_qa",
		"inputs":        map[string]any{"topic": "tea"},
	}))
	require.NoError(t, err)
	dialogID := resultJSON(t, start)["dialog_id"].(string)

	result, err := s.handleStatus(ctx, buildRequest("dialog.status", map[string]any{
		"dialog_id": dialogID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := resultJSON(t, result)
	assert.Equal(t, string(schema.DialogStatusWaitingInput), payload["status"])

	transcript, ok := payload["transcript"].([]any)
	require.True(t, ok)
	require.Len(t, transcript, 2)
	first := transcript[0].(map[string]any)
	assert.Equal(t, "Let's talk about tea.", first["content"])
}

func TestStatusTool_NotFound(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleStatus(context.Background(), buildRequest("dialog.status", map[string]any{
		"dialog_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	start, err := s.handleStart(ctx, buildRequest("dialog.start", map[string]any{
		"template_name": "simple_qa",
		"inputs":        map[string]any{"topic": "tea"},
	}))
	require.NoError(t, err)
	dialogID := resultJSON(t, start)["dialog_id"].(string)

	result, err := s.handleCancel(ctx, buildRequest("dialog.cancel", map[string]any{
		"dialog_id": dialogID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := resultJSON(t, result)
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, string(schema.DialogStatusFailed), payload["status"])

	// Cancelling a finished dialog fails.
	result, err = s.handleCancel(ctx, buildRequest("dialog.cancel", map[string]any{
		"dialog_id": dialogID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTemplatesTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleTemplates(context.Background(), buildRequest("dialog.templates", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := resultJSON(t, result)
	templates, ok := payload["templates"].([]any)
	require.True(t, ok)
	require.Len(t, templates, 2)
	first := templates[0].(map[string]any)
	assert.Equal(t, "briefing", first["name"])
}
