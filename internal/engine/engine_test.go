package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/colloquy/internal/invokables"
	"github.com/rendis/colloquy/internal/llm"
	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/internal/streaming"
	"github.com/rendis/colloquy/internal/template"
	"github.com/rendis/colloquy/internal/validation"
	"github.com/rendis/colloquy/pkg/schema"
)

const briefingYAML = `
name: briefing
model: gpt-4o
steps:
  - name: Greet
    kind: message
    role: assistant
    content: "Hello, {{ inputs.name }}!"
  - name: Summarize
    kind: prompt
    content: "Summarize the day for {{ inputs.name }}."
`

const qaYAML = `
name: simple_qa
model: gpt-4o
steps:
  - name: Greet
    kind: message
    content: "Let's talk about {{ inputs.topic }}."
  - name: Ask
    kind: user_input
    prompt: "What do you want to know about {{ inputs.topic }}?"
  - name: Answer
    kind: prompt
    content: "Answer this: {{ step_results['Ask'].input.text }}"
`

type testEnv struct {
	engine     *Engine
	store      *store.LibSQLStore
	events     *store.EventLog
	hub        *streaming.MemoryHub
	fake       *llm.FakeCompleter
	templates  *template.Registry
	invokables *invokables.Registry
	validator  *validation.JSONSchemaValidator
}

func newTestEnv(t *testing.T, script ...string) *testEnv {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "engine.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	reg := template.NewRegistry(v)

	inv := invokables.NewRegistry()
	require.NoError(t, invokables.RegisterBuiltins(inv))

	fake := llm.NewFakeCompleter(script...)
	hub := streaming.NewMemoryHub()
	events := store.NewEventLog(s)

	eng, err := New(Config{
		Store:      s,
		EventLog:   events,
		Hub:        hub,
		Templates:  reg,
		Completer:  fake,
		Invokables: inv,
		Validator:  v,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return &testEnv{
		engine:     eng,
		store:      s,
		events:     events,
		hub:        hub,
		fake:       fake,
		templates:  reg,
		invokables: inv,
		validator:  v,
	}
}

func (env *testEnv) register(t *testing.T, yamlText string) {
	t.Helper()
	tpl, err := template.Parse([]byte(yamlText))
	require.NoError(t, err)
	require.NoError(t, env.templates.Register(tpl))
}

func TestStart_RunsToCompletion(t *testing.T) {
	env := newTestEnv(t, "It was a fine day.")
	env.register(t, briefingYAML)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "briefing", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, d.Status)
	require.NotNil(t, d.CompletedAt)

	loaded, err := env.engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, loaded.Status)
	require.Len(t, loaded.StepResults, 2)

	greet := loaded.Result("Greet")
	require.NotNil(t, greet)
	assert.Equal(t, schema.StepResultComplete, greet.Status)
	var out map[string]any
	require.NoError(t, json.Unmarshal(greet.Output, &out))
	assert.Equal(t, "Hello, Ada!", out["content"])

	calls := env.fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Summarize the day for Ada.", calls[0].Messages[0].Content)
	assert.Equal(t, "gpt-4o", calls[0].Model)

	msgs, err := env.store.ListMessages(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello, Ada!", msgs[0].Content)
	assert.Equal(t, "It was a fine day.", msgs[1].Content)
}

func TestStart_UnknownTemplate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Start(context.Background(), "missing", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestStart_SuspendsOnUserInput(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, qaYAML)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "simple_qa", map[string]any{"topic": "cooking"})
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusWaitingInput, d.Status)
	assert.Equal(t, "Ask", d.WaitingStep)

	greet := d.Result("Greet")
	require.NotNil(t, greet)
	assert.Equal(t, schema.StepResultComplete, greet.Status)
	assert.Nil(t, d.Result("Ask"))

	msgs, err := env.store.ListMessages(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "What do you want to know about cooking?", msgs[1].Content)
	assert.Empty(t, env.fake.Calls())
}

func TestResume_CompletesDialog(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, qaYAML)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "simple_qa", map[string]any{"topic": "cooking"})
	require.NoError(t, err)
	require.Equal(t, schema.DialogStatusWaitingInput, d.Status)

	resumed, err := env.engine.Resume(ctx, d.ID, map[string]any{"text": "why garlic?"})
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, resumed.Status)
	assert.Empty(t, resumed.WaitingStep)

	ask := resumed.Result("Ask")
	require.NotNil(t, ask)
	assert.Equal(t, schema.StepResultComplete, ask.Status)

	calls := env.fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Answer this: why garlic?", calls[0].Messages[0].Content)

	msgs, err := env.store.ListMessages(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[2].Role)
	assert.Equal(t, "why garlic?", msgs[2].Content)
}

func TestResume_NotWaiting(t *testing.T) {
	env := newTestEnv(t, "done")
	env.register(t, briefingYAML)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "briefing", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, schema.DialogStatusCompleted, d.Status)

	_, err = env.engine.Resume(ctx, d.ID, map[string]any{"text": "hi"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeDialogTerminal))

	_, err = env.engine.Resume(ctx, "nope", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestResume_InvalidInputKeepsWaiting(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.validator.RegisterSchema("answer_input",
		[]byte(`{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`)))

	env.register(t, `
name: guarded_qa
model: gpt-4o
steps:
  - name: Ask
    kind: user_input
    prompt: "Say something"
    input_schema: answer_input
  - name: Answer
    kind: prompt
    content: "Reply to {{ step_results['Ask'].input.text }}"
`)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "guarded_qa", nil)
	require.NoError(t, err)
	require.Equal(t, schema.DialogStatusWaitingInput, d.Status)

	_, err = env.engine.Resume(ctx, d.ID, map[string]any{"wrong": 1})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	still, err := env.engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusWaitingInput, still.Status)

	resumed, err := env.engine.Resume(ctx, d.ID, map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, resumed.Status)
}

func TestRetryStrategy_RecoversAfterFailures(t *testing.T) {
	env := newTestEnv(t, "recovered")
	env.register(t, `
name: flaky
model: gpt-4o
steps:
  - name: Answer
    kind: prompt
    content: "Answer something"
    error_handling:
      strategy: retry
      max_retries: 3
      retry_delay: 1ms
`)
	env.fake.FailNext(assert.AnError)
	env.fake.FailNext(assert.AnError)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, d.Status)

	result := d.Result("Answer")
	require.NotNil(t, result)
	assert.Equal(t, schema.StepResultComplete, result.Status)
	assert.Equal(t, 3, result.Attempts)

	events, err := env.events.GetEventsByType(ctx, schema.EventStepRetrying, store.EventFilter{DialogID: d.ID})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRetryStrategy_Exhausted(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, `
name: doomed
model: gpt-4o
steps:
  - name: Answer
    kind: prompt
    content: "Answer something"
    error_handling:
      strategy: retry
      max_retries: 1
      retry_delay: 1ms
`)
	env.fake.FailNext(assert.AnError)
	env.fake.FailNext(assert.AnError)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "doomed", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRetryExhausted))
	assert.Equal(t, schema.DialogStatusFailed, d.Status)

	loaded, lerr := env.engine.Get(ctx, d.ID)
	require.NoError(t, lerr)
	assert.Equal(t, schema.DialogStatusFailed, loaded.Status)
	assert.Contains(t, string(loaded.Error), schema.ErrCodeRetryExhausted)

	result := loaded.Result("Answer")
	require.NotNil(t, result)
	assert.Equal(t, schema.StepResultError, result.Status)
	assert.Equal(t, 2, result.Attempts)
}

func TestContinueStrategy_SkipsFailedStep(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, `
name: tolerant
model: gpt-4o
steps:
  - name: Lookup
    kind: invoke
    callable: nonexistent.fn
    error_handling:
      strategy: continue
  - name: Done
    kind: message
    content: "finished anyway"
`)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "tolerant", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, d.Status)

	lookup := d.Result("Lookup")
	require.NotNil(t, lookup)
	assert.Equal(t, schema.StepResultError, lookup.Status)

	done := d.Result("Done")
	require.NotNil(t, done)
	assert.Equal(t, schema.StepResultComplete, done.Status)
}

func TestOutputSchemaMismatchFollowsStrategy(t *testing.T) {
	env := newTestEnv(t, "just text")
	require.NoError(t, env.validator.RegisterSchema("structured_answer",
		[]byte(`{"type":"object","required":["answer"],"properties":{"answer":{"type":"string"}}}`)))

	env.register(t, `
name: structured
model: gpt-4o
steps:
  - name: Answer
    kind: prompt
    content: "Reply with JSON"
    output_schema: structured_answer
    error_handling:
      strategy: continue
  - name: Done
    kind: message
    content: "finished anyway"
`)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "structured", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, d.Status)

	answer := d.Result("Answer")
	require.NotNil(t, answer)
	assert.Equal(t, schema.StepResultError, answer.Status)
	assert.Contains(t, string(answer.Error), schema.ErrCodeExecution)
}

func TestFallbackStrategy(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, `
name: apologetic
model: gpt-4o
steps:
  - name: Answer
    kind: prompt
    content: "Answer something"
    error_handling:
      strategy: fallback
      fallback_step: Apology
  - name: Apology
    kind: message
    content: "Sorry, I could not answer."
    enabled: false
  - name: Done
    kind: message
    content: "wrap up"
`)
	env.fake.FailNext(assert.AnError)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "apologetic", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, d.Status)

	answer := d.Result("Answer")
	require.NotNil(t, answer)
	assert.Equal(t, schema.StepResultError, answer.Status)

	apology := d.Result("Apology")
	require.NotNil(t, apology)
	assert.Equal(t, schema.StepResultComplete, apology.Status)

	done := d.Result("Done")
	require.NotNil(t, done)
	assert.Equal(t, schema.StepResultComplete, done.Status)
}

func TestResume_SecondSuspension(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, `
name: two_questions
model: gpt-4o
steps:
  - name: Ask1
    kind: user_input
    prompt: "First question?"
  - name: Echo
    kind: prompt
    content: "Consider: {{ step_results['Ask1'].input.text }}"
  - name: Ask2
    kind: user_input
    prompt: "Second question?"
  - name: Done
    kind: message
    content: "All answered."
`)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "two_questions", nil)
	require.NoError(t, err)
	require.Equal(t, schema.DialogStatusWaitingInput, d.Status)
	assert.Equal(t, "Ask1", d.WaitingStep)

	d, err = env.engine.Resume(ctx, d.ID, map[string]any{"text": "first"})
	require.NoError(t, err)
	require.Equal(t, schema.DialogStatusWaitingInput, d.Status)
	assert.Equal(t, "Ask2", d.WaitingStep)
	require.NotNil(t, d.Result("Echo"))
	assert.Equal(t, schema.StepResultComplete, d.Result("Echo").Status)

	d, err = env.engine.Resume(ctx, d.ID, map[string]any{"text": "second"})
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, d.Status)
	assert.Empty(t, d.WaitingStep)

	require.Len(t, d.StepResults, 4)
	for i, name := range []string{"Ask1", "Echo", "Ask2", "Done"} {
		assert.Equal(t, name, d.StepResults[i].StepName)
		assert.Equal(t, i, d.StepResults[i].Position)
		assert.Equal(t, schema.StepResultComplete, d.StepResults[i].Status)
	}

	calls := env.fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Consider: first", calls[0].Messages[0].Content)
}

func TestFallbackToCompletedStepRunsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, `
name: revisiting
model: gpt-4o
steps:
  - name: Greet
    kind: message
    content: "hello"
  - name: Answer
    kind: prompt
    content: "Answer something"
    error_handling:
      strategy: fallback
      fallback_step: Greet
  - name: Done
    kind: message
    content: "wrap up"
`)
	env.fake.FailNext(assert.AnError)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "revisiting", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, d.Status)

	greet := d.Result("Greet")
	require.NotNil(t, greet)
	assert.Equal(t, schema.StepResultComplete, greet.Status)
	assert.Equal(t, 1, greet.Attempts)

	answer := d.Result("Answer")
	require.NotNil(t, answer)
	assert.Equal(t, schema.StepResultError, answer.Status)

	msgs, err := env.store.ListMessages(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "wrap up", msgs[1].Content)
}

func TestRunStep_FallbackCycleGuard(t *testing.T) {
	env := newTestEnv(t)
	fallbackTo := func(target string) *schema.ErrorHandling {
		return &schema.ErrorHandling{Strategy: schema.ErrorStrategyFallback, FallbackStep: target}
	}
	tpl := &schema.Template{
		Name:  "looping",
		Model: "gpt-4o",
		Steps: []schema.Step{
			{Name: "A", Kind: schema.StepKindPrompt, Content: "a", ErrorHandling: fallbackTo("B")},
			{Name: "B", Kind: schema.StepKindPrompt, Content: "b", ErrorHandling: fallbackTo("A")},
		},
	}
	// Compile rejects this template; build the machine by hand to prove the
	// engine still terminates if such a plan ever reaches it.
	m := &Machine{template: tpl, order: []string{"A", "B"}, index: map[string]int{"A": 0, "B": 1}}

	ctx := context.Background()
	now := time.Now().UTC()
	d := &store.Dialog{
		ID:           "loop-1",
		TemplateName: "looping",
		Status:       schema.DialogStatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, env.store.SaveDialog(ctx, d))

	env.fake.FailNext(assert.AnError)
	env.fake.FailNext(assert.AnError)

	run := &dialogRun{dialog: d, machine: m, outputs: map[string]map[string]any{}}
	err := env.engine.runStep(ctx, run, m.Step("A"))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate))
	assert.Contains(t, err.Error(), "fallback cycle")
}

func TestInvokeStep_Builtin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, `
name: extractor
model: gpt-4o
steps:
  - name: Extract
    kind: invoke
    callable: jq
    args:
      expression: ".user.name"
      data:
        user:
          name: Ada
  - name: Report
    kind: message
    content: "Found {{ step_results.Extract.result }}"
`)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "extractor", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusCompleted, d.Status)

	var out map[string]any
	require.NoError(t, json.Unmarshal(d.Result("Report").Output, &out))
	assert.Equal(t, "Found Ada", out["content"])
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, qaYAML)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "simple_qa", map[string]any{"topic": "tea"})
	require.NoError(t, err)
	require.Equal(t, schema.DialogStatusWaitingInput, d.Status)

	cancelled, err := env.engine.Cancel(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.DialogStatusFailed, cancelled.Status)
	assert.Empty(t, cancelled.WaitingStep)

	_, err = env.engine.Cancel(ctx, d.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeDialogTerminal))

	_, err = env.engine.Resume(ctx, d.ID, map[string]any{"text": "too late"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeDialogTerminal))
}

func TestConcurrentAdvanceRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, qaYAML)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "simple_qa", map[string]any{"topic": "tea"})
	require.NoError(t, err)
	require.Equal(t, schema.DialogStatusWaitingInput, d.Status)

	require.NoError(t, env.engine.acquire(d.ID))
	defer env.engine.release(d.ID)

	_, err = env.engine.Resume(ctx, d.ID, map[string]any{"text": "hi"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConcurrentExecution))
}

func TestEventLogOrdering(t *testing.T) {
	env := newTestEnv(t, "fine")
	env.register(t, briefingYAML)
	ctx := context.Background()

	d, err := env.engine.Start(ctx, "briefing", map[string]any{"name": "Ada"})
	require.NoError(t, err)

	events, err := env.events.GetEvents(ctx, d.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Equal(t, schema.EventStarted, events[0].Type)
	assert.Equal(t, schema.EventCompleted, events[len(events)-1].Type)

	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, schema.EventStepStarted)
	assert.Contains(t, types, schema.EventStepCompleted)
}

func TestHubBroadcast(t *testing.T) {
	env := newTestEnv(t, "fine")
	env.register(t, briefingYAML)
	ctx := context.Background()

	ch, cancel, err := env.hub.Subscribe(ctx, streaming.EventFilter{})
	require.NoError(t, err)
	defer cancel()

	d, err := env.engine.Start(ctx, "briefing", map[string]any{"name": "Ada"})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	var names []string
	for {
		select {
		case ev := <-ch:
			names = append(names, ev.Name)
			if ev.Name == schema.EventName(d.ID, schema.EventCompleted) {
				assert.Contains(t, names, schema.EventName(d.ID, schema.EventStarted))
				assert.Contains(t, names, schema.StepCompletedEvent("Greet"))
				return
			}
		case <-deadline:
			t.Fatalf("completed event not received; got %v", names)
		}
	}
}
