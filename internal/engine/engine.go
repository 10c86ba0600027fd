// Package engine executes dialogs: it compiles templates into step machines,
// runs steps through kind-specific executors, persists every state change,
// and suspends/resumes around user input.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/colloquy/internal/expressions"
	"github.com/rendis/colloquy/internal/invokables"
	"github.com/rendis/colloquy/internal/llm"
	"github.com/rendis/colloquy/internal/logging"
	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/internal/streaming"
	"github.com/rendis/colloquy/internal/template"
	"github.com/rendis/colloquy/internal/validation"
	"github.com/rendis/colloquy/pkg/schema"
)

// Config wires the engine's collaborators. Store, Templates, and Completer
// are required; the rest degrade gracefully when absent.
type Config struct {
	Store      store.Store
	EventLog   *store.EventLog
	Hub        streaming.EventHub
	Templates  *template.Registry
	Completer  llm.Completer
	Invokables *invokables.Registry
	Validator  validation.Validator
	Logger     *slog.Logger
}

// Engine drives dialog executions. One instance serves many dialogs; a
// per-dialog guard rejects concurrent advancement of the same dialog.
type Engine struct {
	store      store.Store
	events     *store.EventLog
	hub        streaming.EventHub
	templates  *template.Registry
	completer  llm.Completer
	invokables *invokables.Registry
	validator  validation.Validator
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

// New creates an Engine from the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a store")
	}
	if cfg.Templates == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a template registry")
	}
	if cfg.Completer == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a completer")
	}
	if cfg.Invokables == nil {
		cfg.Invokables = invokables.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:      cfg.Store,
		events:     cfg.EventLog,
		hub:        cfg.Hub,
		templates:  cfg.Templates,
		completer:  cfg.Completer,
		invokables: cfg.Invokables,
		validator:  cfg.Validator,
		logger:     cfg.Logger,
		running:    make(map[string]struct{}),
	}, nil
}

// dialogRun is the in-memory state of one advancement pass.
type dialogRun struct {
	dialog  *store.Dialog
	machine *Machine

	// outputs caches decoded step outputs for interpolation.
	outputs map[string]map[string]any
}

// Start creates a dialog from a registered template and executes it until it
// suspends on user input or reaches a terminal status. The returned dialog
// reflects the state at the point execution stopped.
func (e *Engine) Start(ctx context.Context, templateName string, inputs map[string]any) (*store.Dialog, error) {
	tpl, err := e.templates.Get(templateName)
	if err != nil {
		return nil, err
	}
	m, err := Compile(tpl)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &store.Dialog{
		ID:           uuid.NewString(),
		TemplateName: templateName,
		Status:       schema.DialogStatusPending,
		Inputs:       inputs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.SaveDialog(ctx, d); err != nil {
		return nil, err
	}

	if err := e.acquire(d.ID); err != nil {
		return d, err
	}
	defer e.release(d.ID)

	ctx = logging.WithDialogID(logging.WithTemplate(ctx, templateName), d.ID)
	run := &dialogRun{dialog: d, machine: m, outputs: make(map[string]map[string]any)}

	started := time.Now().UTC()
	d.StartedAt = &started
	if err := e.transition(ctx, run, schema.DialogStatusRunning); err != nil {
		return d, err
	}
	e.emitDialog(ctx, run, "", schema.EventStarted, map[string]any{"template": templateName})
	e.logger.InfoContext(ctx, "dialog started")

	first, ok := m.First()
	if !ok {
		return d, e.complete(ctx, run)
	}
	return d, e.advance(ctx, run, first)
}

// Resume delivers user input to a dialog suspended at a user_input step and
// continues execution. Invalid input leaves the dialog waiting.
func (e *Engine) Resume(ctx context.Context, dialogID string, input map[string]any) (*store.Dialog, error) {
	d, err := e.store.LoadDialog(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return d, checkTransition(d.ID, d.Status, schema.DialogStatusRunning)
	}
	if d.Status != schema.DialogStatusWaitingInput {
		return d, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"dialog %s is %s, not waiting for input", d.ID, d.Status)
	}

	tpl, err := e.templates.Get(d.TemplateName)
	if err != nil {
		return d, err
	}
	m, err := Compile(tpl)
	if err != nil {
		return d, err
	}
	step := m.Step(d.WaitingStep)
	if step == nil {
		return d, schema.NewErrorf(schema.ErrCodeTemplate,
			"waiting step %q no longer exists in template %q", d.WaitingStep, d.TemplateName)
	}

	// Validation failures do not consume the suspension.
	if step.InputSchema != "" && e.validator != nil {
		if err := e.validator.ValidateNamed(step.InputSchema, input); err != nil {
			return d, err
		}
	}

	if err := e.acquire(d.ID); err != nil {
		return d, err
	}
	defer e.release(d.ID)

	ctx = logging.WithDialogID(logging.WithTemplate(ctx, d.TemplateName), d.ID)
	run := &dialogRun{dialog: d, machine: m, outputs: make(map[string]map[string]any)}
	run.restoreOutputs()

	if err := e.transition(ctx, run, schema.DialogStatusRunning); err != nil {
		return d, err
	}
	waited := d.WaitingStep
	d.WaitingStep = ""
	e.emitDialog(ctx, run, waited, schema.EventResumed, map[string]any{"step": waited})
	e.logger.InfoContext(ctx, "dialog resumed", slog.String("step", waited))

	// Complete the suspended step with the delivered input.
	output := map[string]any{
		"input":  anyInput(input),
		"prompt": step.Prompt,
	}
	if content := inputText(input); content != "" {
		if err := e.saveMessage(ctx, d, waited, "user", content); err != nil {
			return d, e.fail(ctx, run, waited, err)
		}
	}
	if err := e.completeStep(ctx, run, step, output); err != nil {
		return d, e.fail(ctx, run, waited, err)
	}

	next, ok := m.Next(waited)
	if !ok {
		return d, e.complete(ctx, run)
	}
	return d, e.advance(ctx, run, next)
}

// Cancel aborts a dialog that has not finished. Only pending and
// waiting_input dialogs can be cancelled; a dialog mid-advance cannot.
func (e *Engine) Cancel(ctx context.Context, dialogID string) (*store.Dialog, error) {
	d, err := e.store.LoadDialog(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return d, checkTransition(d.ID, d.Status, schema.DialogStatusFailed)
	}
	if d.Status == schema.DialogStatusRunning {
		return d, schema.NewErrorf(schema.ErrCodeConflict,
			"dialog %s is executing and cannot be cancelled", d.ID)
	}

	if err := e.acquire(d.ID); err != nil {
		return d, err
	}
	defer e.release(d.ID)

	ctx = logging.WithDialogID(ctx, d.ID)
	run := &dialogRun{dialog: d, machine: nil, outputs: nil}

	now := time.Now().UTC()
	d.Status = schema.DialogStatusFailed
	d.CompletedAt = &now
	d.UpdatedAt = now
	d.WaitingStep = ""
	d.Error = marshalError(schema.NewError(schema.ErrCodeExecution, "dialog cancelled"))
	if err := e.store.SaveDialog(ctx, d); err != nil {
		return d, err
	}
	e.emitDialog(ctx, run, "", schema.EventCancelled, nil)
	e.logger.InfoContext(ctx, "dialog cancelled")
	return d, nil
}

// Get returns the persisted state of a dialog.
func (e *Engine) Get(ctx context.Context, dialogID string) (*store.Dialog, error) {
	return e.store.LoadDialog(ctx, dialogID)
}

// List returns dialogs matching the filter.
func (e *Engine) List(ctx context.Context, filter store.DialogFilter) ([]*store.Dialog, error) {
	return e.store.ListDialogs(ctx, filter)
}

func (e *Engine) acquire(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[id]; busy {
		return schema.NewErrorf(schema.ErrCodeConcurrentExecution,
			"dialog %s is already being advanced", id)
	}
	e.running[id] = struct{}{}
	return nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

// advance runs steps starting at stepName until suspension, completion, or
// failure. The dialog status must already be running.
func (e *Engine) advance(ctx context.Context, run *dialogRun, stepName string) error {
	d := run.dialog
	m := run.machine

	current := stepName
	for current != "" {
		step := m.Step(current)
		if step == nil {
			return e.fail(ctx, run, current,
				schema.NewErrorf(schema.ErrCodeTemplate, "step %q not found", current))
		}

		// Fallback detours and replays can leave a later step already done.
		if r := d.Result(current); r != nil && r.Status == schema.StepResultComplete {
			next, ok := m.Next(current)
			if !ok {
				return e.complete(ctx, run)
			}
			current = next
			continue
		}

		if step.Kind == schema.StepKindUserInput {
			return e.suspend(ctx, run, step)
		}

		if err := e.runStep(ctx, run, step); err != nil {
			return e.fail(ctx, run, step.Name, err)
		}

		next, ok := m.Next(current)
		if !ok {
			return e.complete(ctx, run)
		}
		current = next
		d.CurrentStep = current
	}
	return e.complete(ctx, run)
}

// suspend parks the dialog at a user_input step until Resume.
func (e *Engine) suspend(ctx context.Context, run *dialogRun, step *schema.Step) error {
	d := run.dialog

	prompt, err := expressions.RenderString(step.Prompt, e.buildScope(run, step))
	if err != nil {
		return e.fail(ctx, run, step.Name, err)
	}

	if err := e.transition(ctx, run, schema.DialogStatusWaitingInput); err != nil {
		return err
	}
	d.CurrentStep = step.Name
	d.WaitingStep = step.Name
	d.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveDialog(ctx, d); err != nil {
		return err
	}

	if err := e.saveMessage(ctx, d, step.Name, "assistant", prompt); err != nil {
		return err
	}
	e.emitDialog(ctx, run, step.Name, schema.EventWaitingInput, map[string]any{
		"step":   step.Name,
		"prompt": prompt,
	})
	e.logger.InfoContext(ctx, "dialog waiting for input", slog.String("step", step.Name))
	return nil
}

// runStep executes one step with its error-handling policy applied.
func (e *Engine) runStep(ctx context.Context, run *dialogRun, step *schema.Step) error {
	return e.runStepChain(ctx, run, step, map[string]bool{step.Name: true})
}

// runStepChain is runStep with the fallback steps already visited in this
// pass; a fallback that revisits one would never terminate.
func (e *Engine) runStepChain(ctx context.Context, run *dialogRun, step *schema.Step, seen map[string]bool) error {
	ctx = logging.WithStep(ctx, step.Name)
	eh := run.machine.ErrorHandling(step.Name)

	attempt := 0
	for {
		attempt++
		err := e.executeAttempt(ctx, run, step, attempt)
		if err == nil {
			return nil
		}

		if !IsRecoverable(err) || eh.Strategy == schema.ErrorStrategyFail || eh.Strategy == "" {
			e.recordStepError(ctx, run, step, attempt, err)
			return err
		}

		switch eh.Strategy {
		case schema.ErrorStrategyRetry:
			if attempt > eh.MaxRetries {
				e.recordStepError(ctx, run, step, attempt, err)
				return schema.NewErrorf(schema.ErrCodeRetryExhausted,
					"step %q failed after %d attempts: %s", step.Name, attempt, err.Error()).
					WithStep(step.Name).WithCause(err)
			}
			e.logger.WarnContext(ctx, "step failed, retrying",
				slog.Int("attempt", attempt), slog.String("error", err.Error()))
			e.emitStep(ctx, run, step.Name, schema.EventStepRetrying, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			if werr := WaitForBackoff(ctx, ComputeBackoff(eh, attempt)); werr != nil {
				e.recordStepError(ctx, run, step, attempt, werr)
				return werr
			}

		case schema.ErrorStrategyContinue:
			e.recordStepError(ctx, run, step, attempt, err)
			e.emitStep(ctx, run, step.Name, schema.EventStepSkipped, map[string]any{
				"error": err.Error(),
			})
			e.logger.WarnContext(ctx, "step failed, continuing", slog.String("error", err.Error()))
			return nil

		case schema.ErrorStrategyFallback:
			e.recordStepError(ctx, run, step, attempt, err)
			fb := run.machine.Step(eh.FallbackStep)
			if fb == nil {
				return schema.NewErrorf(schema.ErrCodeTemplate,
					"fallback step %q not found", eh.FallbackStep).WithStep(step.Name)
			}
			if r := run.dialog.Result(fb.Name); r != nil && r.Status == schema.StepResultComplete {
				// An earlier completed step satisfies the detour as-is.
				e.logger.WarnContext(ctx, "step failed, fallback already complete",
					slog.String("fallback", fb.Name), slog.String("error", err.Error()))
				return nil
			}
			if seen[fb.Name] {
				return schema.NewErrorf(schema.ErrCodeTemplate,
					"fallback cycle through step %q", fb.Name).WithStep(step.Name)
			}
			seen[fb.Name] = true
			e.logger.WarnContext(ctx, "step failed, running fallback",
				slog.String("fallback", fb.Name), slog.String("error", err.Error()))
			return e.runStepChain(ctx, run, fb, seen)

		default:
			e.recordStepError(ctx, run, step, attempt, err)
			return err
		}
	}
}

// executeAttempt performs a single attempt of a step: render, execute,
// validate output, persist.
func (e *Engine) executeAttempt(ctx context.Context, run *dialogRun, step *schema.Step, attempt int) error {
	d := run.dialog
	now := time.Now().UTC()

	result := &store.StepResult{
		DialogID:  d.ID,
		StepName:  step.Name,
		Kind:      step.Kind,
		Status:    schema.StepResultRunning,
		Position:  run.machine.Position(step.Name),
		Attempts:  attempt,
		StartedAt: &now,
	}
	run.upsertResult(result)
	d.CurrentStep = step.Name
	d.UpdatedAt = now
	if err := e.store.SaveDialog(ctx, d); err != nil {
		return err
	}
	if attempt == 1 {
		e.emitStep(ctx, run, step.Name, schema.EventStepStarted, nil)
	}

	exec, ok := e.executors()[step.Kind]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeTemplate, "no executor for step kind %q", step.Kind).
			WithStep(step.Name)
	}

	output, err := exec(ctx, run, step, e.buildScope(run, step))
	if err != nil {
		return withStep(err, step.Name)
	}

	if step.OutputSchema != "" && e.validator != nil {
		if err := e.validator.ValidateNamed(step.OutputSchema, output); err != nil {
			// Shape mismatches on step output stay recoverable so the
			// step's error strategy applies.
			return withStep(schema.NewErrorf(schema.ErrCodeExecution,
				"step output rejected by schema %q: %s", step.OutputSchema, err.Error()).
				WithCause(err), step.Name)
		}
	}

	return e.completeStep(ctx, run, step, output)
}

// completeStep marks a step complete, persists it, and emits completion
// events.
func (e *Engine) completeStep(ctx context.Context, run *dialogRun, step *schema.Step, output map[string]any) error {
	d := run.dialog
	now := time.Now().UTC()

	result := d.Result(step.Name)
	if result == nil {
		result = &store.StepResult{
			DialogID: d.ID,
			StepName: step.Name,
			Kind:     step.Kind,
			Position: run.machine.Position(step.Name),
			Attempts: 1,
		}
		run.upsertResult(result)
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "cannot encode step output: %s", err.Error()).
			WithStep(step.Name).WithCause(err)
	}
	result.Status = schema.StepResultComplete
	result.Output = raw
	result.CompletedAt = &now
	if result.StartedAt != nil {
		result.DurationMs = now.Sub(*result.StartedAt).Milliseconds()
	}
	run.outputs[step.Name] = output

	d.UpdatedAt = now
	if err := e.store.SaveDialog(ctx, d); err != nil {
		return err
	}

	e.emitStep(ctx, run, step.Name, schema.EventStepCompleted, output)
	e.publish(ctx, d.ID, step.Name, schema.StepCompletedEvent(step.Name), output)
	e.logger.DebugContext(ctx, "step completed", slog.String("step", step.Name))
	return nil
}

// recordStepError persists the failed state of a step and emits step.failed.
func (e *Engine) recordStepError(ctx context.Context, run *dialogRun, step *schema.Step, attempt int, err error) {
	d := run.dialog
	now := time.Now().UTC()

	result := d.Result(step.Name)
	if result == nil {
		result = &store.StepResult{
			DialogID: d.ID,
			StepName: step.Name,
			Kind:     step.Kind,
			Position: run.machine.Position(step.Name),
		}
		run.upsertResult(result)
	}
	result.Status = schema.StepResultError
	result.Attempts = attempt
	result.Error = marshalError(err)
	result.CompletedAt = &now
	if result.StartedAt != nil {
		result.DurationMs = now.Sub(*result.StartedAt).Milliseconds()
	}

	d.UpdatedAt = now
	if serr := e.store.SaveDialog(ctx, d); serr != nil {
		e.logger.ErrorContext(ctx, "persist step error failed", slog.String("error", serr.Error()))
	}
	e.emitStep(ctx, run, step.Name, schema.EventStepFailed, map[string]any{"error": err.Error()})
}

// complete transitions the dialog to completed.
func (e *Engine) complete(ctx context.Context, run *dialogRun) error {
	d := run.dialog
	if err := e.transition(ctx, run, schema.DialogStatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	d.CompletedAt = &now
	d.CurrentStep = ""
	d.UpdatedAt = now
	if err := e.store.SaveDialog(ctx, d); err != nil {
		return err
	}
	e.emitDialog(ctx, run, "", schema.EventCompleted, nil)
	e.logger.InfoContext(ctx, "dialog completed")
	return nil
}

// fail transitions the dialog to failed with the given cause. The original
// error is returned so callers can propagate it.
func (e *Engine) fail(ctx context.Context, run *dialogRun, stepName string, cause error) error {
	d := run.dialog
	if terr := checkTransition(d.ID, d.Status, schema.DialogStatusFailed); terr != nil {
		return cause
	}

	now := time.Now().UTC()
	d.Status = schema.DialogStatusFailed
	d.CompletedAt = &now
	d.UpdatedAt = now
	d.WaitingStep = ""
	d.Error = marshalError(cause)
	if serr := e.store.SaveDialog(ctx, d); serr != nil {
		e.logger.ErrorContext(ctx, "persist failed dialog", slog.String("error", serr.Error()))
	}
	e.emitDialog(ctx, run, stepName, schema.EventFailed, map[string]any{"error": cause.Error()})
	e.logger.ErrorContext(ctx, "dialog failed",
		slog.String("step", stepName), slog.String("error", cause.Error()))
	return cause
}

// transition validates and applies a dialog status change in memory. Callers
// persist via SaveDialog.
func (e *Engine) transition(ctx context.Context, run *dialogRun, to schema.DialogStatus) error {
	d := run.dialog
	if err := checkTransition(d.ID, d.Status, to); err != nil {
		return err
	}
	d.Status = to
	d.UpdatedAt = time.Now().UTC()
	return e.store.SaveDialog(ctx, d)
}

// buildScope assembles the interpolation scope for a step.
func (e *Engine) buildScope(run *dialogRun, step *schema.Step) *expressions.Scope {
	d := run.dialog

	stepResults := make(map[string]any, len(run.outputs))
	for name, out := range run.outputs {
		stepResults[name] = out
	}

	cfg := schema.ResolveRunConfig(run.machine.Template(), step)
	configNS := map[string]any{
		"model":      cfg.Model,
		"max_tokens": cfg.MaxTokens,
	}
	if cfg.Temperature != nil {
		configNS["temperature"] = *cfg.Temperature
	}
	if len(cfg.Tools) > 0 {
		configNS["tools"] = toAnySlice(cfg.Tools)
	}
	if len(cfg.Resources) > 0 {
		configNS["resources"] = toAnySlice(cfg.Resources)
	}

	return &expressions.Scope{
		StepResults: stepResults,
		Inputs:      d.Inputs,
		Runtime: map[string]any{
			"dialog_id": d.ID,
			"template":  d.TemplateName,
			"step":      step.Name,
		},
		Config: configNS,
	}
}

// emitDialog records a dialog-lifecycle event and broadcasts it.
func (e *Engine) emitDialog(ctx context.Context, run *dialogRun, stepName, suffix string, payload any) {
	e.appendEvent(ctx, run.dialog.ID, stepName, suffix, payload)
	e.publish(ctx, run.dialog.ID, stepName, schema.EventName(run.dialog.ID, suffix), payload)
}

// emitStep records a step-scoped log event and broadcasts it under the
// dialog's name.
func (e *Engine) emitStep(ctx context.Context, run *dialogRun, stepName, eventType string, payload any) {
	e.appendEvent(ctx, run.dialog.ID, stepName, eventType, payload)
	e.publish(ctx, run.dialog.ID, stepName, schema.EventName(run.dialog.ID, eventType), payload)
}

func (e *Engine) appendEvent(ctx context.Context, dialogID, stepName, eventType string, payload any) {
	if e.events == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	err := e.events.AppendEvent(ctx, &store.Event{
		DialogID: dialogID,
		StepName: stepName,
		Type:     eventType,
		Payload:  raw,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "append event failed",
			slog.String("event", eventType), slog.String("error", err.Error()))
	}
}

func (e *Engine) publish(ctx context.Context, dialogID, stepName, name string, payload any) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Publish(ctx, streaming.StreamEvent{
		DialogID: dialogID,
		StepName: stepName,
		Name:     name,
		Payload:  payload,
	})
}

// upsertResult inserts or replaces a step result on the dialog by name.
func (run *dialogRun) upsertResult(r *store.StepResult) {
	d := run.dialog
	for i, existing := range d.StepResults {
		if existing.StepName == r.StepName {
			d.StepResults[i] = r
			return
		}
	}
	d.StepResults = append(d.StepResults, r)
}

// restoreOutputs decodes persisted step outputs back into the interpolation
// cache after a reload.
func (run *dialogRun) restoreOutputs() {
	for _, r := range run.dialog.StepResults {
		if r.Status != schema.StepResultComplete || len(r.Output) == 0 {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal(r.Output, &out); err == nil {
			run.outputs[r.StepName] = out
		}
	}
}

func withStep(err error, stepName string) error {
	var de *schema.DialogError
	if errors.As(err, &de) && de.Step == "" {
		de.Step = stepName
	}
	return err
}

func marshalError(err error) json.RawMessage {
	var de *schema.DialogError
	if !errors.As(err, &de) {
		de = schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
	}
	b, merr := json.Marshal(de)
	if merr != nil {
		return json.RawMessage(`{"code":"EXECUTION_ERROR","message":"unencodable error"}`)
	}
	return b
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func anyInput(input map[string]any) any {
	if input == nil {
		return map[string]any{}
	}
	return input
}

// inputText extracts the conversational text of a user input, when present.
func inputText(input map[string]any) string {
	for _, key := range []string{"text", "message", "input", "answer"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
