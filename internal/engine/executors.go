package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/colloquy/internal/expressions"
	"github.com/rendis/colloquy/internal/llm"
	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/pkg/schema"
)

// stepExecutor produces the output record for one step attempt. Executors are
// looked up by step kind; user_input never reaches an executor because the
// loop suspends on it instead.
type stepExecutor func(ctx context.Context, run *dialogRun, step *schema.Step, scope *expressions.Scope) (map[string]any, error)

func (e *Engine) executors() map[schema.StepKind]stepExecutor {
	return map[schema.StepKind]stepExecutor{
		schema.StepKindMessage: e.executeMessage,
		schema.StepKindPrompt:  e.executePrompt,
		schema.StepKindInvoke:  e.executeInvoke,
	}
}

// resolveText renders the step body: either the inline content or a
// registered prompt template referenced by name.
func (e *Engine) resolveText(step *schema.Step, scope *expressions.Scope) (string, error) {
	if step.Template != "" {
		return e.templates.RenderPrompt(step.Template, step.TemplateArgs, scope)
	}
	return expressions.RenderString(step.Content, scope)
}

func (e *Engine) executeMessage(ctx context.Context, run *dialogRun, step *schema.Step, scope *expressions.Scope) (map[string]any, error) {
	content, err := e.resolveText(step, scope)
	if err != nil {
		return nil, err
	}

	role := step.Role
	if role == "" {
		role = "assistant"
	}

	if err := e.saveMessage(ctx, run.dialog, step.Name, role, content); err != nil {
		return nil, err
	}

	return map[string]any{
		"role":    role,
		"content": content,
	}, nil
}

func (e *Engine) executePrompt(ctx context.Context, run *dialogRun, step *schema.Step, scope *expressions.Scope) (map[string]any, error) {
	prompt, err := e.resolveText(step, scope)
	if err != nil {
		return nil, err
	}

	cfg := schema.ResolveRunConfig(run.machine.Template(), step)
	resp, err := e.completer.Complete(ctx, llm.CompletionRequest{
		Model:       cfg.Model,
		Messages:    []llm.ChatMessage{{Role: "user", Content: prompt}},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Tools:       cfg.Tools,
		Resources:   cfg.Resources,
	})
	if err != nil {
		return nil, err
	}

	if err := e.saveMessage(ctx, run.dialog, step.Name, "assistant", resp.Text); err != nil {
		return nil, err
	}

	return map[string]any{
		"prompt": prompt,
		"response": map[string]any{
			"text":          resp.Text,
			"model":         resp.Model,
			"finish_reason": resp.FinishReason,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		},
	}, nil
}

func (e *Engine) executeInvoke(ctx context.Context, run *dialogRun, step *schema.Step, scope *expressions.Scope) (map[string]any, error) {
	rendered, err := expressions.RenderValue(step.Args, scope)
	if err != nil {
		return nil, err
	}
	args, _ := rendered.(map[string]any)

	result, err := e.invokables.Invoke(ctx, step.Callable, args)
	if err != nil {
		return nil, err
	}

	return map[string]any{"result": result}, nil
}

func (e *Engine) saveMessage(ctx context.Context, d *store.Dialog, stepName, role, content string) error {
	return e.store.SaveMessage(ctx, &store.Message{
		ID:        uuid.NewString(),
		DialogID:  d.ID,
		StepName:  stepName,
		Role:      role,
		Content:   content,
		Status:    schema.MessageDelivered,
		CreatedAt: time.Now().UTC(),
	})
}
