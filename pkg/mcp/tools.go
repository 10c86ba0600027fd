package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/pkg/schema"
)

// handleStart launches a dialog from a registered template.
func (s *ColloquyServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateName, err := req.RequireString("template_name")
	if err != nil {
		return mcp.NewToolResultError("template_name is required"), nil
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	d, runErr := s.engine.Start(ctx, templateName, inputs)
	if runErr != nil && d == nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", runErr)), nil
	}

	// The session that started the dialog receives its push notifications.
	s.captureSession(ctx, d.ID)

	return marshalResult(dialogPayload(d))
}

// handleResume delivers user input to a suspended dialog.
func (s *ColloquyServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dialogID, err := req.RequireString("dialog_id")
	if err != nil {
		return mcp.NewToolResultError("dialog_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)
	if input == nil {
		return mcp.NewToolResultError("input is required"), nil
	}

	d, resumeErr := s.engine.Resume(ctx, dialogID, input)
	if resumeErr != nil {
		if schema.IsCode(resumeErr, schema.ErrCodeValidation) {
			return mcp.NewToolResultError(fmt.Sprintf("input rejected, dialog still waiting: %v", resumeErr)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}

	s.captureSession(ctx, d.ID)

	return marshalResult(dialogPayload(d))
}

// handleStatus returns the dialog state, its step results, and the transcript.
func (s *ColloquyServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dialogID, err := req.RequireString("dialog_id")
	if err != nil {
		return mcp.NewToolResultError("dialog_id is required"), nil
	}

	d, loadErr := s.engine.Get(ctx, dialogID)
	if loadErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", loadErr)), nil
	}

	payload := dialogPayload(d)
	if messages, msgErr := s.store.ListMessages(ctx, dialogID); msgErr == nil {
		transcript := make([]map[string]any, 0, len(messages))
		for _, m := range messages {
			transcript = append(transcript, map[string]any{
				"role":    m.Role,
				"content": m.Content,
				"step":    m.StepName,
			})
		}
		payload["transcript"] = transcript
	}

	return marshalResult(payload)
}

// handleCancel aborts an unfinished dialog.
func (s *ColloquyServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dialogID, err := req.RequireString("dialog_id")
	if err != nil {
		return mcp.NewToolResultError("dialog_id is required"), nil
	}

	d, cancelErr := s.engine.Cancel(ctx, dialogID)
	if cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":        true,
		"dialog_id": d.ID,
		"status":    d.Status,
	})
}

// handleTemplates lists registered templates.
func (s *ColloquyServer) handleTemplates(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"templates": s.templates.List()})
}

// --- Internal helpers ---

// dialogPayload summarizes a dialog for tool results.
func dialogPayload(d *store.Dialog) map[string]any {
	steps := make([]map[string]any, 0, len(d.StepResults))
	for _, r := range d.StepResults {
		step := map[string]any{
			"name":     r.StepName,
			"kind":     r.Kind,
			"status":   r.Status,
			"attempts": r.Attempts,
		}
		if len(r.Output) > 0 {
			step["output"] = json.RawMessage(r.Output)
		}
		if len(r.Error) > 0 {
			step["error"] = json.RawMessage(r.Error)
		}
		steps = append(steps, step)
	}

	payload := map[string]any{
		"dialog_id": d.ID,
		"template":  d.TemplateName,
		"status":    d.Status,
		"steps":     steps,
	}
	if d.WaitingStep != "" {
		payload["waiting_step"] = d.WaitingStep
	}
	if len(d.Error) > 0 {
		payload["error"] = json.RawMessage(d.Error)
	}
	return payload
}

// captureSession maps the dialog to the calling MCP session for notifications.
func (s *ColloquyServer) captureSession(ctx context.Context, dialogID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(dialogID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
