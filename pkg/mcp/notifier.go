package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/colloquy/internal/streaming"
)

// DialogNotifier pushes dialog events to the agent driving a dialog.
type DialogNotifier interface {
	Notify(ctx context.Context, dialogID string, payload map[string]any) error
}

// MCPNotifier implements DialogNotifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via the MCP server.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the session driving the dialog.
// Best-effort: returns nil if no session is registered.
func (n *MCPNotifier) Notify(_ context.Context, dialogID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(dialogID)
	if !ok {
		return nil // no session attached, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send. Not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Watch subscribes to the event hub and forwards dialog events to the
// sessions driving them. Blocks until ctx is cancelled.
func (n *MCPNotifier) Watch(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			_ = n.Notify(ctx, ev.DialogID, map[string]any{
				"dialog_id": ev.DialogID,
				"event":     ev.Name,
				"step":      ev.StepName,
				"payload":   ev.Payload,
			})
		}
	}
}
