// Package mcp exposes the dialog engine to agents over the Model Context
// Protocol: five tools on a stdio transport plus push notifications for
// suspended dialogs.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/colloquy/internal/engine"
	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/internal/streaming"
	"github.com/rendis/colloquy/internal/template"
)

// ColloquyServerDeps holds the dependencies for creating a ColloquyServer.
type ColloquyServerDeps struct {
	Engine    *engine.Engine
	Store     store.Store
	Templates *template.Registry
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// ColloquyServer wraps an MCP server with dialog tool handlers.
type ColloquyServer struct {
	engine    *engine.Engine
	store     store.Store
	templates *template.Registry
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewColloquyServer creates a ColloquyServer with all 5 tools registered.
func NewColloquyServer(deps ColloquyServerDeps) *ColloquyServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ColloquyServer{
		engine:    deps.Engine,
		store:     deps.Store,
		templates: deps.Templates,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"colloquy",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Colloquy runs scripted dialogs. Use dialog.start to launch a dialog from a registered template, dialog.resume to answer a dialog waiting for input, dialog.status to inspect progress and transcript, dialog.cancel to abort, and dialog.templates to list what can be run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ColloquyServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ColloquyServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the dialog-to-session registry used for notifications.
func (s *ColloquyServer) Sessions() *SessionRegistry {
	return s.sessions
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *ColloquyServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: templatesTool(), Handler: s.handleTemplates},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("dialog.start",
		mcp.WithDescription("Start a dialog from a registered template"),
		mcp.WithString("template_name", mcp.Required(), mcp.Description("Name of the dialog template to run")),
		mcp.WithObject("inputs", mcp.Description("Input parameters for the dialog")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("dialog.resume",
		mcp.WithDescription("Deliver user input to a dialog waiting for it"),
		mcp.WithString("dialog_id", mcp.Required(), mcp.Description("ID of the suspended dialog")),
		mcp.WithObject("input", mcp.Required(), mcp.Description("User input payload (e.g. {\"text\": ...})")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("dialog.status",
		mcp.WithDescription("Get dialog status, step results and transcript"),
		mcp.WithString("dialog_id", mcp.Required(), mcp.Description("ID of the dialog to inspect")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("dialog.cancel",
		mcp.WithDescription("Cancel a dialog that has not finished"),
		mcp.WithString("dialog_id", mcp.Required(), mcp.Description("ID of the dialog to cancel")),
	)
}

func templatesTool() mcp.Tool {
	return mcp.NewTool("dialog.templates",
		mcp.WithDescription("List registered dialog templates"),
	)
}
