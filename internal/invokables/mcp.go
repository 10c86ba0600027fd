package invokables

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/colloquy/pkg/schema"
)

const (
	mcpProtocolVersion = "2024-11-05"
	toolCallTimeout    = 60 * time.Second
	toolListTimeout    = 5 * time.Second
)

// MCPServerConfig describes one stdio MCP server to connect to.
type MCPServerConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// MCPToolProvider implements ToolCaller over one or more stdio MCP servers.
// Tool names are looked up across all connected servers.
type MCPToolProvider struct {
	mu          sync.RWMutex
	connections map[string]*mcpConnection
}

type mcpConnection struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// NewMCPToolProvider creates an empty provider. Call Connect per server.
func NewMCPToolProvider() *MCPToolProvider {
	return &MCPToolProvider{
		connections: make(map[string]*mcpConnection),
	}
}

// Connect launches the server process, initializes the session and fetches
// its tool list.
func (p *MCPToolProvider) Connect(ctx context.Context, cfg MCPServerConfig) error {
	if cfg.Name == "" || cfg.Command == "" {
		return schema.NewError(schema.ErrCodeValidation, "mcp server config requires name and command")
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Command, cfg.Args)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeCallableUnavailable,
			"cannot create mcp client for %q: %s", cfg.Name, err.Error()).WithCause(err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return schema.NewErrorf(schema.ErrCodeCallableUnavailable,
			"cannot start mcp server %q: %s", cfg.Name, err.Error()).WithCause(err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "colloquy", Version: "1.0.0"}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return schema.NewErrorf(schema.ErrCodeCallableUnavailable,
			"cannot initialize mcp server %q: %s", cfg.Name, err.Error()).WithCause(err)
	}

	listCtx, cancel := context.WithTimeout(ctx, toolListTimeout)
	defer cancel()

	var tools []mcp.Tool
	if result, err := mcpClient.ListTools(listCtx, mcp.ListToolsRequest{}); err == nil && result != nil {
		tools = result.Tools
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, exists := p.connections[cfg.Name]; exists {
		_ = old.client.Close()
	}
	p.connections[cfg.Name] = &mcpConnection{name: cfg.Name, client: mcpClient, tools: tools}
	return nil
}

// HasTool implements ToolCaller.
func (p *MCPToolProvider) HasTool(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.findLocked(name) != nil
}

// CallTool implements ToolCaller. The result's text content is returned as
// decoded JSON when possible, plain string otherwise.
func (p *MCPToolProvider) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	p.mu.RLock()
	conn := p.findLocked(name)
	p.mu.RUnlock()

	if conn == nil {
		return nil, schema.NewErrorf(schema.ErrCodeCallableUnavailable, "tool %q not found", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	result, err := conn.client.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"tool %q call failed: %s", name, err.Error()).WithCause(err)
	}
	if result.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"tool %q reported an error: %s", name, contentText(result.Content))
	}

	return decodeContent(result.Content), nil
}

// Tools returns the names of all tools across connected servers.
func (p *MCPToolProvider) Tools() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var names []string
	for _, conn := range p.connections {
		for _, tool := range conn.tools {
			names = append(names, tool.Name)
		}
	}
	return names
}

// Close shuts down all server connections.
func (p *MCPToolProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, conn := range p.connections {
		_ = conn.client.Close()
	}
	p.connections = make(map[string]*mcpConnection)
	return nil
}

func (p *MCPToolProvider) findLocked(name string) *mcpConnection {
	for _, conn := range p.connections {
		for _, tool := range conn.tools {
			if tool.Name == name {
				return conn
			}
		}
	}
	return nil
}

func contentText(content []mcp.Content) string {
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeContent(content []mcp.Content) any {
	text := contentText(content)
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded
	}
	return text
}
