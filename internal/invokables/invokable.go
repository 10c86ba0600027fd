// Package invokables provides the callable units invoke steps dispatch to:
// builtin functions, application-registered Go callables, and remote MCP
// tools addressed by an "@" name prefix.
package invokables

import "context"

// Invokable is an executable unit of work an invoke step can call.
type Invokable interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// ToolCaller executes remote tools. Names reaching a ToolCaller have the
// "@" prefix already stripped.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	HasTool(name string) bool
}

// Info is a summary of a registered invokable for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Func adapts a plain function into an Invokable.
type Func struct {
	FuncName string
	Desc     string
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Name() string        { return f.FuncName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}
