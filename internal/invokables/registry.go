package invokables

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/colloquy/pkg/schema"
)

// Registry is a thread-safe lookup table of invokables. Names starting with
// "@" are routed to the configured ToolCaller instead of the local table.
type Registry struct {
	mu         sync.RWMutex
	invokables map[string]Invokable
	tools      ToolCaller
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		invokables: make(map[string]Invokable),
	}
}

// SetToolCaller wires the remote tool provider used for "@"-prefixed names.
func (r *Registry) SetToolCaller(tc ToolCaller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = tc
}

// Register adds an invokable. Returns error on duplicate name.
func (r *Registry) Register(inv Invokable) error {
	if inv == nil {
		return schema.NewError(schema.ErrCodeValidation, "invokable is nil")
	}
	name := inv.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "invokable name is empty")
	}
	if strings.HasPrefix(name, "@") {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invokable name %q: the @ prefix is reserved for tools", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.invokables[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "invokable %q already registered", name)
	}
	r.invokables[name] = inv
	return nil
}

// Invoke resolves name and executes it with args.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	if tool, ok := strings.CutPrefix(name, "@"); ok {
		return r.invokeTool(ctx, tool)(ctx, args)
	}

	r.mu.RLock()
	inv, ok := r.invokables[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCallableUnavailable,
			"callable %q not registered", name)
	}
	return inv.Invoke(ctx, args)
}

func (r *Registry) invokeTool(ctx context.Context, tool string) func(context.Context, map[string]any) (any, error) {
	r.mu.RLock()
	tc := r.tools
	r.mu.RUnlock()

	return func(ctx context.Context, args map[string]any) (any, error) {
		if tc == nil {
			return nil, schema.NewErrorf(schema.ErrCodeCallableUnavailable,
				"tool @%s requested but no tool provider configured", tool)
		}
		if !tc.HasTool(tool) {
			return nil, schema.NewErrorf(schema.ErrCodeCallableUnavailable,
				"tool @%s not available", tool)
		}
		return tc.CallTool(ctx, tool, args)
	}
}

// Has checks if a callable can be resolved, tool names included.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tool, ok := strings.CutPrefix(name, "@"); ok {
		return r.tools != nil && r.tools.HasTool(tool)
	}
	_, ok := r.invokables[name]
	return ok
}

// List returns info for all locally registered invokables, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.invokables))
	for _, inv := range r.invokables {
		infos = append(infos, Info{Name: inv.Name(), Description: inv.Description()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of locally registered invokables.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.invokables)
}
