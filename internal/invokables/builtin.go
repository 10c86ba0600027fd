package invokables

import (
	"context"
	"time"

	"github.com/rendis/colloquy/internal/expressions"
	"github.com/rendis/colloquy/pkg/schema"
)

// RegisterBuiltins registers the built-in invokables: jq, expr.eval and
// time.now.
func RegisterBuiltins(reg *Registry) error {
	all := []Invokable{
		newEngineInvokable("jq", "evaluate a jq expression against data", expressions.NewGoJQEngine()),
		newEngineInvokable("expr.eval", "evaluate an expr expression against data", expressions.NewExprEngine()),
		&Func{
			FuncName: "time.now",
			Desc:     "current time in RFC 3339 UTC, plus unix seconds",
			Fn:       timeNow,
		},
	}

	for _, inv := range all {
		if err := reg.Register(inv); err != nil {
			return err
		}
	}
	return nil
}

// engineInvokable exposes an expression engine as an invokable taking
// {expression, data} args.
type engineInvokable struct {
	name   string
	desc   string
	engine expressions.Engine
}

func newEngineInvokable(name, desc string, engine expressions.Engine) *engineInvokable {
	return &engineInvokable{name: name, desc: desc, engine: engine}
}

func (e *engineInvokable) Name() string        { return e.name }
func (e *engineInvokable) Description() string { return e.desc }

func (e *engineInvokable) Invoke(ctx context.Context, args map[string]any) (any, error) {
	expression, ok := args["expression"].(string)
	if !ok || expression == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: missing required string arg %q", e.name, "expression")
	}

	var data map[string]any
	if raw, present := args["data"]; present {
		data, ok = raw.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"%s: arg %q must be an object", e.name, "data")
		}
	}

	return e.engine.Evaluate(ctx, expression, data)
}

func timeNow(_ context.Context, _ map[string]any) (any, error) {
	now := time.Now().UTC()
	return map[string]any{
		"rfc3339": now.Format(time.RFC3339),
		"unix":    now.Unix(),
	}, nil
}
