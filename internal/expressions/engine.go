package expressions

import "context"

// Engine evaluates expressions exposed to invoke steps as builtin callables.
// Two implementations: Expr (deterministic logic) and GoJQ (JSON transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
