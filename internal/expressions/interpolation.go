package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/colloquy/pkg/schema"
)

// Scope holds all data available for variable resolution inside {{...}}
// references. Four fixed namespaces exist: step_results, inputs, runtime,
// and config. Nothing else is resolvable; this is a lookup grammar, not a
// general expression language. Args is a fifth namespace populated only
// while rendering a registered prompt template body.
type Scope struct {
	StepResults map[string]any // step name -> result record
	Inputs      map[string]any // dialog input params
	Runtime     map[string]any // runtime context (dialog_id, template, ...)
	Config      map[string]any // merged step run config
	Args        map[string]any // registered template arguments
}

// HasTemplate reports whether s contains any {{...}} references.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderString resolves every {{...}} reference in s and returns the result
// with resolved values stringified in place. An unresolved reference is a
// RENDER_ERROR, recoverable by the step's error-handling strategy.
func RenderString(s string, scope *Scope) (string, error) {
	out, err := render(s, scope, false)
	if err != nil {
		return "", err
	}
	str, _ := out.(string)
	return str, nil
}

// RenderValue deep-renders v: strings are interpolated, maps and slices are
// walked recursively. A string consisting of exactly one {{...}} token
// resolves to the referenced value itself, preserving its type.
func RenderValue(v any, scope *Scope) (any, error) {
	switch val := v.(type) {
	case string:
		return render(val, scope, true)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rendered, err := RenderValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rendered, err := RenderValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// render scans for {{...}} tokens and resolves them. When typed is true and
// the input is exactly one token, the resolved value is returned as-is.
func render(input string, scope *Scope, typed bool) (any, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	tokens := 0
	var sole any
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeRender, "unclosed {{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeRender, "empty variable reference: {{ }}")
		}

		val, err := Resolve(expr, scope)
		if err != nil {
			return nil, err
		}

		tokens++
		sole = val
		result.WriteString(stringify(val))
		i = end + 2
	}

	// A string that is exactly one token keeps the resolved value's type.
	if typed && tokens == 1 && strings.TrimSpace(input) == input &&
		strings.HasPrefix(input, "{{") && strings.HasSuffix(input, "}}") &&
		strings.Index(input, "}}") == len(input)-2 {
		return sole, nil
	}

	return result.String(), nil
}

// Resolve evaluates a single reference path like
// step_results['Generate Question'].response.text against the scope.
func Resolve(expr string, scope *Scope) (any, error) {
	segments, err := parsePath(expr)
	if err != nil {
		return nil, err
	}

	var root any
	switch segments[0] {
	case "step_results":
		root = anyMap(scope.StepResults)
	case "inputs":
		root = anyMap(scope.Inputs)
	case "runtime":
		root = anyMap(scope.Runtime)
	case "config":
		root = anyMap(scope.Config)
	case "args":
		root = anyMap(scope.Args)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeRender,
			"unknown namespace %q in {{%s}}; available: step_results, inputs, runtime, config",
			segments[0], expr).
			WithDetails(map[string]any{"expression": expr})
	}

	if len(segments) == 1 {
		return root, nil
	}

	current := root
	for i, seg := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeRender,
				"cannot traverse into non-object at %q in {{%s}} (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
		val, ok := m[seg]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeRender,
				"field %q not found in {{%s}}; available: [%s]", seg, expr, strings.Join(sortedKeys(m), ", ")).
				WithDetails(map[string]any{"expression": expr, "segment_index": i + 1, "available_fields": sortedKeys(m)})
		}
		current = val
	}
	return current, nil
}

// parsePath tokenizes a reference into path segments. The grammar is
// identifiers joined by dots, with ['quoted'] or ["quoted"] bracket access
// allowed after any segment (needed for step names containing spaces).
func parsePath(expr string) ([]string, error) {
	var segments []string
	i := 0
	expectSegment := true

	for i < len(expr) {
		switch {
		case expr[i] == '.':
			if expectSegment {
				return nil, badPath(expr, "unexpected '.'")
			}
			expectSegment = true
			i++

		case expr[i] == '[':
			rest := expr[i+1:]
			if len(rest) == 0 || (rest[0] != '\'' && rest[0] != '"') {
				return nil, badPath(expr, "expected quoted key after '['")
			}
			quote := rest[0]
			closeIdx := strings.IndexByte(rest[1:], quote)
			if closeIdx == -1 {
				return nil, badPath(expr, "unterminated quoted key")
			}
			key := rest[1 : 1+closeIdx]
			after := 1 + closeIdx + 1
			if after >= len(rest) || rest[after] != ']' {
				return nil, badPath(expr, "expected ']' after quoted key")
			}
			segments = append(segments, key)
			expectSegment = false
			i += 1 + after + 1

		default:
			if !expectSegment {
				return nil, badPath(expr, fmt.Sprintf("unexpected character %q", expr[i]))
			}
			j := i
			for j < len(expr) && isIdentChar(expr[j]) {
				j++
			}
			if j == i {
				return nil, badPath(expr, fmt.Sprintf("unexpected character %q", expr[i]))
			}
			segments = append(segments, expr[i:j])
			expectSegment = false
			i = j
		}
	}

	if expectSegment || len(segments) == 0 {
		return nil, badPath(expr, "dangling path")
	}
	return segments, nil
}

func badPath(expr, reason string) error {
	return schema.NewErrorf(schema.ErrCodeRender, "invalid reference {{%s}}: %s", expr, reason).
		WithDetails(map[string]any{"expression": expr})
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// stringify converts a resolved value into its inline string representation.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}
