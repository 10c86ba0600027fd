package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/colloquy/pkg/schema"
)

// templateSchemaJSON is the JSON Schema for dialog Template validation.
// Embedded as a constant to avoid filesystem dependencies.
const templateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://colloquy.dev/schemas/template.json",
  "type": "object",
  "required": ["name", "model", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "goal": { "type": "string" },
    "model": { "type": "string", "minLength": 1 },
    "tools": { "type": "array", "items": { "type": "string" } },
    "resources": { "type": "array", "items": { "type": "string" } },
    "metadata": { "type": "object" },
    "error_handling": { "$ref": "#/$defs/error_handling" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name", "kind"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["message", "prompt", "user_input", "invoke"]
        },
        "description": { "type": "string" },
        "enabled": { "type": "boolean" },
        "config": { "$ref": "#/$defs/step_config" },
        "error_handling": { "$ref": "#/$defs/error_handling" },
        "role": { "type": "string" },
        "content": { "type": "string" },
        "template": { "type": "string" },
        "template_args": { "type": "object" },
        "prompt": { "type": "string" },
        "input_schema": { "type": "string" },
        "output_schema": { "type": "string" },
        "callable": { "type": "string" },
        "args": { "type": "object" }
      },
      "additionalProperties": false
    },
    "step_config": {
      "type": "object",
      "properties": {
        "model": { "type": "string" },
        "temperature": { "type": "number", "minimum": 0, "maximum": 2 },
        "max_tokens": { "type": "integer", "minimum": 1 },
        "tools": { "type": "array", "items": { "type": "string" } },
        "tool_merge_strategy": {
          "type": "string",
          "enum": ["replace", "append", "prepend"]
        },
        "resources": { "type": "array", "items": { "type": "string" } },
        "resource_merge_strategy": {
          "type": "string",
          "enum": ["replace", "append", "prepend"]
        }
      },
      "additionalProperties": false
    },
    "error_handling": {
      "type": "object",
      "required": ["strategy"],
      "properties": {
        "strategy": {
          "type": "string",
          "enum": ["fail", "retry", "continue", "fallback"]
        },
        "max_retries": { "type": "integer", "minimum": 0 },
        "retry_delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "backoff": {
          "type": "string",
          "enum": ["none", "constant", "exponential"]
        },
        "fallback_step": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	templateSchema *jsonschema.Schema

	// mu guards the named schema registry.
	mu    sync.RWMutex
	named map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the template schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(templateSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal template schema: %w", err)
	}
	if err := c.AddResource("https://colloquy.dev/schemas/template.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add template schema resource: %w", err)
	}

	tplSchema, err := c.Compile("https://colloquy.dev/schemas/template.json")
	if err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}

	return &JSONSchemaValidator{
		templateSchema: tplSchema,
		named:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateTemplate validates a Template against the template JSON Schema and
// runs the semantic checks the schema cannot express.
func (v *JSONSchemaValidator) ValidateTemplate(tpl *schema.Template) error {
	if tpl == nil {
		return schema.NewError(schema.ErrCodeTemplate, "template is nil")
	}

	doc, err := toJSONValue(tpl)
	if err != nil {
		return schema.NewError(schema.ErrCodeTemplate, "failed to serialize template").WithCause(err)
	}

	if err := v.templateSchema.Validate(doc); err != nil {
		return toTemplateError(err)
	}

	return checkSemantics(tpl)
}

// RegisterSchema compiles and stores a named JSON Schema for later use by
// ValidateNamed. Registering the same name twice replaces the schema.
func (v *JSONSchemaValidator) RegisterSchema(name string, schemaBytes []byte) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "schema name is empty")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaBytes)))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid schema %q", name).WithCause(err)
	}

	url := fmt.Sprintf("colloquy://schemas/%s", name)
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "cannot add schema %q", name).WithCause(err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "cannot compile schema %q", name).WithCause(err)
	}

	v.mu.Lock()
	v.named[name] = compiled
	v.mu.Unlock()
	return nil
}

// ValidateNamed validates data against a previously registered schema.
func (v *JSONSchemaValidator) ValidateNamed(name string, data map[string]any) error {
	v.mu.RLock()
	compiled, ok := v.named[name]
	v.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "schema %q not registered", name)
	}

	// Round-trip so numbers become json.Number as the library expects.
	doc, err := toJSONValue(data)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize data").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// HasSchema reports whether a named schema is registered.
func (v *JSONSchemaValidator) HasSchema(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.named[name]
	return ok
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toTemplateError(err error) *schema.DialogError {
	de := toValidationError(err)
	de.Code = schema.ErrCodeTemplate
	return de
}

// toValidationError converts a jsonschema.ValidationError into a DialogError
// with clear, actionable messages.
func toValidationError(err error) *schema.DialogError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
