package validation

import "github.com/rendis/colloquy/pkg/schema"

// Validator checks dialog templates for correctness before compilation.
// Uses JSON Schema Draft 2020-12 for structural and data validation.
type Validator interface {
	ValidateTemplate(tpl *schema.Template) error
	RegisterSchema(name string, schemaBytes []byte) error
	ValidateNamed(name string, data map[string]any) error
}
