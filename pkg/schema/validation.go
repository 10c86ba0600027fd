package schema

import "fmt"

// ValidationIssue is a single template validation problem with location context.
type ValidationIssue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult aggregates all issues found while validating a template.
type ValidationResult struct {
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// Valid returns true if there are no errors.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message})
}

// ToError converts the result to a TEMPLATE_ERROR if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("template validation failed with %d errors", len(r.Errors))
	}
	return NewError(ErrCodeTemplate, msg).WithDetails(map[string]any{
		"error_count": len(r.Errors),
		"errors":      r.Errors,
	})
}
