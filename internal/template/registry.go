// Package template holds the registry of dialog templates and registered
// prompt texts, plus the YAML loader that feeds it.
package template

import (
	"sort"
	"sync"

	"github.com/rendis/colloquy/internal/expressions"
	"github.com/rendis/colloquy/internal/validation"
	"github.com/rendis/colloquy/pkg/schema"
)

// Info is a summary of a registered template for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Goal        string `json:"goal,omitempty"`
	Model       string `json:"model"`
	Steps       int    `json:"steps"`
}

// Registry is a thread-safe store of validated dialog templates and named
// prompt texts referenced by steps.
type Registry struct {
	validator validation.Validator

	mu        sync.RWMutex
	templates map[string]*schema.Template
	prompts   map[string]string
}

// NewRegistry creates an empty Registry backed by the given validator.
func NewRegistry(validator validation.Validator) *Registry {
	return &Registry{
		validator: validator,
		templates: make(map[string]*schema.Template),
		prompts:   make(map[string]string),
	}
}

// Register validates and stores a template. Duplicate names are rejected.
func (r *Registry) Register(tpl *schema.Template) error {
	if err := r.validator.ValidateTemplate(tpl); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[tpl.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "template %q already registered", tpl.Name)
	}
	r.templates[tpl.Name] = tpl
	return nil
}

// Get retrieves a template by name.
func (r *Registry) Get(name string) (*schema.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.templates[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "template %q not registered", name)
	}
	return tpl, nil
}

// List returns info for all registered templates, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.templates))
	for _, tpl := range r.templates {
		infos = append(infos, Info{
			Name:        tpl.Name,
			Description: tpl.Description,
			Goal:        tpl.Goal,
			Model:       tpl.Model,
			Steps:       len(tpl.Steps),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// RegisterPrompt stores a named prompt text usable from message and prompt
// steps via the template field. Re-registering replaces the text.
func (r *Registry) RegisterPrompt(name, text string) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "prompt name is empty")
	}
	r.mu.Lock()
	r.prompts[name] = text
	r.mu.Unlock()
	return nil
}

// RenderPrompt renders a registered prompt text. Args values are rendered
// against the scope first, then exposed to the body as the args namespace.
func (r *Registry) RenderPrompt(name string, args map[string]any, scope *expressions.Scope) (string, error) {
	r.mu.RLock()
	text, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeRender, "prompt template %q not registered", name)
	}

	rendered, err := expressions.RenderValue(args, scope)
	if err != nil {
		return "", err
	}
	renderedArgs, _ := rendered.(map[string]any)

	bodyScope := *scope
	bodyScope.Args = renderedArgs
	return expressions.RenderString(text, &bodyScope)
}
