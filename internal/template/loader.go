package template

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/colloquy/pkg/schema"
)

// Parse decodes a YAML template definition. Unknown fields are rejected so
// typos surface as TEMPLATE_ERROR instead of silently ignored config.
func Parse(data []byte) (*schema.Template, error) {
	var tpl schema.Template
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&tpl); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"invalid template yaml: %s", err.Error()).WithCause(err)
	}
	return &tpl, nil
}

// LoadFile parses a single YAML template file and registers it.
func (r *Registry) LoadFile(path string) (*schema.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"cannot read template file %q: %s", path, err.Error()).WithCause(err)
	}

	tpl, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := r.Register(tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// LoadDir loads every .yaml/.yml file in dir (non-recursive) and registers
// the templates. Returns the number of templates loaded.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeTemplate,
			"cannot read template dir %q: %s", dir, err.Error()).WithCause(err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if _, err := r.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
