package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// customFile is the on-disk format for user-defined personas, loaded from
// personas.yaml in the config directory.
type customFile struct {
	Personas []customDef `yaml:"personas"`
}

type customDef struct {
	Name            string            `yaml:"name"`
	DefaultTemplate string            `yaml:"default_template"`
	Templates       map[string]string `yaml:"templates"`
}

func (d customDef) validate() error {
	if d.Name == "" {
		return fmt.Errorf("custom persona missing name")
	}
	if len(d.Templates) == 0 {
		return fmt.Errorf("custom persona %q has no templates", d.Name)
	}
	if d.DefaultTemplate == "" {
		return fmt.Errorf("custom persona %q missing default_template", d.Name)
	}
	if _, ok := d.Templates[d.DefaultTemplate]; !ok {
		return fmt.Errorf("custom persona %q: default_template %q not defined", d.Name, d.DefaultTemplate)
	}
	return nil
}

// CustomPersona is a user-defined persona with inline templates.
type CustomPersona struct {
	basePersona
	name            string
	defaultTemplate string
	templates       map[string]string
}

func (p *CustomPersona) Name() string { return p.name }

// TemplateName selects by task when a template with that name exists,
// otherwise the default.
func (p *CustomPersona) TemplateName(ctx Context) (string, error) {
	if ctx.Task != "" {
		if _, ok := p.templates[ctx.Task]; ok {
			return ctx.Task, nil
		}
	}
	return p.defaultTemplate, nil
}

// Template returns the inline content for a template name.
func (p *CustomPersona) Template(name string) (string, bool) {
	content, ok := p.templates[name]
	return content, ok
}

// LoadCustomFile reads user-defined personas from a YAML file and registers
// them. A missing file is not an error.
func (r *Registry) LoadCustomFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read personas file: %w", err)
	}

	var file customFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse personas file %s: %w", path, err)
	}

	for _, def := range file.Personas {
		if err := def.validate(); err != nil {
			return fmt.Errorf("personas file %s: %w", path, err)
		}
		r.Register(&CustomPersona{
			name:            def.Name,
			defaultTemplate: def.DefaultTemplate,
			templates:       def.Templates,
		})
	}
	return nil
}

// ResolvePrompt selects and loads the template for a persona, then builds
// the final prompt. Custom personas resolve from their inline templates,
// built-in personas from the loader.
func ResolvePrompt(r *Registry, l *Loader, personaName string, ctx Context, itemJSON string) (string, error) {
	plugin, err := r.Get(personaName)
	if err != nil {
		return "", err
	}

	templateName, err := plugin.TemplateName(ctx)
	if err != nil {
		return "", err
	}

	var template string
	if custom, ok := plugin.(*CustomPersona); ok {
		content, ok := custom.Template(templateName)
		if !ok {
			return "", fmt.Errorf("custom persona %q has no template %q", personaName, templateName)
		}
		template = content
	} else {
		template, err = l.Load(personaName, templateName)
		if err != nil {
			return "", err
		}
	}

	return plugin.BuildPrompt(template, ctx, itemJSON), nil
}
