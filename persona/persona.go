// Package persona provides the prompt-template system for agent sessions.
// Each persona (specialist, product-manager, qa-engineer) selects a prompt
// template from the task at hand and builds the final prompt sent to the
// backend CLI.
package persona

import (
	"fmt"
	"sort"
	"strings"
)

// Built-in persona names.
const (
	Specialist     = "specialist"
	ProductManager = "product-manager"
	QaEngineer     = "qa-engineer"
)

// Tasks recognized by the product-manager persona.
const (
	TaskDecompose = "decompose"
	TaskExtend    = "extend"
	TaskImplement = "implement"
	TaskChat      = "chat"
)

// Context carries the information a persona uses to pick a template and
// fill its variables.
type Context struct {
	Task       string
	IssueType  string
	WorkItemID string
	Role       string
}

// Plugin selects templates and builds prompts for one persona.
type Plugin interface {
	// Name returns the persona name.
	Name() string

	// TemplateName returns the template (without extension) to load for
	// the given context.
	TemplateName(ctx Context) (string, error)

	// BuildPrompt produces the final prompt from a loaded template. The
	// work-item JSON, when present, is appended as a fenced context block.
	BuildPrompt(template string, ctx Context, itemJSON string) string
}

// basePersona implements the shared prompt-building behavior.
type basePersona struct{}

func (basePersona) BuildPrompt(template string, ctx Context, itemJSON string) string {
	prompt := template
	if ctx.WorkItemID != "" {
		prompt = strings.ReplaceAll(prompt, "{{feature_id}}", ctx.WorkItemID)
	}
	if itemJSON != "" {
		prompt += "\nContext JSON:\n```json\n" + itemJSON + "\n```\n"
	}
	return prompt
}

// specialistPersona maps a work-item role to a domain template.
type specialistPersona struct{ basePersona }

func (specialistPersona) Name() string { return Specialist }

func (specialistPersona) TemplateName(ctx Context) (string, error) {
	if ctx.Role == "" {
		return "", fmt.Errorf("specialist persona requires a role")
	}
	switch ctx.Role {
	case "backend", "frontend", "infra":
		return ctx.Role, nil
	default:
		return "", fmt.Errorf("unknown specialist role %q", ctx.Role)
	}
}

// productManagerPersona selects by task and issue type.
type productManagerPersona struct{ basePersona }

func (productManagerPersona) Name() string { return ProductManager }

func (productManagerPersona) TemplateName(ctx Context) (string, error) {
	switch ctx.Task {
	case TaskDecompose:
		if ctx.IssueType == "epic" {
			return "decompose-epic", nil
		}
		return "decompose-feature", nil
	case TaskExtend:
		if ctx.IssueType == "epic" {
			return "extend-epic", nil
		}
		return "extend-feature", nil
	case TaskImplement:
		if ctx.IssueType == "feature" {
			return "implement-feature", nil
		}
		return "implement-task", nil
	case TaskChat:
		return "chat", nil
	default:
		return "system-prompt", nil
	}
}

// qaEngineerPersona has a single dependency-repair template.
type qaEngineerPersona struct{ basePersona }

func (qaEngineerPersona) Name() string { return QaEngineer }

func (qaEngineerPersona) TemplateName(ctx Context) (string, error) {
	return "fix-dependencies", nil
}

// Registry holds the available personas.
type Registry struct {
	personas map[string]Plugin
}

// NewRegistry creates a registry containing the built-in personas. Custom
// personas are added with LoadCustomFile.
func NewRegistry() *Registry {
	r := &Registry{personas: make(map[string]Plugin)}
	r.Register(specialistPersona{})
	r.Register(productManagerPersona{})
	r.Register(qaEngineerPersona{})
	return r
}

// Register adds a persona, replacing any existing one with the same name.
func (r *Registry) Register(p Plugin) {
	r.personas[p.Name()] = p
}

// Get returns the persona with the given name.
func (r *Registry) Get(name string) (Plugin, error) {
	p, ok := r.personas[name]
	if !ok {
		return nil, fmt.Errorf("unknown persona %q", name)
	}
	return p, nil
}

// Names returns the registered persona names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
