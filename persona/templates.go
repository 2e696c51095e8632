package persona

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed templates
var builtinTemplates embed.FS

// Loader resolves persona prompt templates. Templates ship embedded in the
// binary; a file with the same relative path under overrideDir takes
// precedence, which lets users customize prompts without rebuilding.
type Loader struct {
	overrideDir string
}

// NewLoader creates a loader that checks overrideDir before the embedded
// templates. An empty overrideDir disables overrides.
func NewLoader(overrideDir string) *Loader {
	return &Loader{overrideDir: overrideDir}
}

// Load returns the template content for a persona and template name.
func (l *Loader) Load(persona, name string) (string, error) {
	rel := filepath.Join(persona, name+".md")

	if l.overrideDir != "" {
		if data, err := os.ReadFile(filepath.Join(l.overrideDir, rel)); err == nil {
			return string(data), nil
		}
	}

	data, err := builtinTemplates.ReadFile("templates/" + persona + "/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("load template %q for persona %q: %w", name, persona, err)
	}
	return string(data), nil
}

// LoadWithVars loads a template and replaces every {{key}} placeholder with
// its value.
func (l *Loader) LoadWithVars(persona, name string, vars map[string]string) (string, error) {
	tmpl, err := l.Load(persona, name)
	if err != nil {
		return "", err
	}
	for key, value := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{{"+key+"}}", value)
	}
	return tmpl, nil
}

// List returns the template names available for a persona, merging the
// embedded set with any overrides.
func (l *Loader) List(persona string) ([]string, error) {
	seen := make(map[string]bool)

	entries, err := builtinTemplates.ReadDir("templates/" + persona)
	if err != nil {
		return nil, fmt.Errorf("unknown persona %q", persona)
	}
	for _, entry := range entries {
		if name, ok := strings.CutSuffix(entry.Name(), ".md"); ok {
			seen[name] = true
		}
	}

	if l.overrideDir != "" {
		overrides, err := os.ReadDir(filepath.Join(l.overrideDir, persona))
		if err == nil {
			for _, entry := range overrides {
				if name, ok := strings.CutSuffix(entry.Name(), ".md"); ok {
					seen[name] = true
				}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
