// Package cli provides utilities for CLI tool management and validation.
package cli

import (
	"fmt"
	"os/exec"
	"strings"
)

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string // Command name (e.g., "claude", "bd")
	Required    bool   // Whether the tool is required to run the app
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

// DefaultPrerequisites returns the list of CLI tools the agent console
// depends on. At least one backend CLI must be present; neither alone is
// required because either can serve.
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "bd",
			Required:    true,
			Description: "Beads work-item CLI",
			InstallURL:  "https://github.com/steveyegge/beads",
		},
		{
			Name:        "git",
			Required:    true,
			Description: "Git version control",
			InstallURL:  "https://git-scm.com/downloads",
		},
		{
			Name:        "claude",
			Required:    false,
			Description: "Claude Code CLI (agent backend)",
			InstallURL:  "https://docs.anthropic.com/en/docs/claude-code",
		},
		{
			Name:        "gemini",
			Required:    false,
			Description: "Gemini CLI (agent backend)",
			InstallURL:  "https://github.com/google-gemini/gemini-cli",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Check verifies that a CLI tool is available in PATH
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path

	if version := getVersion(prereq.Name); version != "" {
		result.Version = version
	}

	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met, plus
// that at least one agent backend CLI is installed. Returns nil when
// everything needed is present, otherwise an error describing what's
// missing.
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string
	backendFound := false
	backendCount := 0

	for _, prereq := range prereqs {
		result := Check(prereq)
		if isBackend(prereq.Name) {
			backendCount++
			if result.Found {
				backendFound = true
			}
			continue
		}
		if prereq.Required && !result.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		}
	}

	if backendCount > 0 && !backendFound {
		missing = append(missing, "  - at least one agent backend (claude or gemini)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}

	return nil
}

func isBackend(name string) bool {
	return name == "claude" || name == "gemini"
}

// getVersion attempts to get the version of a CLI tool
func getVersion(name string) string {
	// Different tools use different version flags
	versionFlags := []string{"--version", "-v", "version"}

	for _, flag := range versionFlags {
		cmd := exec.Command(name, flag)
		output, err := cmd.Output()
		if err == nil {
			lines := strings.Split(string(output), "\n")
			if len(lines) > 0 {
				version := strings.TrimSpace(lines[0])
				if len(version) > 100 {
					version = version[:100]
				}
				return version
			}
		}
	}

	return ""
}

// FormatResults returns a human-readable summary of check results
func FormatResults(results []CheckResult) string {
	var sb strings.Builder

	for _, result := range results {
		status := "✓"
		if !result.Found {
			status = "✗"
		}

		sb.WriteString(fmt.Sprintf("%s %s", status, result.Prerequisite.Name))
		if result.Version != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", result.Version))
		}
		if !result.Found {
			sb.WriteString(fmt.Sprintf("\n    %s", result.Prerequisite.Description))
			sb.WriteString(fmt.Sprintf("\n    Install: %s", result.Prerequisite.InstallURL))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
