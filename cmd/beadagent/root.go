package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/beadflow/agent-core/backend"
	"github.com/beadflow/agent-core/events"
	"github.com/beadflow/agent-core/exec"
	"github.com/beadflow/agent-core/index"
	"github.com/beadflow/agent-core/logger"
	"github.com/beadflow/agent-core/manager"
	"github.com/beadflow/agent-core/paths"
	"github.com/beadflow/agent-core/persona"
	"github.com/beadflow/agent-core/workitem"
	"github.com/beadflow/agent-core/workspace"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "beadagent",
		Short:         "Multi-session agent console for beads work items",
		Long:          "beadagent runs AI agent sessions (Claude Code, Gemini) against beads work items, with per-session conversation logs and cross-restart resume.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newDoctorCmd(),
		newSessionsCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// app bundles the wired collaborators behind the commands.
type app struct {
	cfg       config
	mgr       *manager.SessionManager
	pub       *events.Publisher
	idx       *index.Index
	backends  *backend.Registry
	personas  *persona.Registry
	templates *persona.Loader
	items     *workitem.Client
	rootDir   string
}

func wireApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		logger.SetDebug(true)
	}

	rootDir, err := workspace.FindRootFromCwd()
	if err != nil {
		return nil, err
	}

	configDir, err := paths.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config directory: %w", err)
	}
	personasDir, err := paths.PersonasDir()
	if err != nil {
		return nil, fmt.Errorf("resolve personas directory: %w", err)
	}
	logsDir, err := paths.SessionLogsDir()
	if err != nil {
		return nil, fmt.Errorf("resolve session logs directory: %w", err)
	}
	indexPath, err := paths.IndexFilePath()
	if err != nil {
		return nil, fmt.Errorf("resolve session index path: %w", err)
	}

	backends := backend.NewRegistry()
	personas := persona.NewRegistry()
	if err := personas.LoadCustomFile(filepath.Join(configDir, "personas.yaml")); err != nil {
		return nil, err
	}

	idx := index.New(indexPath)
	pub := events.NewPublisher(cfg.EventBuffer)

	mgr := manager.New(manager.Config{
		Backends: backends,
		Index:    idx,
		Events:   pub,
		LogsDir:  logsDir,
		RootDir:  rootDir,
	})

	return &app{
		cfg:       cfg,
		mgr:       mgr,
		pub:       pub,
		idx:       idx,
		backends:  backends,
		personas:  personas,
		templates: persona.NewLoader(personasDir),
		items:     workitem.NewClient(exec.NewRealExecutor(), rootDir),
		rootDir:   rootDir,
	}, nil
}

// buildPrompt composes the initial prompt for a session. When a work item
// is given, its details are fetched from bd, the task and role come from
// the item, and the chosen persona may change (a specialist role on the
// item hands the work to the specialist persona). Returns the persona
// actually used alongside the prompt.
func (a *app) buildPrompt(personaName string, ctx persona.Context) (string, string, error) {
	itemJSON := ""
	if ctx.WorkItemID != "" {
		item, pretty, err := a.items.ShowJSON(context.Background(), ctx.WorkItemID)
		if err != nil {
			return "", "", fmt.Errorf("fetch work item: %w", err)
		}
		itemJSON = pretty
		if ctx.Role == "" {
			ctx.Role = item.Role()
		}
		if ctx.IssueType == "" {
			ctx.IssueType = item.IssueType
		}
		if ctx.Task == "" {
			if item.NeedsDecomposition() {
				ctx.Task = persona.TaskDecompose
			} else {
				ctx.Task = persona.TaskImplement
			}
		}
	}

	if personaName == "" {
		if ctx.Role != "" {
			personaName = persona.Specialist
		} else {
			personaName = persona.ProductManager
		}
	}

	prompt, err := persona.ResolvePrompt(a.personas, a.templates, personaName, ctx, itemJSON)
	if err != nil {
		return "", "", err
	}
	return personaName, prompt, nil
}
