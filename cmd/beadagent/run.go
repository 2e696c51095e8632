package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/beadflow/agent-core/backend"
	"github.com/beadflow/agent-core/cli"
	"github.com/beadflow/agent-core/events"
	"github.com/beadflow/agent-core/manager"
	"github.com/beadflow/agent-core/persona"
)

const consoleHelp = `Commands:
  /start [workItem] [persona]   start a session (persona inferred when omitted)
  /open <workItem> [persona]    start or resume the session for a work item
  /sessions                     list sessions
  /switch <sessionID>           make a session active
  /interrupt                    Ctrl-C the active session's process
  /terminate [sessionID]        kill a session (active one by default)
  /history [sessionID]          replay a session's conversation
  /ready                        list ready work items
  /help                         this help
  /quit                         terminate all sessions and exit
Anything else is sent to the active session as a message.`

func newRunCmd() *cobra.Command {
	var backendFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the interactive agent console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cli.ValidateRequired(cli.DefaultPrerequisites()); err != nil {
				return err
			}
			app, err := wireApp()
			if err != nil {
				return err
			}
			if backendFlag != "" {
				app.cfg.Backend = backend.ID(backendFlag)
			}
			if _, err := app.backends.Get(app.cfg.Backend); err != nil {
				return err
			}
			return runConsole(cmd, app)
		},
	}

	cmd.Flags().StringVarP(&backendFlag, "backend", "b", "", "backend CLI to use (claude-code, gemini)")
	return cmd
}

func runConsole(cmd *cobra.Command, app *app) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "beadagent console — backend %s, work tree %s\n", app.cfg.Backend, app.rootDir)
	fmt.Fprintln(out, `Type /help for commands.`)

	// Print streamed output as it arrives.
	sub, cancel := app.pub.Subscribe()
	defer cancel()
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for ev := range sub {
			switch ev.Type {
			case events.TypeChunk:
				if ev.Chunk.Content != "" {
					fmt.Fprintln(out, ev.Chunk.Content)
				}
				if ev.Chunk.Done {
					fmt.Fprintf(out, "[%s] done\n", shortID(ev.SessionID))
				}
			case events.TypeDiagnostic:
				fmt.Fprintf(out, "[%s] %s\n", shortID(ev.SessionID), ev.Line)
			case events.TypeTerminated:
				fmt.Fprintf(out, "[%s] terminated\n", shortID(ev.SessionID))
			}
		}
	}()

	// Shut sessions down on SIGINT/SIGTERM as well as /quit.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		app.mgr.Shutdown()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if quit := app.dispatch(out, line); quit {
				break
			}
		}
		fmt.Fprint(out, "> ")
	}

	app.mgr.Shutdown()
	cancel()
	<-printerDone
	return scanner.Err()
}

// dispatch handles one console line. Returns true when the console should
// exit.
func (a *app) dispatch(out io.Writer, line string) bool {
	if !strings.HasPrefix(line, "/") {
		if err := a.mgr.SendToActive(line); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(out, consoleHelp)

	case "/start":
		a.cmdStart(out, fields[1:], false)

	case "/open":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: /open <workItem> [persona]")
			return false
		}
		a.cmdStart(out, fields[1:], true)

	case "/sessions":
		list := a.mgr.List()
		if len(list) == 0 {
			fmt.Fprintln(out, "no sessions")
			return false
		}
		activeID, _ := a.mgr.ActiveID()
		for _, info := range list {
			marker := " "
			if info.SessionID == activeID {
				marker = "*"
			}
			item := info.WorkItemID
			if item == "" {
				item = "untracked"
			}
			fmt.Fprintf(out, "%s %s  %s  %s  %s  %s\n",
				marker, shortID(info.SessionID), item, info.Persona, info.BackendID, info.Status)
		}

	case "/switch":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /switch <sessionID>")
			return false
		}
		if err := a.mgr.SwitchActive(a.expandID(fields[1])); err != nil {
			fmt.Fprintln(out, "error:", err)
		}

	case "/interrupt":
		activeID, err := a.mgr.ActiveID()
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		if err := a.mgr.Interrupt(activeID); err != nil {
			fmt.Fprintln(out, "error:", err)
		}

	case "/terminate":
		target := ""
		if len(fields) > 1 {
			target = a.expandID(fields[1])
		} else {
			active, err := a.mgr.ActiveID()
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				return false
			}
			target = active
		}
		if err := a.mgr.Terminate(target); err != nil {
			fmt.Fprintln(out, "error:", err)
		}

	case "/history":
		target := ""
		if len(fields) > 1 {
			target = a.expandID(fields[1])
		} else {
			active, err := a.mgr.ActiveID()
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				return false
			}
			target = active
		}
		history, err := a.mgr.ReadHistory(target)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		for _, msg := range history {
			fmt.Fprintf(out, "%s: %s\n", msg.Role, msg.Content)
		}

	case "/ready":
		items, err := a.items.Ready(context.Background())
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		for _, item := range items {
			fmt.Fprintf(out, "%s  p%d  %s  %s\n", item.ID, item.Priority, item.IssueType, item.Title)
		}

	case "/quit", "/exit":
		return true

	default:
		fmt.Fprintf(out, "unknown command %s (try /help)\n", fields[0])
	}
	return false
}

// cmdStart handles /start and /open. Args: [workItem] [persona].
func (a *app) cmdStart(out io.Writer, args []string, resume bool) {
	workItemID := ""
	personaName := ""
	if len(args) > 0 {
		workItemID = args[0]
	}
	if len(args) > 1 {
		personaName = args[1]
	}

	ctx := persona.Context{WorkItemID: workItemID}
	personaName, prompt, err := a.buildPrompt(personaName, ctx)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}

	req := manager.StartRequest{
		BackendID:  a.cfg.Backend,
		Persona:    personaName,
		WorkItemID: workItemID,
		Prompt:     prompt,
	}

	if resume {
		info, history, err := a.mgr.OpenContext(req, a.cfg.ResumeMode)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return
		}
		for _, msg := range history {
			fmt.Fprintf(out, "%s: %s\n", msg.Role, msg.Content)
		}
		fmt.Fprintf(out, "session %s started\n", shortID(info.SessionID))
		return
	}

	info, err := a.mgr.Start(req)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	fmt.Fprintf(out, "session %s started\n", shortID(info.SessionID))
}

// expandID resolves a session id prefix against the registry so console
// users can type the short form.
func (a *app) expandID(prefix string) string {
	for _, info := range a.mgr.List() {
		if strings.HasPrefix(info.SessionID, prefix) {
			return info.SessionID
		}
	}
	return prefix
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
