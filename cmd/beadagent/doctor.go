package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beadflow/agent-core/cli"
	"github.com/beadflow/agent-core/workspace"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that required CLI tools and a work tree are available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			results := cli.CheckAll(cli.DefaultPrerequisites())
			fmt.Fprint(out, cli.FormatResults(results))

			if root, err := workspace.FindRootFromCwd(); err != nil {
				fmt.Fprintln(out, "✗ work tree: not inside a project (no .beads or .git)")
			} else {
				fmt.Fprintf(out, "✓ work tree: %s\n", root)
			}

			return cli.ValidateRequired(cli.DefaultPrerequisites())
		},
	}
}
