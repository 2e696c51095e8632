package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/beadflow/agent-core/index"
	"github.com/beadflow/agent-core/paths"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and prune the session resume index",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsCleanupCmd())
	return cmd
}

func openIndex() (*index.Index, error) {
	path, err := paths.IndexFilePath()
	if err != nil {
		return nil, fmt.Errorf("resolve session index path: %w", err)
	}
	return index.New(path), nil
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List resumable sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := openIndex()
			if err != nil {
				return err
			}
			entries, err := idx.All()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no resumable sessions")
				return nil
			}

			keys := make([]string, 0, len(entries))
			for key := range entries {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			for _, key := range keys {
				entry := entries[key]
				age := time.Since(time.Unix(entry.LastActive, 0)).Round(time.Minute)
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s  %s  last active %s ago\n",
					key, entry.SessionID[:8], entry.BackendID, age)
			}
			return nil
		},
	}
}

func newSessionsCleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove resume entries older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			retention := time.Duration(days) * 24 * time.Hour
			if days <= 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				retention = cfg.retention()
			}

			idx, err := openIndex()
			if err != nil {
				return err
			}
			removed, err := idx.Cleanup(retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale session entr%s\n",
				removed, plural(removed, "y", "ies"))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default from config)")
	return cmd
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
