// beadagent is a terminal console for running multiple AI agent sessions
// against the beads work-item tracker. Each session pairs a work item and a
// persona with a vendor CLI subprocess (Claude Code or Gemini).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
