package spawn

import (
	"fmt"

	"github.com/beadflow/agent-core/backend"
)

// BinaryNotFoundError indicates the backend CLI is not installed. The
// message carries install instructions for the specific backend so it can
// be shown to the user as-is.
type BinaryNotFoundError struct {
	Backend backend.ID
	Command string
	Hint    string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("%s CLI not found. Please install it first: %s", e.Command, e.Hint)
}

// SpawnFailureError indicates the backend CLI exists but could not be
// started.
type SpawnFailureError struct {
	Command string
	Dir     string
	Err     error
}

func (e *SpawnFailureError) Error() string {
	return fmt.Sprintf("failed to spawn %s in %s: %v", e.Command, e.Dir, e.Err)
}

func (e *SpawnFailureError) Unwrap() error {
	return e.Err
}
