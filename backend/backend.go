// Package backend defines the plugin interface for vendor agent CLIs and
// provides implementations for the supported tools. A plugin knows how to
// build the argument vector for a prompt and how to parse one line of the
// tool's structured output into a normalized chunk.
package backend

import (
	"fmt"
	"sort"
)

// ID identifies a backend implementation.
type ID string

const (
	// Gemini is Google's Gemini CLI.
	Gemini ID = "gemini"
	// Claude is Anthropic's Claude Code CLI.
	Claude ID = "claude-code"
)

// Chunk is one normalized unit of agent output. Plugins produce chunks from
// the vendor's stream format; the spawner attaches the owning session id
// before delivery.
type Chunk struct {
	// Content is the text of the chunk. Empty for pure completion chunks.
	Content string `json:"content"`
	// Done marks the final chunk of a response.
	Done bool `json:"isDone"`
	// SessionID is the owning session, attached by the spawner.
	SessionID string `json:"sessionId,omitempty"`
	// VendorToken is the vendor-side session identifier extracted from the
	// stream, used for native resume. Empty when the line carried none.
	VendorToken string `json:"-"`
}

// Plugin is the per-vendor CLI adapter.
type Plugin interface {
	// ID returns the backend identifier.
	ID() ID

	// CommandName returns the executable name to spawn.
	CommandName() string

	// InstallHint returns remediation instructions shown when the
	// executable is not on PATH.
	InstallHint() string

	// SupportsStreaming reports whether the tool emits incremental output.
	SupportsStreaming() bool

	// BuildArgs constructs the argument vector for a prompt. When resume is
	// true the vendor token selects the conversation to continue; when it is
	// false the token (if any) names the session id to create.
	BuildArgs(prompt string, resume bool, vendorToken string) []string

	// ParseLine parses one line of the tool's stdout. It returns the chunk
	// and true when the line produced output, or false for lines that carry
	// no user-visible content.
	ParseLine(line []byte) (Chunk, bool)
}

// Registry holds the available backend plugins.
type Registry struct {
	plugins map[ID]Plugin
}

// NewRegistry creates a registry containing the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{plugins: make(map[ID]Plugin)}
	r.Register(NewGeminiBackend())
	r.Register(NewClaudeBackend())
	return r
}

// Register adds a plugin, replacing any existing one with the same ID.
func (r *Registry) Register(p Plugin) {
	r.plugins[p.ID()] = p
}

// Get returns the plugin for the given id.
func (r *Registry) Get(id ID) (Plugin, error) {
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", id)
	}
	return p, nil
}

// IDs returns the registered backend ids in sorted order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
