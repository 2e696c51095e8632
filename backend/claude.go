package backend

import (
	"encoding/json"
	"fmt"
)

// claudeStreamLine mirrors the shape of Claude's stream-json output.
// Only the fields the adapter consumes are declared.
type claudeStreamLine struct {
	Type    string `json:"type"` // "system", "assistant", "user", "result"
	Message struct {
		Content []struct {
			Type  string `json:"type"` // "text", "tool_use"
			Text  string `json:"text,omitempty"`
			Name  string `json:"name,omitempty"`
			Input struct {
				Description string `json:"description,omitempty"`
			} `json:"input,omitempty"`
		} `json:"content"`
	} `json:"message"`
	IsError   bool     `json:"is_error,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// ClaudeBackend adapts Anthropic's Claude Code CLI.
type ClaudeBackend struct{}

// NewClaudeBackend returns the Claude Code adapter.
func NewClaudeBackend() *ClaudeBackend {
	return &ClaudeBackend{}
}

func (b *ClaudeBackend) ID() ID { return Claude }

func (b *ClaudeBackend) CommandName() string { return "claude" }

func (b *ClaudeBackend) InstallHint() string {
	return "See https://docs.anthropic.com/en/docs/claude-code for installation"
}

func (b *ClaudeBackend) SupportsStreaming() bool { return true }

// BuildArgs constructs the Claude Code invocation. The prompt is positional
// and always last. Claude requires a valid UUID for resume; "latest" is not
// accepted.
func (b *ClaudeBackend) BuildArgs(prompt string, resume bool, vendorToken string) []string {
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}

	if resume {
		if vendorToken != "" {
			args = append(args, "--resume", vendorToken)
		} else {
			args = append(args, "--resume")
		}
	} else if vendorToken != "" {
		args = append(args, "--session-id", vendorToken)
	}

	return append(args, prompt)
}

// ParseLine parses one line of Claude's stream-json output. Assistant text
// and tool-use blocks produce content chunks, result lines produce the done
// chunk, and everything else is skipped.
func (b *ClaudeBackend) ParseLine(line []byte) (Chunk, bool) {
	var msg claudeStreamLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return Chunk{}, false
	}

	switch msg.Type {
	case "assistant":
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					return Chunk{Content: block.Text, VendorToken: msg.SessionID}, true
				}
			case "tool_use":
				if block.Name == "" {
					continue
				}
				content := fmt.Sprintf("🔧 Using tool: %s", block.Name)
				if block.Input.Description != "" {
					content = fmt.Sprintf("🔧 %s: %s", block.Name, block.Input.Description)
				}
				return Chunk{Content: content, VendorToken: msg.SessionID}, true
			}
		}

	case "result":
		if msg.IsError && len(msg.Errors) > 0 {
			content := "❌ Error: " + joinErrors(msg.Errors)
			return Chunk{Content: content, Done: true, VendorToken: msg.SessionID}, true
		}
		return Chunk{Done: true, VendorToken: msg.SessionID}, true
	}

	return Chunk{}, false
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}

var _ Plugin = (*ClaudeBackend)(nil)
