package backend

import "encoding/json"

// geminiStreamLine mirrors the shape of Gemini's stream-json output.
type geminiStreamLine struct {
	Type      string `json:"type"` // "message", "result"
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// GeminiBackend adapts Google's Gemini CLI.
type GeminiBackend struct{}

// NewGeminiBackend returns the Gemini adapter.
func NewGeminiBackend() *GeminiBackend {
	return &GeminiBackend{}
}

func (b *GeminiBackend) ID() ID { return Gemini }

func (b *GeminiBackend) CommandName() string { return "gemini" }

func (b *GeminiBackend) InstallHint() string {
	return "npm install -g @google/generative-ai-cli"
}

func (b *GeminiBackend) SupportsStreaming() bool { return true }

// BuildArgs constructs the Gemini invocation. Gemini takes the prompt via
// --prompt and accepts "latest" as a resume target when no token is known.
func (b *GeminiBackend) BuildArgs(prompt string, resume bool, vendorToken string) []string {
	args := []string{
		"--output-format", "stream-json",
		"--yolo",
	}

	if resume {
		token := vendorToken
		if token == "" {
			token = "latest"
		}
		args = append(args, "--resume", token)
	}

	return append(args, "--prompt", prompt)
}

// ParseLine parses one line of Gemini's stream-json output. Assistant
// messages produce content chunks and result lines produce the done chunk.
func (b *GeminiBackend) ParseLine(line []byte) (Chunk, bool) {
	var msg geminiStreamLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return Chunk{}, false
	}

	switch {
	case msg.Type == "message" && msg.Role == "assistant":
		return Chunk{Content: msg.Content, VendorToken: msg.SessionID}, true
	case msg.Type == "result":
		return Chunk{Done: true, VendorToken: msg.SessionID}, true
	}

	return Chunk{}, false
}

var _ Plugin = (*GeminiBackend)(nil)
