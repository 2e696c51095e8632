// Package chatlog persists agent conversations as append-only JSONL files.
// Each session gets one log file under the sessions data directory, grouped
// by work item, so conversations survive restarts and can be replayed when
// a session is resumed.
package chatlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EventType classifies one log line.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventMessage      EventType = "message"
	EventChunk        EventType = "chunk"
	EventSessionEnd   EventType = "session_end"
)

// UntrackedDir groups logs for sessions without a work item.
const UntrackedDir = "untracked"

// Event is one line of a conversation log.
type Event struct {
	Timestamp  string          `json:"timestamp"`
	SessionID  string          `json:"session_id"`
	WorkItemID string          `json:"bead_id,omitempty"`
	Persona    string          `json:"persona"`
	Backend    string          `json:"backend"`
	EventType  EventType       `json:"event_type"`
	Content    string          `json:"content"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Logger appends events for one session. Every event is flushed to disk
// immediately so a crashed process loses at most the line being written.
type Logger struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	session string
	item    string
	persona string
	backend string
}

// Open creates the log file for a session under
// {baseDir}/{workItemID|untracked}/{sessionID}-{unixSeconds}.jsonl and
// writes the session_start event.
func Open(baseDir, workItemID, sessionID, persona, backend string) (*Logger, error) {
	group := workItemID
	if group == "" {
		group = UntrackedDir
	}
	dir := filepath.Join(baseDir, group)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session log directory: %w", err)
	}

	name := fmt.Sprintf("%s-%d.jsonl", sessionID, time.Now().Unix())
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create session log: %w", err)
	}

	l := &Logger{
		path:    path,
		file:    file,
		writer:  bufio.NewWriter(file),
		session: sessionID,
		item:    workItemID,
		persona: persona,
		backend: backend,
	}

	if err := l.append(EventSessionStart, "", nil); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.path
}

// Message records a user prompt sent to the session.
func (l *Logger) Message(content string) error {
	return l.append(EventMessage, content, nil)
}

// Chunk records one unit of agent output. Done chunks are recorded as
// session_end so a completed conversation is recognizable from the log
// alone.
func (l *Logger) Chunk(content string, done bool) error {
	if done {
		return l.append(EventSessionEnd, content, nil)
	}
	return l.append(EventChunk, content, nil)
}

// Close writes a final session_end event and closes the file.
func (l *Logger) Close() error {
	appendErr := l.append(EventSessionEnd, "", nil)
	closeErr := l.file.Close()
	if appendErr != nil {
		return appendErr
	}
	return closeErr
}

// Discard closes and removes the log file. Used when a session fails to
// start after its log was opened, so a session that never existed leaves
// no transcript behind.
func (l *Logger) Discard() error {
	closeErr := l.file.Close()
	removeErr := os.Remove(l.path)
	if removeErr != nil {
		return removeErr
	}
	return closeErr
}

func (l *Logger) append(eventType EventType, content string, metadata json.RawMessage) error {
	event := Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		SessionID:  l.session,
		WorkItemID: l.item,
		Persona:    l.persona,
		Backend:    l.backend,
		EventType:  eventType,
		Content:    content,
		Metadata:   metadata,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write log event: %w", err)
	}
	return l.writer.Flush()
}

// Message is one turn of a replayed conversation.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ReadHistory replays a session's log into conversation turns. Consecutive
// chunk events coalesce into a single assistant message. A session with no
// log on disk yields an empty history, not an error.
func ReadHistory(baseDir, workItemID, sessionID string) ([]Message, error) {
	path, err := findLog(baseDir, workItemID, sessionID)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer file.Close()

	var (
		messages  []Message
		assistant strings.Builder
	)

	flushAssistant := func() {
		if assistant.Len() > 0 {
			messages = append(messages, Message{Role: "assistant", Content: assistant.String()})
			assistant.Reset()
		}
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			// Tolerate a torn final line from a crashed writer.
			continue
		}

		switch event.EventType {
		case EventMessage:
			flushAssistant()
			messages = append(messages, Message{Role: "user", Content: event.Content})
		case EventChunk:
			assistant.WriteString(event.Content)
		case EventSessionEnd:
			if event.Content != "" {
				assistant.WriteString(event.Content)
			}
			flushAssistant()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session log: %w", err)
	}

	flushAssistant()
	return messages, nil
}

// findLog locates the log file for a session. The creation timestamp in the
// filename is unknown to callers, so the session directory is globbed.
func findLog(baseDir, workItemID, sessionID string) (string, error) {
	group := workItemID
	if group == "" {
		group = UntrackedDir
	}
	pattern := filepath.Join(baseDir, group, sessionID+"-*.jsonl")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob session logs: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	// Newest file wins when a session id somehow has several logs.
	newest := matches[0]
	for _, m := range matches[1:] {
		if m > newest {
			newest = m
		}
	}
	return newest, nil
}
