// Package manager maintains the registry of live agent sessions. Each
// session pairs a conversation (work item, persona, backend) with a vendor
// CLI subprocess; the manager owns session lifecycle, the active-session
// pointer, and the plumbing between subprocess output, the conversation
// log, the resume index, and event subscribers.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beadflow/agent-core/backend"
	"github.com/beadflow/agent-core/chatlog"
	"github.com/beadflow/agent-core/events"
	"github.com/beadflow/agent-core/index"
	"github.com/beadflow/agent-core/logger"
	"github.com/beadflow/agent-core/spawn"
)

// Sentinel errors for registry lookups.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoActiveSession = errors.New("no active session")
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusRunning is the status of every session created through the
	// public operations. A session whose subprocess has exited or crashed
	// still lists as running until it is explicitly terminated; there is no
	// liveness check.
	StatusRunning Status = "running"
	// StatusPaused exists only for sessions migrated from legacy state.
	// No public operation transitions a session into or out of it.
	StatusPaused Status = "paused"
)

// ResumeMode controls how OpenContext continues an earlier conversation.
type ResumeMode string

const (
	// ResumeSoft starts a fresh vendor conversation and returns the logged
	// history for replay. This is the default.
	ResumeSoft ResumeMode = "soft"
	// ResumeHard resumes the vendor-side conversation using the recorded
	// vendor session token.
	ResumeHard ResumeMode = "hard"
)

// Handle is the subset of the spawned-process API the manager needs.
// spawn.Handle satisfies it; tests substitute fakes.
type Handle interface {
	PID() int
	Done() <-chan struct{}
	Interrupt() error
	KillGroup()
}

// SpawnFunc launches a subprocess. Production wires spawn.Spawner.Spawn;
// tests inject fakes so no real process starts.
type SpawnFunc func(req spawn.Request) (Handle, error)

// Session is one live registry entry.
type session struct {
	id          string
	workItemID  string
	persona     string
	backendID   backend.ID
	status      Status
	createdAt   time.Time
	vendorToken string
	handle      Handle
	chat        *chatlog.Logger
}

// Info is a serializable session snapshot.
type Info struct {
	SessionID   string     `json:"sessionId"`
	WorkItemID  string     `json:"beadId,omitempty"`
	Persona     string     `json:"persona"`
	BackendID   backend.ID `json:"backendId"`
	Status      Status     `json:"status"`
	CreatedAt   int64      `json:"createdAt"`
	VendorToken string     `json:"cliSessionId,omitempty"`
	PID         int        `json:"pid,omitempty"`
}

// Config wires the manager's collaborators.
type Config struct {
	Backends *backend.Registry
	Index    *index.Index
	Events   *events.Publisher
	// LogsDir is the base directory for conversation logs.
	LogsDir string
	// RootDir is the work-tree root subprocesses run in.
	RootDir string
	// Spawn launches subprocesses. Defaults to a real spawner.
	Spawn SpawnFunc
}

// SessionManager is the session registry.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	activeID string

	backends *backend.Registry
	index    *index.Index
	events   *events.Publisher
	logsDir  string
	rootDir  string
	spawnFn  SpawnFunc
	log      *slog.Logger
}

// New creates a session manager.
func New(cfg Config) *SessionManager {
	spawnFn := cfg.Spawn
	if spawnFn == nil {
		spawner := spawn.NewSpawner()
		spawnFn = func(req spawn.Request) (Handle, error) {
			return spawner.Spawn(req)
		}
	}
	return &SessionManager{
		sessions: make(map[string]*session),
		backends: cfg.Backends,
		index:    cfg.Index,
		events:   cfg.Events,
		logsDir:  cfg.LogsDir,
		rootDir:  cfg.RootDir,
		spawnFn:  spawnFn,
		log:      logger.WithComponent("session-manager"),
	}
}

// StartRequest describes a new session.
type StartRequest struct {
	BackendID  backend.ID
	Persona    string
	WorkItemID string
	Prompt     string
}

// Start creates a session: it spawns the backend subprocess, opens the
// conversation log, records the session in the resume index, and makes it
// the active session. A failed start leaves no trace in the registry.
func (m *SessionManager) Start(req StartRequest) (Info, error) {
	return m.start(req, false, "")
}

func (m *SessionManager) start(req StartRequest, resume bool, vendorToken string) (Info, error) {
	plugin, err := m.backends.Get(req.BackendID)
	if err != nil {
		return Info{}, err
	}

	sessionID := uuid.NewString()

	chat, err := chatlog.Open(m.logsDir, req.WorkItemID, sessionID, req.Persona, string(req.BackendID))
	if err != nil {
		return Info{}, fmt.Errorf("open conversation log: %w", err)
	}

	sess := &session{
		id:          sessionID,
		workItemID:  req.WorkItemID,
		persona:     req.Persona,
		backendID:   req.BackendID,
		status:      StatusRunning,
		createdAt:   time.Now(),
		vendorToken: vendorToken,
		chat:        chat,
	}

	handle, err := m.spawnFn(spawn.Request{
		Plugin:      plugin,
		SessionID:   sessionID,
		Dir:         m.rootDir,
		Prompt:      req.Prompt,
		Resume:      resume,
		VendorToken: vendorToken,
		Callbacks:   m.callbacks(sessionID),
	})
	if err != nil {
		if discardErr := chat.Discard(); discardErr != nil {
			m.log.Warn("failed to discard conversation log", "sessionID", sessionID, "error", discardErr)
		}
		return Info{}, err
	}
	sess.handle = handle

	if err := chat.Message(req.Prompt); err != nil {
		m.log.Warn("failed to log prompt", "sessionID", sessionID, "error", err)
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.activeID = sessionID
	info := snapshot(sess)
	m.mu.Unlock()

	if err := m.index.RecordForResume(req.WorkItemID, req.Persona, sessionID, vendorToken, string(req.BackendID)); err != nil {
		m.log.Warn("failed to record session in resume index", "sessionID", sessionID, "error", err)
	}

	m.log.Info("session started",
		"sessionID", sessionID,
		"backend", req.BackendID,
		"persona", req.Persona,
		"workItemID", req.WorkItemID,
		"resume", resume)

	m.events.Publish(events.Event{Type: events.TypeCreated, SessionID: sessionID})
	m.publishListChanged()
	m.events.Publish(events.Event{Type: events.TypeActiveChanged, ActiveID: sessionID})

	return info, nil
}

// SendMessage continues a session with a follow-up prompt. A new
// subprocess is spawned in resume mode carrying the vendor session token,
// and the session's process handle is replaced.
func (m *SessionManager) SendMessage(sessionID, message string) error {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	plugin, err := m.backends.Get(sess.backendID)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	vendorToken := sess.vendorToken
	workItemID := sess.workItemID
	persona := sess.persona
	chat := sess.chat
	m.mu.RUnlock()

	handle, err := m.spawnFn(spawn.Request{
		Plugin:      plugin,
		SessionID:   sessionID,
		Dir:         m.rootDir,
		Prompt:      message,
		Resume:      true,
		VendorToken: vendorToken,
		Callbacks:   m.callbacks(sessionID),
	})
	if err != nil {
		return err
	}

	if err := chat.Message(message); err != nil {
		m.log.Warn("failed to log message", "sessionID", sessionID, "error", err)
	}

	m.mu.Lock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.handle = handle
	}
	m.mu.Unlock()

	if err := m.index.Touch(workItemID, persona); err != nil {
		m.log.Warn("failed to touch resume index", "sessionID", sessionID, "error", err)
	}

	m.log.Info("message sent", "sessionID", sessionID, "pid", handle.PID())
	return nil
}

// SendToActive sends a follow-up message to the active session.
func (m *SessionManager) SendToActive(message string) error {
	m.mu.RLock()
	activeID := m.activeID
	m.mu.RUnlock()

	if activeID == "" {
		return ErrNoActiveSession
	}
	return m.SendMessage(activeID, message)
}

// Interrupt sends SIGINT to a session's subprocess, like Ctrl-C. The
// registry entry survives and the session can be continued afterwards.
func (m *SessionManager) Interrupt(sessionID string) error {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	var handle Handle
	if ok {
		handle = sess.handle
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if handle == nil {
		return nil
	}
	m.log.Info("interrupting session", "sessionID", sessionID)
	return handle.Interrupt()
}

// Terminate removes a session from the registry and kills its process
// group. The active pointer is cleared when it pointed at the terminated
// session; the caller picks the next active session explicitly. The
// conversation log and resume index are left untouched so the
// conversation can be inspected or resumed later.
func (m *SessionManager) Terminate(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	if m.activeID == sessionID {
		m.activeID = ""
	}
	newActive := m.activeID
	m.mu.Unlock()

	if sess.handle != nil {
		sess.handle.KillGroup()
	}
	if err := sess.chat.Close(); err != nil {
		m.log.Warn("failed to close conversation log", "sessionID", sessionID, "error", err)
	}

	m.log.Info("session terminated", "sessionID", sessionID, "newActive", newActive)

	m.events.Publish(events.Event{Type: events.TypeTerminated, SessionID: sessionID})
	m.publishListChanged()
	m.events.Publish(events.Event{Type: events.TypeActiveChanged, ActiveID: newActive})
	return nil
}

// SwitchActive makes an existing session the active one.
func (m *SessionManager) SwitchActive(sessionID string) error {
	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	m.activeID = sessionID
	m.mu.Unlock()

	m.events.Publish(events.Event{Type: events.TypeActiveChanged, ActiveID: sessionID})
	return nil
}

// ActiveID returns the active session id, or ErrNoActiveSession when the
// registry has no active session.
func (m *SessionManager) ActiveID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.activeID == "" {
		return "", ErrNoActiveSession
	}
	return m.activeID, nil
}

// List returns a snapshot of all sessions ordered by creation time.
func (m *SessionManager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].createdAt.Equal(all[j].createdAt) {
			return all[i].id < all[j].id
		}
		return all[i].createdAt.Before(all[j].createdAt)
	})

	infos := make([]Info, len(all))
	for i, sess := range all {
		infos[i] = snapshot(sess)
	}
	return infos
}

// Get returns the snapshot for one session.
func (m *SessionManager) Get(sessionID string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return snapshot(sess), nil
}

// OpenContext starts or continues the conversation for a work item and
// persona. When the resume index has a recent session, ResumeHard resumes
// the vendor-side conversation via its token, while ResumeSoft starts a
// fresh conversation and returns the logged history for replay. With no
// index entry, a new session starts with empty history.
func (m *SessionManager) OpenContext(req StartRequest, mode ResumeMode) (Info, []chatlog.Message, error) {
	entry, found, err := m.index.FindRecent(req.WorkItemID, req.Persona)
	if err != nil {
		m.log.Warn("resume index lookup failed", "error", err)
		found = false
	}

	if !found {
		info, err := m.Start(req)
		return info, nil, err
	}

	history, err := chatlog.ReadHistory(m.logsDir, req.WorkItemID, entry.SessionID)
	if err != nil {
		m.log.Warn("failed to read session history", "sessionID", entry.SessionID, "error", err)
		history = nil
	}

	if mode == ResumeHard && entry.VendorToken != "" {
		if entry.BackendID != "" {
			req.BackendID = backend.ID(entry.BackendID)
		}
		info, err := m.start(req, true, entry.VendorToken)
		return info, history, err
	}

	info, err := m.Start(req)
	return info, history, err
}

// ReadHistory replays the conversation log for a session. Live sessions
// resolve their log location from the registry; terminated sessions fall
// back to the resume index. An unknown session yields empty history.
func (m *SessionManager) ReadHistory(sessionID string) ([]chatlog.Message, error) {
	m.mu.RLock()
	sess, live := m.sessions[sessionID]
	var workItemID string
	if live {
		workItemID = sess.workItemID
	}
	m.mu.RUnlock()

	if live {
		return chatlog.ReadHistory(m.logsDir, workItemID, sessionID)
	}

	entries, err := m.index.All()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.SessionID == sessionID {
			return chatlog.ReadHistory(m.logsDir, entry.WorkItemID, sessionID)
		}
	}

	// Last resort: the session may have run without a work item.
	return chatlog.ReadHistory(m.logsDir, "", sessionID)
}

// Shutdown terminates every session.
func (m *SessionManager) Shutdown() {
	for _, info := range m.List() {
		if err := m.Terminate(info.SessionID); err != nil {
			m.log.Warn("failed to terminate session during shutdown",
				"sessionID", info.SessionID, "error", err)
		}
	}
}

// callbacks builds the streaming callbacks for one session's subprocess.
func (m *SessionManager) callbacks(sessionID string) spawn.Callbacks {
	return spawn.Callbacks{
		OnChunk: func(chunk backend.Chunk) {
			m.mu.RLock()
			sess, ok := m.sessions[sessionID]
			var chat *chatlog.Logger
			if ok {
				chat = sess.chat
			}
			m.mu.RUnlock()

			if chat != nil {
				if err := chat.Chunk(chunk.Content, chunk.Done); err != nil {
					m.log.Warn("failed to log chunk", "sessionID", sessionID, "error", err)
				}
			}
			m.events.Publish(events.Event{
				Type:      events.TypeChunk,
				SessionID: sessionID,
				Chunk:     chunk,
			})
		},
		OnToken: func(token string) {
			m.mu.Lock()
			sess, ok := m.sessions[sessionID]
			var workItemID, persona string
			var backendID backend.ID
			if ok {
				sess.vendorToken = token
				workItemID = sess.workItemID
				persona = sess.persona
				backendID = sess.backendID
			}
			m.mu.Unlock()

			if !ok {
				return
			}
			if err := m.index.RecordForResume(workItemID, persona, sessionID, token, string(backendID)); err != nil {
				m.log.Warn("failed to record vendor token", "sessionID", sessionID, "error", err)
			}
		},
		OnDiagnostic: func(line string) {
			m.events.Publish(events.Event{
				Type:      events.TypeDiagnostic,
				SessionID: sessionID,
				Line:      line,
			})
		},
		OnExit: func(err error) {
			// No liveness tracking: the registry entry keeps its status
			// until the session is terminated. Exit is only logged.
			if err != nil {
				m.log.Warn("backend process exited with error",
					"sessionID", sessionID, "error", err)
			} else {
				m.log.Debug("backend process exited", "sessionID", sessionID)
			}
		},
	}
}

func (m *SessionManager) publishListChanged() {
	m.events.Publish(events.Event{
		Type:     events.TypeListChanged,
		Sessions: m.List(),
	})
}

func snapshot(sess *session) Info {
	info := Info{
		SessionID:   sess.id,
		WorkItemID:  sess.workItemID,
		Persona:     sess.persona,
		BackendID:   sess.backendID,
		Status:      sess.status,
		CreatedAt:   sess.createdAt.Unix(),
		VendorToken: sess.vendorToken,
	}
	if sess.handle != nil {
		info.PID = sess.handle.PID()
	}
	return info
}
