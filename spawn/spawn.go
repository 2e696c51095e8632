// Package spawn launches backend CLI subprocesses and streams their output.
// Each process runs in its own process group so interrupt and kill signals
// reach the CLI and its children without leaking to the host process.
package spawn

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/beadflow/agent-core/backend"
	"github.com/beadflow/agent-core/logger"
)

// killGrace is how long a process group gets to react to SIGINT before
// SIGKILL follows.
const killGrace = 50 * time.Millisecond

// Callbacks receive streaming output from the subprocess. All callbacks
// are invoked from reader goroutines; they must not block for long.
type Callbacks struct {
	// OnChunk is called for each parsed output chunk, including the final
	// synthetic done chunk emitted when the stream closes.
	OnChunk func(chunk backend.Chunk)

	// OnToken is called when a vendor session token first appears in the
	// stream.
	OnToken func(token string)

	// OnDiagnostic is called for each stderr line.
	OnDiagnostic func(line string)

	// OnExit is called once after the process exits and both pipes are
	// drained. The error is the process exit error, nil for clean exit.
	OnExit func(err error)
}

// Request describes one subprocess launch.
type Request struct {
	Plugin backend.Plugin
	// SessionID is attached to every emitted chunk.
	SessionID string
	// Dir is the work-tree root the process runs in.
	Dir    string
	Prompt string
	// Resume asks the backend to continue its previous conversation.
	Resume bool
	// VendorToken selects the vendor conversation to resume, or names the
	// session to create for backends that accept an id up front.
	VendorToken string

	Callbacks Callbacks
}

// Handle is a live subprocess.
type Handle struct {
	pid  int
	cmd  *exec.Cmd
	log  *slog.Logger
	done chan struct{}

	exitOnce sync.Once
	exitErr  error
}

// Spawner launches backend subprocesses.
type Spawner struct {
	log *slog.Logger
}

// NewSpawner creates a spawner.
func NewSpawner() *Spawner {
	return &Spawner{log: logger.WithComponent("spawner")}
}

// Spawn starts the backend CLI and begins streaming its output through the
// request callbacks. It returns once the process is running; output flows
// asynchronously until the process exits.
func (s *Spawner) Spawn(req Request) (*Handle, error) {
	plugin := req.Plugin
	args := plugin.BuildArgs(req.Prompt, req.Resume, req.VendorToken)

	cmd := exec.Command(plugin.CommandName(), args...)
	cmd.Dir = req.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnFailureError{Command: plugin.CommandName(), Dir: req.Dir, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnFailureError{Command: plugin.CommandName(), Dir: req.Dir, Err: err}
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			s.log.Error("backend binary not found",
				"backend", plugin.ID(),
				"command", plugin.CommandName())
			return nil, &BinaryNotFoundError{
				Backend: plugin.ID(),
				Command: plugin.CommandName(),
				Hint:    plugin.InstallHint(),
			}
		}
		return nil, &SpawnFailureError{Command: plugin.CommandName(), Dir: req.Dir, Err: err}
	}

	s.log.Info("spawned backend process",
		"backend", plugin.ID(),
		"sessionID", req.SessionID,
		"pid", cmd.Process.Pid,
		"dir", req.Dir,
		"resume", req.Resume)

	h := &Handle{
		pid:  cmd.Process.Pid,
		cmd:  cmd,
		log:  logger.WithSession(req.SessionID),
		done: make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go h.readStdout(stdout, plugin, req, &readers)
	go h.readStderr(stderr, req, &readers)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		h.exitOnce.Do(func() { h.exitErr = err })
		close(h.done)
		if req.Callbacks.OnExit != nil {
			req.Callbacks.OnExit(err)
		}
	}()

	return h, nil
}

// readStdout parses the structured stream and forwards chunks. When the
// stream closes it emits a final synthetic done chunk so consumers always
// observe completion, even if the process died mid-response.
func (h *Handle) readStdout(r io.Reader, plugin backend.Plugin, req Request, wg *sync.WaitGroup) {
	defer wg.Done()

	tokenSeen := false
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !strings.HasPrefix(strings.TrimSpace(string(line)), "{") {
			continue
		}

		chunk, ok := plugin.ParseLine(line)
		if !ok {
			continue
		}
		if chunk.VendorToken != "" && !tokenSeen {
			tokenSeen = true
			if req.Callbacks.OnToken != nil {
				req.Callbacks.OnToken(chunk.VendorToken)
			}
		}
		chunk.SessionID = req.SessionID
		if req.Callbacks.OnChunk != nil {
			req.Callbacks.OnChunk(chunk)
		}
	}
	if err := scanner.Err(); err != nil {
		h.log.Warn("stdout stream error", "error", err)
	}

	if req.Callbacks.OnChunk != nil {
		req.Callbacks.OnChunk(backend.Chunk{Done: true, SessionID: req.SessionID})
	}
}

func (h *Handle) readStderr(r io.Reader, req Request, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		h.log.Debug("backend stderr", "line", line)
		if req.Callbacks.OnDiagnostic != nil {
			req.Callbacks.OnDiagnostic(line)
		}
	}
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.pid
}

// Done is closed after the process exits and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the process exit error. Only meaningful after Done is
// closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.exitErr
	default:
		return nil
	}
}

// Interrupt sends SIGINT to the process group, like Ctrl-C in a terminal.
// The process keeps running and may emit further output.
func (h *Handle) Interrupt() error {
	h.log.Info("sending SIGINT", "pid", h.pid)
	return syscall.Kill(-h.pid, syscall.SIGINT)
}

// KillGroup terminates the process group: SIGINT first so the CLI can
// flush state, SIGKILL shortly after for anything still alive.
func (h *Handle) KillGroup() {
	h.log.Info("killing process group", "pid", h.pid)
	_ = syscall.Kill(-h.pid, syscall.SIGINT)
	time.Sleep(killGrace)
	_ = syscall.Kill(-h.pid, syscall.SIGKILL)
}
