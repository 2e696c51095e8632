package manager

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/beadflow/agent-core/backend"
	"github.com/beadflow/agent-core/events"
	"github.com/beadflow/agent-core/index"
	"github.com/beadflow/agent-core/logger"
	"github.com/beadflow/agent-core/paths"
	"github.com/beadflow/agent-core/spawn"
)

type fakeHandle struct {
	mu          sync.Mutex
	pid         int
	done        chan struct{}
	interrupted bool
	killed      bool
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Interrupt() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interrupted = true
	return nil
}

func (h *fakeHandle) KillGroup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.killed {
		h.killed = true
		close(h.done)
	}
}

func (h *fakeHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *fakeHandle) wasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// fakeSpawner records spawn requests and hands out fake handles.
type fakeSpawner struct {
	mu       sync.Mutex
	requests []spawn.Request
	handles  []*fakeHandle
	failWith error
	nextPID  int
}

func (f *fakeSpawner) spawn(req spawn.Request) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.nextPID++
	h := newFakeHandle(f.nextPID)
	f.requests = append(f.requests, req)
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeSpawner) lastRequest(t *testing.T) spawn.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no spawn requests recorded")
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeSpawner) lastHandle(t *testing.T) *fakeHandle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		t.Fatal("no handles created")
	}
	return f.handles[len(f.handles)-1]
}

func (f *fakeSpawner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testEnv struct {
	mgr     *SessionManager
	spawner *fakeSpawner
	index   *index.Index
	pub     *events.Publisher
	logsDir string
	rootDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	logger.Reset()
	t.Cleanup(func() {
		logger.Reset()
		paths.Reset()
	})

	logsDir := t.TempDir()
	env := &testEnv{
		spawner: &fakeSpawner{},
		index:   index.New(filepath.Join(t.TempDir(), "session_index.json")),
		pub:     events.NewPublisher(64),
		logsDir: logsDir,
		rootDir: t.TempDir(),
	}
	env.mgr = New(Config{
		Backends: backend.NewRegistry(),
		Index:    env.index,
		Events:   env.pub,
		LogsDir:  logsDir,
		RootDir:  env.rootDir,
		Spawn:    env.spawner.spawn,
	})
	t.Cleanup(env.pub.Close)
	return env
}

func mustStart(t *testing.T, env *testEnv, workItemID, persona string) Info {
	t.Helper()
	info, err := env.mgr.Start(StartRequest{
		BackendID:  backend.Claude,
		Persona:    persona,
		WorkItemID: workItemID,
		Prompt:     "do the work",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return info
}

func TestStart_RegistersSessionAndActivates(t *testing.T) {
	env := newTestEnv(t)

	info := mustStart(t, env, "bp6-1", "specialist")

	if info.SessionID == "" {
		t.Fatal("expected session id")
	}
	if info.Status != StatusRunning {
		t.Errorf("status = %q, want running", info.Status)
	}

	active, err := env.mgr.ActiveID()
	if err != nil {
		t.Fatalf("ActiveID: %v", err)
	}
	if active != info.SessionID {
		t.Errorf("active = %q, want %q", active, info.SessionID)
	}

	req := env.spawner.lastRequest(t)
	if req.Resume {
		t.Error("new session should not spawn in resume mode")
	}
	if req.Dir != env.rootDir {
		t.Errorf("spawn dir = %q, want work-tree root", req.Dir)
	}

	// Resume index has the mapping.
	entry, ok, err := env.index.FindRecent("bp6-1", "specialist")
	if err != nil || !ok {
		t.Fatalf("FindRecent: ok=%v err=%v", ok, err)
	}
	if entry.SessionID != info.SessionID {
		t.Errorf("index session = %q, want %q", entry.SessionID, info.SessionID)
	}
}

func TestStart_UnknownBackend(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mgr.Start(StartRequest{BackendID: "codex", Persona: "specialist"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if len(env.mgr.List()) != 0 {
		t.Error("failed start must not register a session")
	}
}

func TestStart_SpawnFailureLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	env.spawner.failWith = &spawn.BinaryNotFoundError{Command: "claude", Hint: "install it"}

	_, err := env.mgr.Start(StartRequest{
		BackendID: backend.Claude,
		Persona:   "specialist",
		Prompt:    "hi",
	})

	var notFound *spawn.BinaryNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want BinaryNotFoundError", err)
	}
	if len(env.mgr.List()) != 0 {
		t.Error("failed start must not register a session")
	}
	if _, err := env.mgr.ActiveID(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ActiveID err = %v, want ErrNoActiveSession", err)
	}

	// No conversation log survives for a session that never existed.
	matches, err := filepath.Glob(filepath.Join(env.logsDir, "*", "*.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("failed start left log files behind: %v", matches)
	}
}

func TestSendMessage_ResumesWithVendorToken(t *testing.T) {
	env := newTestEnv(t)
	info := mustStart(t, env, "bp6-1", "specialist")

	// Vendor token arrives on the stream.
	env.spawner.lastRequest(t).Callbacks.OnToken("vendor-token-1")

	if err := env.mgr.SendMessage(info.SessionID, "and another thing"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	req := env.spawner.lastRequest(t)
	if !req.Resume {
		t.Error("follow-up must spawn in resume mode")
	}
	if req.VendorToken != "vendor-token-1" {
		t.Errorf("vendor token = %q, want vendor-token-1", req.VendorToken)
	}
	if req.Prompt != "and another thing" {
		t.Errorf("prompt = %q", req.Prompt)
	}
	if env.spawner.spawnCount() != 2 {
		t.Errorf("spawn count = %d, want 2", env.spawner.spawnCount())
	}

	// The process handle was replaced.
	got, err := env.mgr.Get(info.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PID != 2 {
		t.Errorf("pid = %d, want replacement process", got.PID)
	}
}

func TestSendMessage_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	err := env.mgr.SendMessage("no-such-id", "hello")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSendToActive_NoActive(t *testing.T) {
	env := newTestEnv(t)

	if err := env.mgr.SendToActive("hello"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestInterrupt_KeepsRegistryEntry(t *testing.T) {
	env := newTestEnv(t)
	info := mustStart(t, env, "bp6-1", "specialist")

	if err := env.mgr.Interrupt(info.SessionID); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if !env.spawner.lastHandle(t).wasInterrupted() {
		t.Error("SIGINT not delivered")
	}
	if _, err := env.mgr.Get(info.SessionID); err != nil {
		t.Error("interrupted session must stay registered")
	}
}

func TestTerminate_RemovesAndKillsGroup(t *testing.T) {
	env := newTestEnv(t)
	info := mustStart(t, env, "bp6-1", "specialist")
	handle := env.spawner.lastHandle(t)

	if err := env.mgr.Terminate(info.SessionID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !handle.wasKilled() {
		t.Error("process group not killed")
	}
	if _, err := env.mgr.Get(info.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Error("terminated session must leave the registry")
	}

	// A follow-up message to the terminated session fails.
	if err := env.mgr.SendMessage(info.SessionID, "too late"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SendMessage after terminate = %v, want ErrSessionNotFound", err)
	}

	// The resume index survives termination.
	_, ok, err := env.index.FindRecent("bp6-1", "specialist")
	if err != nil || !ok {
		t.Errorf("index entry should survive terminate: ok=%v err=%v", ok, err)
	}
}

func TestTerminate_ClearsActivePointer(t *testing.T) {
	env := newTestEnv(t)
	mustStart(t, env, "bp6-1", "specialist")
	second := mustStart(t, env, "bp6-2", "specialist")

	// The most recent start is active.
	active, _ := env.mgr.ActiveID()
	if active != second.SessionID {
		t.Fatalf("active = %q, want %q", active, second.SessionID)
	}

	if err := env.mgr.Terminate(second.SessionID); err != nil {
		t.Fatal(err)
	}

	// No session is silently promoted; the caller must switch explicitly.
	if _, err := env.mgr.ActiveID(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ActiveID err = %v, want ErrNoActiveSession", err)
	}
	if err := env.mgr.SendToActive("who gets this?"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("SendToActive err = %v, want ErrNoActiveSession", err)
	}
}

func TestTerminate_NonActiveKeepsActivePointer(t *testing.T) {
	env := newTestEnv(t)
	first := mustStart(t, env, "bp6-1", "specialist")
	second := mustStart(t, env, "bp6-2", "specialist")

	if err := env.mgr.Terminate(first.SessionID); err != nil {
		t.Fatal(err)
	}

	active, err := env.mgr.ActiveID()
	if err != nil {
		t.Fatalf("ActiveID: %v", err)
	}
	if active != second.SessionID {
		t.Errorf("active = %q, want untouched %q", active, second.SessionID)
	}
}

func TestSwitchActive(t *testing.T) {
	env := newTestEnv(t)
	first := mustStart(t, env, "bp6-1", "specialist")
	mustStart(t, env, "bp6-2", "specialist")

	if err := env.mgr.SwitchActive(first.SessionID); err != nil {
		t.Fatalf("SwitchActive: %v", err)
	}
	active, _ := env.mgr.ActiveID()
	if active != first.SessionID {
		t.Errorf("active = %q, want %q", active, first.SessionID)
	}

	if err := env.mgr.SwitchActive("no-such-id"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestList_SortedByCreation(t *testing.T) {
	env := newTestEnv(t)
	first := mustStart(t, env, "bp6-1", "specialist")
	second := mustStart(t, env, "bp6-2", "specialist")
	third := mustStart(t, env, "bp6-3", "specialist")

	list := env.mgr.List()
	if len(list) != 3 {
		t.Fatalf("list = %d sessions, want 3", len(list))
	}
	got := []string{list[0].WorkItemID, list[1].WorkItemID, list[2].WorkItemID}
	want := []string{first.WorkItemID, second.WorkItemID, third.WorkItemID}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("list[%d] = %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	first := mustStart(t, env, "bp6-1", "specialist")
	second := mustStart(t, env, "bp6-2", "qa-engineer")

	if err := env.mgr.Terminate(first.SessionID); err != nil {
		t.Fatal(err)
	}

	// The second session is untouched and still accepts messages.
	if _, err := env.mgr.Get(second.SessionID); err != nil {
		t.Fatalf("second session lost: %v", err)
	}
	if err := env.mgr.SendMessage(second.SessionID, "continue"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func TestChunksAreLoggedAndPublished(t *testing.T) {
	env := newTestEnv(t)
	sub, cancel := env.pub.Subscribe()
	defer cancel()

	info := mustStart(t, env, "bp6-1", "specialist")
	callbacks := env.spawner.lastRequest(t).Callbacks

	callbacks.OnChunk(backend.Chunk{Content: "part one ", SessionID: info.SessionID})
	callbacks.OnChunk(backend.Chunk{Content: "part two", SessionID: info.SessionID})
	callbacks.OnChunk(backend.Chunk{Done: true, SessionID: info.SessionID})

	history, err := env.mgr.ReadHistory(info.SessionID)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v, want prompt + coalesced response", history)
	}
	if history[0].Role != "user" || history[0].Content != "do the work" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "part one part two" {
		t.Errorf("history[1] = %+v", history[1])
	}

	// Chunk events reached subscribers.
	chunkEvents := 0
	for drained := false; !drained; {
		select {
		case ev := <-sub:
			if ev.Type == events.TypeChunk {
				chunkEvents++
			}
		default:
			drained = true
		}
	}
	if chunkEvents != 3 {
		t.Errorf("chunk events = %d, want 3", chunkEvents)
	}
}

func TestVendorTokenRecordedInIndex(t *testing.T) {
	env := newTestEnv(t)
	info := mustStart(t, env, "bp6-1", "specialist")

	env.spawner.lastRequest(t).Callbacks.OnToken("vend-9")

	entry, ok, err := env.index.FindRecent("bp6-1", "specialist")
	if err != nil || !ok {
		t.Fatalf("FindRecent: ok=%v err=%v", ok, err)
	}
	if entry.VendorToken != "vend-9" {
		t.Errorf("vendor token = %q, want vend-9", entry.VendorToken)
	}
	if entry.SessionID != info.SessionID {
		t.Errorf("session = %q, want %q", entry.SessionID, info.SessionID)
	}
}

func TestProcessExitKeepsSessionRunning(t *testing.T) {
	env := newTestEnv(t)
	info := mustStart(t, env, "bp6-1", "specialist")

	env.spawner.lastRequest(t).Callbacks.OnExit(nil)

	got, err := env.mgr.Get(info.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %q, want running", got.Status)
	}
}

func TestOpenContext_FreshWhenNoIndexEntry(t *testing.T) {
	env := newTestEnv(t)

	info, history, err := env.mgr.OpenContext(StartRequest{
		BackendID:  backend.Gemini,
		Persona:    "specialist",
		WorkItemID: "bp6-1",
		Prompt:     "start here",
	}, ResumeSoft)
	if err != nil {
		t.Fatalf("OpenContext: %v", err)
	}
	if info.SessionID == "" {
		t.Error("expected a session")
	}
	if len(history) != 0 {
		t.Errorf("history = %+v, want empty", history)
	}
}

func TestOpenContext_AfterRestart(t *testing.T) {
	env := newTestEnv(t)

	// First lifetime: a session runs, streams output, and records its
	// vendor token.
	info := mustStart(t, env, "bp6-1", "specialist")
	callbacks := env.spawner.lastRequest(t).Callbacks
	callbacks.OnToken("vend-42")
	callbacks.OnChunk(backend.Chunk{Content: "done earlier", SessionID: info.SessionID})
	callbacks.OnChunk(backend.Chunk{Done: true, SessionID: info.SessionID})

	// Process restart: a fresh manager over the same index and logs.
	spawner2 := &fakeSpawner{}
	mgr2 := New(Config{
		Backends: backend.NewRegistry(),
		Index:    env.index,
		Events:   env.pub,
		LogsDir:  env.logsDir,
		RootDir:  env.rootDir,
		Spawn:    spawner2.spawn,
	})

	// Soft resume: history comes back, the vendor conversation does not.
	_, history, err := mgr2.OpenContext(StartRequest{
		BackendID:  backend.Claude,
		Persona:    "specialist",
		WorkItemID: "bp6-1",
		Prompt:     "pick it back up",
	}, ResumeSoft)
	if err != nil {
		t.Fatalf("OpenContext soft: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("expected replayed history after restart")
	}
	found := false
	for _, msg := range history {
		if msg.Role == "assistant" && msg.Content == "done earlier" {
			found = true
		}
	}
	if !found {
		t.Errorf("history missing earlier output: %+v", history)
	}
	if req := spawner2.lastRequest(t); req.Resume {
		t.Error("soft resume must start a fresh vendor conversation")
	}

	// Hard resume: the vendor token rides along.
	_, _, err = mgr2.OpenContext(StartRequest{
		BackendID:  backend.Claude,
		Persona:    "specialist",
		WorkItemID: "bp6-1",
		Prompt:     "continue natively",
	}, ResumeHard)
	if err != nil {
		t.Fatalf("OpenContext hard: %v", err)
	}
	req := spawner2.lastRequest(t)
	if !req.Resume {
		t.Error("hard resume must spawn in resume mode")
	}
	if req.VendorToken == "" {
		t.Error("hard resume must carry the vendor token")
	}
}

func TestReadHistory_UnknownSessionIsEmpty(t *testing.T) {
	env := newTestEnv(t)

	history, err := env.mgr.ReadHistory("no-such-session")
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %+v, want empty", history)
	}
}

func TestReadHistory_TerminatedSessionViaIndex(t *testing.T) {
	env := newTestEnv(t)
	info := mustStart(t, env, "bp6-7", "specialist")
	callbacks := env.spawner.lastRequest(t).Callbacks
	callbacks.OnChunk(backend.Chunk{Content: "answer", SessionID: info.SessionID})
	callbacks.OnChunk(backend.Chunk{Done: true, SessionID: info.SessionID})

	if err := env.mgr.Terminate(info.SessionID); err != nil {
		t.Fatal(err)
	}

	history, err := env.mgr.ReadHistory(info.SessionID)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("expected history for terminated session")
	}
}

func TestReadHistory_TerminatedSessionDashedWorkItem(t *testing.T) {
	env := newTestEnv(t)

	// Work-item ids can contain dashes and non-digit suffixes, and persona
	// names contain dashes too; the log must still be found by session id
	// after the registry entry is gone.
	info, err := env.mgr.Start(StartRequest{
		BackendID:  backend.Claude,
		Persona:    "product-manager",
		WorkItemID: "bp6-6nj",
		Prompt:     "plan the epic",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	callbacks := env.spawner.lastRequest(t).Callbacks
	callbacks.OnChunk(backend.Chunk{Content: "here is the plan", SessionID: info.SessionID})
	callbacks.OnChunk(backend.Chunk{Done: true, SessionID: info.SessionID})

	if err := env.mgr.Terminate(info.SessionID); err != nil {
		t.Fatal(err)
	}

	history, err := env.mgr.ReadHistory(info.SessionID)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v, want prompt + response", history)
	}
	if history[0].Content != "plan the epic" || history[1].Content != "here is the plan" {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestShutdown_TerminatesEverything(t *testing.T) {
	env := newTestEnv(t)
	mustStart(t, env, "bp6-1", "specialist")
	mustStart(t, env, "bp6-2", "specialist")

	env.mgr.Shutdown()

	if len(env.mgr.List()) != 0 {
		t.Error("sessions survived shutdown")
	}
	env.spawner.mu.Lock()
	defer env.spawner.mu.Unlock()
	for _, h := range env.spawner.handles {
		if !h.killed {
			t.Error("a process group survived shutdown")
		}
	}
}
