// Package events delivers session notifications to interested consumers
// (the interactive console, log tailers). Publishing never blocks the
// streaming pipeline: when a subscriber falls behind, events are dropped
// and counted rather than stalling readers.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/beadflow/agent-core/backend"
)

// Type classifies a notification.
type Type string

const (
	// TypeChunk carries one unit of agent output.
	TypeChunk Type = "chunk"
	// TypeDiagnostic carries a stderr line from the subprocess.
	TypeDiagnostic Type = "diagnostic"
	// TypeCreated announces a new session.
	TypeCreated Type = "session-created"
	// TypeTerminated announces a removed session.
	TypeTerminated Type = "session-terminated"
	// TypeListChanged announces any change to the session set and carries
	// a snapshot of it.
	TypeListChanged Type = "sessions-changed"
	// TypeActiveChanged announces a new active session id.
	TypeActiveChanged Type = "active-changed"
)

// Event is one notification.
type Event struct {
	Type      Type
	SessionID string
	// Chunk is set for TypeChunk.
	Chunk backend.Chunk
	// Line is set for TypeDiagnostic.
	Line string
	// Sessions is set for TypeListChanged.
	Sessions any
	// ActiveID is set for TypeActiveChanged. Empty means no active session.
	ActiveID string
}

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Publisher fans events out to subscribers.
type Publisher struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	bufSize int
	dropped atomic.Uint64
}

// NewPublisher creates a publisher with the given per-subscriber buffer
// size. A non-positive size falls back to DefaultBufferSize.
func NewPublisher(bufSize int) *Publisher {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Publisher{
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a consumer. The returned cancel function removes the
// subscription and closes the channel.
func (p *Publisher) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Event, p.bufSize)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if ch, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking. Events
// that do not fit a subscriber's buffer are dropped.
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ch := range p.subs {
		select {
		case ch <- event:
		default:
			p.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were discarded because a subscriber's
// buffer was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close removes all subscribers and closes their channels.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
