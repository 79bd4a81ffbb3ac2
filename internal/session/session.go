package session

import (
	"errors"
	"sync"
	"sync/atomic"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/registry"
)

// DefaultBufferSize is the outbound queue length of a session.
const DefaultBufferSize = 64

var (
	// ErrSessionFull is returned when the subscriber is not draining its queue.
	ErrSessionFull = errors.New("session queue is full")
	// ErrSessionClosed is returned after the subscriber disconnected.
	ErrSessionClosed = errors.New("session is closed")
)

// Session is the outbound queue of one subscriber connection.
type Session struct {
	// handle identifies the session in the group registry.
	handle registry.Handle
	// ch carries messages to the transport writer.
	ch chan *domain.Message
	// mu orders Send against Close so a send never hits a closed channel.
	mu sync.RWMutex
	// closed is set once by Close.
	closed bool
	// dropped counts rejected messages.
	dropped atomic.Uint64
	// done is closed together with ch.
	done chan struct{}
}

// New creates a session with a queue of the given size.
func New(handle registry.Handle, size int) *Session {
	if size <= 0 {
		size = DefaultBufferSize
	}

	return &Session{
		handle: handle,
		ch:     make(chan *domain.Message, size),
		done:   make(chan struct{}),
	}
}

// Handle returns the registry handle of the session.
func (s *Session) Handle() registry.Handle {
	return s.handle
}

// Messages returns the queue the transport reads from. It is closed by Close.
func (s *Session) Messages() <-chan *domain.Message {
	return s.ch
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send enqueues msg without blocking.
func (s *Session) Send(msg *domain.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)

		return ErrSessionClosed
	}

	select {
	case s.ch <- msg:
		return nil
	default:
		s.dropped.Add(1)

		return ErrSessionFull
	}
}

// Dropped returns how many messages were rejected.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Close closes the queue. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.ch)
	close(s.done)
}
