package session

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v3"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/registry"
)

// ErrUnknownHandle is returned when delivering to a handle without a session.
var ErrUnknownHandle = errors.New("unknown handle")

// Manager owns the live sessions, keyed by handle.
type Manager struct {
	// sessions maps each open handle to its session.
	sessions *xsync.MapOf[registry.Handle, *Session]
	// bufferSize is the queue length of new sessions.
	bufferSize int
}

// NewManager creates a manager whose sessions use the given queue length.
func NewManager(bufferSize int) *Manager {
	return &Manager{
		sessions:   xsync.NewMapOf[registry.Handle, *Session](),
		bufferSize: bufferSize,
	}
}

// Open creates and stores a session with a fresh handle.
func (m *Manager) Open() *Session {
	s := New(registry.NewHandle(), m.bufferSize)
	m.sessions.Store(s.Handle(), s)

	return s
}

// Get returns the session of handle.
func (m *Manager) Get(handle registry.Handle) (*Session, bool) {
	return m.sessions.Load(handle)
}

// Close removes and closes the session of handle. Unknown handles are ignored.
func (m *Manager) Close(handle registry.Handle) {
	if s, ok := m.sessions.LoadAndDelete(handle); ok {
		s.Close()
	}
}

// Deliver enqueues msg on the session of handle without blocking.
func (m *Manager) Deliver(handle registry.Handle, msg *domain.Message) error {
	s, ok := m.sessions.Load(handle)
	if !ok {
		return ErrUnknownHandle
	}

	return s.Send(msg)
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	return m.sessions.Size()
}

// CloseAll closes every session, used on shutdown.
func (m *Manager) CloseAll() {
	m.sessions.Range(func(handle registry.Handle, _ *Session) bool {
		m.Close(handle)

		return true
	})
}
