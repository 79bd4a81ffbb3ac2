package alarms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("alarm not found")

// Outcome tells what an upsert did.
type Outcome int

const (
	// OutcomeIgnored means the stored record was newer and was kept.
	OutcomeIgnored Outcome = iota
	// OutcomeCreated means the key did not exist before.
	OutcomeCreated
	// OutcomeUpdated means an older record was replaced.
	OutcomeUpdated
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Observer is notified after every applied mutation.
// Implementations must not call back into the repository.
type Observer interface {
	OnCreated(ctx context.Context, record *domain.Record)
	OnUpdated(ctx context.Context, record, previous *domain.Record)
	OnDeleted(ctx context.Context, record *domain.Record)
}

// Repository stores alarm records by key.
type Repository interface {
	Get(ctx context.Context, key domain.Key) (*domain.Record, error)
	List(ctx context.Context) ([]*domain.Record, error)
	Upsert(ctx context.Context, record *domain.Record) (Outcome, error)
	Delete(ctx context.Context, key domain.Key) (*domain.Record, error)
	SetObserver(observer Observer)
	Close() error
}

// hooks holds the observer shared by both implementations.
type hooks struct {
	mu       sync.RWMutex
	observer Observer
}

// SetObserver registers the observer notified of applied mutations.
func (h *hooks) SetObserver(observer Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.observer = observer
}

func (h *hooks) current() Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.observer
}

func (h *hooks) upserted(ctx context.Context, outcome Outcome, record, previous *domain.Record) {
	observer := h.current()
	if observer == nil {
		return
	}

	switch outcome {
	case OutcomeCreated:
		observer.OnCreated(ctx, record.Clone())
	case OutcomeUpdated:
		observer.OnUpdated(ctx, record.Clone(), previous.Clone())
	case OutcomeIgnored:
	}
}

func (h *hooks) deleted(ctx context.Context, record *domain.Record) {
	if observer := h.current(); observer != nil {
		observer.OnDeleted(ctx, record.Clone())
	}
}

// decide applies last-write-wins to an incoming record.
func decide(incoming, stored *domain.Record) Outcome {
	switch {
	case stored == nil:
		return OutcomeCreated
	case incoming.IsNewerOrEqual(stored):
		return OutcomeUpdated
	default:
		return OutcomeIgnored
	}
}
