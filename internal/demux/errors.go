package demux

import (
	"errors"
	"fmt"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/metrics"
	"github.com/oshokin/alarm-stream/internal/registry"
	"github.com/oshokin/alarm-stream/internal/session"
)

var (
	// ErrNilEvent is returned when Publish receives no event.
	ErrNilEvent = errors.New("event is required")
	// ErrUnknownKind is returned for events with an unsupported kind.
	ErrUnknownKind = errors.New("unknown change kind")
)

// DeliveryError describes a failed enqueue to one subscriber.
// It is reported to the failure handler and never returned by Publish.
type DeliveryError struct {
	Handle registry.Handle
	Key    domain.Key
	Kind   domain.ChangeKind
	Err    error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s %s to %s: %v", e.Kind, e.Key, e.Handle, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// dropReason maps a delivery failure to a metrics label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionFull):
		return metrics.ReasonFull
	case errors.Is(err, session.ErrSessionClosed):
		return metrics.ReasonClosed
	case errors.Is(err, session.ErrUnknownHandle):
		return metrics.ReasonUnknown
	default:
		return metrics.ReasonOther
	}
}
