package binding

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/oshokin/alarm-stream/internal/demux"
	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/logger"
	"github.com/oshokin/alarm-stream/internal/registry"
	repository "github.com/oshokin/alarm-stream/internal/repository/alarms"
	"github.com/oshokin/alarm-stream/internal/routing"
	"github.com/oshokin/alarm-stream/internal/session"
)

// Publisher is the part of the demultiplexer the adapter drives.
type Publisher interface {
	Publish(ctx context.Context, event *domain.ChangeEvent) error
	Unicast(ctx context.Context, handle registry.Handle, key domain.Key, load demux.Loader) (bool, error)
}

// Groups is the part of the group registry the adapter mutates.
type Groups interface {
	Join(group string, handle registry.Handle) error
	Leave(group string, handle registry.Handle) error
	DropHandle(handle registry.Handle)
	MembersOf(group string) []registry.Handle
}

// Store is the read side of the record store.
type Store interface {
	Get(ctx context.Context, key domain.Key) (*domain.Record, error)
	List(ctx context.Context) ([]*domain.Record, error)
}

// Sessions closes the outbound side of a disconnected subscriber.
type Sessions interface {
	Close(handle registry.Handle)
}

// ErrNoGroups is returned when a subscribe or unsubscribe names no group.
var ErrNoGroups = errors.New("at least one group is required")

// Adapter is the binding between store, transports and demultiplexer.
type Adapter struct {
	publisher Publisher
	groups    Groups
	resolver  routing.Resolver
	store     Store
	sessions  Sessions
}

// Compile-time check that the adapter can observe the store.
var _ repository.Observer = (*Adapter)(nil)

// New creates an adapter.
func New(publisher Publisher, groups Groups, resolver routing.Resolver, store Store, sessions Sessions) *Adapter {
	return &Adapter{
		publisher: publisher,
		groups:    groups,
		resolver:  resolver,
		store:     store,
		sessions:  sessions,
	}
}

// OnCreated publishes a created event.
func (a *Adapter) OnCreated(ctx context.Context, record *domain.Record) {
	a.publish(ctx, &domain.ChangeEvent{Kind: domain.KindCreated, Record: record})
}

// OnUpdated publishes an updated event.
func (a *Adapter) OnUpdated(ctx context.Context, record, previous *domain.Record) {
	a.publish(ctx, &domain.ChangeEvent{Kind: domain.KindUpdated, Record: record, Previous: previous})
}

// OnDeleted publishes a deleted event.
func (a *Adapter) OnDeleted(ctx context.Context, record *domain.Record) {
	a.publish(ctx, &domain.ChangeEvent{Kind: domain.KindDeleted, Record: record})
}

// publish never fails the mutation that triggered it; errors are only logged.
func (a *Adapter) publish(ctx context.Context, event *domain.ChangeEvent) {
	if err := a.publisher.Publish(ctx, event); err != nil {
		logger.ErrorKV(ctx, "Failed to publish alarm change", "event", event.String(), "error", err)

		return
	}

	logger.DebugKV(ctx, "Alarm change published", "event", event.String())
}

// Subscribe joins handle to groups and then sends it every current record
// belonging to any of them. It returns the number of snapshot records sent.
func (a *Adapter) Subscribe(ctx context.Context, handle registry.Handle, groups ...string) (int, error) {
	groups = compact(groups)
	if len(groups) == 0 {
		return 0, ErrNoGroups
	}

	for i, group := range groups {
		if err := a.groups.Join(group, handle); err != nil {
			for _, joined := range groups[:i] {
				_ = a.groups.Leave(joined, handle) //nolint:errcheck // Arguments were accepted by Join.
			}

			return 0, fmt.Errorf("join %q: %w", group, err)
		}
	}

	logger.InfoKV(ctx, "Subscriber joined", "handle", handle, "groups", groups)

	sent, err := a.sendSnapshot(ctx, handle, groups)
	if err != nil {
		return sent, fmt.Errorf("send snapshot: %w", err)
	}

	return sent, nil
}

// Unsubscribe removes handle from groups. Unknown memberships are ignored.
func (a *Adapter) Unsubscribe(ctx context.Context, handle registry.Handle, groups ...string) error {
	groups = compact(groups)
	if len(groups) == 0 {
		return ErrNoGroups
	}

	for _, group := range groups {
		if err := a.groups.Leave(group, handle); err != nil {
			return fmt.Errorf("leave %q: %w", group, err)
		}
	}

	logger.InfoKV(ctx, "Subscriber left", "handle", handle, "groups", groups)

	return nil
}

// Disconnect removes handle from every group and closes its session.
func (a *Adapter) Disconnect(ctx context.Context, handle registry.Handle) {
	a.groups.DropHandle(handle)
	a.sessions.Close(handle)

	logger.InfoKV(ctx, "Subscriber disconnected", "handle", handle)
}

// Snapshot returns every current record.
func (a *Adapter) Snapshot(ctx context.Context) ([]*domain.Record, error) {
	records, err := a.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}

	return records, nil
}

// sendSnapshot unicasts every record routed to one of groups.
// A subscriber that went away ends the snapshot early without error.
func (a *Adapter) sendSnapshot(ctx context.Context, handle registry.Handle, groups []string) (int, error) {
	records, err := a.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list alarms: %w", err)
	}

	sent := 0

	for _, record := range records {
		resolved, err := a.resolver.Resolve(record)
		if err != nil || !intersects(resolved, groups) {
			continue
		}

		ok, err := a.publisher.Unicast(ctx, handle, record.Key(), a.load)

		switch {
		case err == nil:
			if ok {
				sent++
			}
		case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrUnknownHandle):
			return sent, nil
		case errors.Is(err, session.ErrSessionFull):
			continue
		default:
			return sent, err
		}
	}

	return sent, nil
}

func (a *Adapter) load(ctx context.Context, key domain.Key) (*domain.Record, bool, error) {
	record, err := a.store.Get(ctx, key)

	switch {
	case err == nil:
		return record, true, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// LogDeliveryFailure is a demux.FailureHandler that logs the failure.
func LogDeliveryFailure(ctx context.Context, err *demux.DeliveryError) {
	logger.WarnKV(ctx, "Alarm delivery dropped",
		"handle", err.Handle,
		"key", err.Key.String(),
		"kind", err.Kind,
		"error", err.Err,
	)
}

func intersects(a, b []string) bool {
	for _, group := range a {
		if slices.Contains(b, group) {
			return true
		}
	}

	return false
}

// compact drops blanks and duplicates, keeping order.
func compact(groups []string) []string {
	result := make([]string, 0, len(groups))

	for _, group := range groups {
		if group != "" && !slices.Contains(result, group) {
			result = append(result, group)
		}
	}

	return result
}
