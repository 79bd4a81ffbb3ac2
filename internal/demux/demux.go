package demux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/logger"
	"github.com/oshokin/alarm-stream/internal/registry"
	"github.com/oshokin/alarm-stream/internal/routing"
)

// DefaultShards is the number of per-key serialization points.
const DefaultShards = 256

// Outbox enqueues a message on the session of one subscriber without blocking.
type Outbox interface {
	Deliver(handle registry.Handle, msg *domain.Message) error
}

// Members returns a snapshot of the handles joined to a group.
type Members interface {
	MembersOf(group string) []registry.Handle
}

// Recorder receives dispatch statistics.
type Recorder interface {
	Published(kind string)
	Delivered(n int)
	Dropped(reason string)
	ObserveDispatch(d time.Duration)
}

// Mirror receives a copy of every dispatched message. It must not block.
type Mirror interface {
	Mirror(ctx context.Context, msg *domain.Message)
}

// FailureHandler is told about every failed delivery.
type FailureHandler func(ctx context.Context, err *DeliveryError)

// Loader returns the current record of key, or false if there is none.
type Loader func(ctx context.Context, key domain.Key) (*domain.Record, bool, error)

// Stats are cumulative dispatch counters.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Demultiplexer routes change events to the sessions of subscribed groups.
type Demultiplexer struct {
	resolver routing.Resolver
	members  Members
	outbox   Outbox

	// shards serialise dispatch per alarm key.
	shards []sync.Mutex
	// fallbackGroup receives events the resolver could not classify.
	fallbackGroup string

	onFailure FailureHandler
	recorder  Recorder
	mirror    Mirror

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Demultiplexer.
type Option func(*Demultiplexer)

// WithShards sets the number of per-key serialization points.
func WithShards(n int) Option {
	return func(d *Demultiplexer) {
		if n > 0 {
			d.shards = make([]sync.Mutex, n)
		}
	}
}

// WithFallbackGroup sets the group used when routing fails for a valid record.
func WithFallbackGroup(name string) Option {
	return func(d *Demultiplexer) {
		if name != "" {
			d.fallbackGroup = name
		}
	}
}

// WithFailureHandler installs a callback for failed deliveries.
func WithFailureHandler(fn FailureHandler) Option {
	return func(d *Demultiplexer) {
		if fn != nil {
			d.onFailure = fn
		}
	}
}

// WithRecorder installs a statistics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Demultiplexer) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithMirror installs a sink receiving a copy of every dispatched message.
func WithMirror(m Mirror) Option {
	return func(d *Demultiplexer) {
		d.mirror = m
	}
}

// New creates a demultiplexer.
func New(resolver routing.Resolver, members Members, outbox Outbox, opts ...Option) *Demultiplexer {
	d := &Demultiplexer{
		resolver:      resolver,
		members:       members,
		outbox:        outbox,
		shards:        make([]sync.Mutex, DefaultShards),
		fallbackGroup: routing.DefaultGlobalGroup,
		onFailure:     func(context.Context, *DeliveryError) {},
		recorder:      noopRecorder{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Publish delivers event to every subscriber of the groups its record resolves to.
//
// Each subscriber receives the event at most once, even when it is a member of
// several matching groups. Publish fails only for malformed events; delivery
// failures are reported to the failure handler.
func (d *Demultiplexer) Publish(ctx context.Context, event *domain.ChangeEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	if !event.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, event.Kind)
	}

	if event.Record == nil {
		return fmt.Errorf("publish %s: %w", event, &routing.Error{Key: event.Key(), Err: domain.ErrMissingIdentity})
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}

	groups, err := d.resolve(ctx, event.Record)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}

	msg, err := domain.NewMessage(domain.NewPayload(event))
	if err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}

	key := event.Key()

	mu := d.shardFor(key)
	mu.Lock()
	defer mu.Unlock()

	started := time.Now()

	for _, handle := range d.recipients(groups) {
		d.deliver(ctx, handle, event.Kind, key, msg)
	}

	if d.mirror != nil {
		d.mirror.Mirror(ctx, msg)
	}

	d.published.Add(1)
	d.recorder.Published(string(event.Kind))
	d.recorder.ObserveDispatch(time.Since(started))

	return nil
}

// Unicast sends the current state of key to a single subscriber as a created
// event. The record is loaded under the key's serialization point, so it is
// never older than a live event already queued for the same key.
// It returns false without error when the record does not exist.
func (d *Demultiplexer) Unicast(ctx context.Context, handle registry.Handle, key domain.Key, load Loader) (bool, error) {
	mu := d.shardFor(key)
	mu.Lock()
	defer mu.Unlock()

	record, found, err := load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}

	if !found {
		return false, nil
	}

	msg, err := domain.NewMessage(domain.NewPayload(&domain.ChangeEvent{
		Kind:   domain.KindCreated,
		Record: record,
	}))
	if err != nil {
		return false, fmt.Errorf("unicast %s: %w", key, err)
	}

	if err = d.outbox.Deliver(handle, msg); err != nil {
		deliveryErr := &DeliveryError{Handle: handle, Key: key, Kind: domain.KindCreated, Err: err}
		d.fail(ctx, deliveryErr)

		return false, deliveryErr
	}

	d.delivered.Add(1)
	d.recorder.Delivered(1)

	return true, nil
}

// Stats returns cumulative counters.
func (d *Demultiplexer) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// resolve returns the groups of record, falling back to the global group when a
// structurally valid record cannot be classified.
func (d *Demultiplexer) resolve(ctx context.Context, record *domain.Record) ([]string, error) {
	groups, err := d.resolver.Resolve(record)

	switch {
	case errors.Is(err, domain.ErrMissingIdentity):
		return nil, err
	case err != nil:
		logger.WarnKV(ctx, "Routing failed, using fallback group",
			"key", record.Key().String(), "fallback_group", d.fallbackGroup, "error", err)

		return []string{d.fallbackGroup}, nil
	case len(groups) == 0:
		return []string{d.fallbackGroup}, nil
	default:
		return groups, nil
	}
}

// recipients merges group snapshots into a duplicate-free list of handles.
func (d *Demultiplexer) recipients(groups []string) []registry.Handle {
	if len(groups) == 1 {
		return d.members.MembersOf(groups[0])
	}

	var (
		seen   = make(map[registry.Handle]struct{})
		result []registry.Handle
	)

	for _, group := range groups {
		for _, handle := range d.members.MembersOf(group) {
			if _, ok := seen[handle]; ok {
				continue
			}

			seen[handle] = struct{}{}
			result = append(result, handle)
		}
	}

	return result
}

func (d *Demultiplexer) deliver(
	ctx context.Context,
	handle registry.Handle,
	kind domain.ChangeKind,
	key domain.Key,
	msg *domain.Message,
) {
	if err := d.outbox.Deliver(handle, msg); err != nil {
		d.fail(ctx, &DeliveryError{Handle: handle, Key: key, Kind: kind, Err: err})

		return
	}

	d.delivered.Add(1)
	d.recorder.Delivered(1)
}

func (d *Demultiplexer) fail(ctx context.Context, err *DeliveryError) {
	d.dropped.Add(1)
	d.recorder.Dropped(dropReason(err.Err))
	d.onFailure(ctx, err)
}

func (d *Demultiplexer) shardFor(key domain.Key) *sync.Mutex {
	return &d.shards[xxhash.Sum64String(key.String())%uint64(len(d.shards))]
}

type noopRecorder struct{}

func (noopRecorder) Published(string)              {}
func (noopRecorder) Delivered(int)                 {}
func (noopRecorder) Dropped(string)                {}
func (noopRecorder) ObserveDispatch(time.Duration) {}
