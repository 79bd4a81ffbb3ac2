package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/alarm-stream/internal/logger"
	"github.com/oshokin/alarm-stream/internal/registry"
	"github.com/oshokin/alarm-stream/internal/session"
)

// Refresh resends the current state of every record to the subscribers of
// the groups it routes to, so clients that dropped updates converge again.
// It returns the number of payloads queued.
func (a *Adapter) Refresh(ctx context.Context) (int, error) {
	records, err := a.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list alarms: %w", err)
	}

	sent := 0

	for _, record := range records {
		if err = ctx.Err(); err != nil {
			return sent, err
		}

		groups, err := a.resolver.Resolve(record)
		if err != nil {
			logger.WarnKV(ctx, "Skipping unroutable alarm in refresh", "key", record.Key().String(), "error", err)

			continue
		}

		for _, handle := range a.recipients(groups) {
			ok, err := a.publisher.Unicast(ctx, handle, record.Key(), a.load)

			switch {
			case err == nil:
				if ok {
					sent++
				}
			case errors.Is(err, session.ErrSessionClosed),
				errors.Is(err, session.ErrUnknownHandle),
				errors.Is(err, session.ErrSessionFull):
			default:
				return sent, err
			}
		}
	}

	return sent, nil
}

// RunRefresh calls Refresh every interval until ctx is done.
func (a *Adapter) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.InfoKV(ctx, "Broadcasting alarm refresh", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := a.Refresh(ctx)
			if err != nil && ctx.Err() == nil {
				logger.ErrorKV(ctx, "Alarm refresh failed", "sent", sent, "error", err)

				continue
			}

			logger.DebugKV(ctx, "Alarm refresh sent", "sent", sent)
		}
	}
}

// recipients returns the members of groups, each handle once.
func (a *Adapter) recipients(groups []string) []registry.Handle {
	seen := make(map[registry.Handle]struct{})

	var result []registry.Handle

	for _, group := range groups {
		for _, handle := range a.groups.MembersOf(group) {
			if _, ok := seen[handle]; ok {
				continue
			}

			seen[handle] = struct{}{}
			result = append(result, handle)
		}
	}

	return result
}
