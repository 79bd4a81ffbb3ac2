package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
)

// countingResolver counts inner resolutions.
type countingResolver struct {
	inner Resolver
	calls int
}

func (c *countingResolver) Resolve(record *domain.Record) ([]string, error) {
	c.calls++

	return c.inner.Resolve(record)
}

// TestCachedResolver_HitsAndCopies verifies memoisation by core_id and snapshot isolation.
func TestCachedResolver_HitsAndCopies(t *testing.T) {
	t.Parallel()

	inner, err := NewRuleResolver(nil)
	require.NoError(t, err)

	counting := &countingResolver{inner: inner}

	cached, err := NewCachedResolver(counting, 2)
	require.NoError(t, err)

	first, err := cached.Resolve(&domain.Record{CoreID: "AL1", RunningID: "R1"})
	require.NoError(t, err)

	// Same core_id with another running_id hits the cache.
	second, err := cached.Resolve(&domain.Record{CoreID: "AL1", RunningID: "R2"})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, counting.calls)

	// Mutating a returned slice must not corrupt the cache.
	second[0] = "tampered"

	third, err := cached.Resolve(&domain.Record{CoreID: "AL1", RunningID: "R1"})
	require.NoError(t, err)
	require.Equal(t, DefaultGlobalGroup, third[0])
	require.Equal(t, 1, cached.Len())
}

// TestCachedResolver_ErrorsNotCached verifies invalid records fail without touching the cache.
func TestCachedResolver_ErrorsNotCached(t *testing.T) {
	t.Parallel()

	inner, err := NewRuleResolver(nil)
	require.NoError(t, err)

	cached, err := NewCachedResolver(inner, 0)
	require.NoError(t, err)

	_, err = cached.Resolve(&domain.Record{CoreID: "AL1"})
	require.ErrorIs(t, err, domain.ErrMissingIdentity)
	require.Zero(t, cached.Len())
}
