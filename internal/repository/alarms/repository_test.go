package alarms

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
)

// recordingObserver remembers every notification in order.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
	last   *domain.Record
	prev   *domain.Record
}

func (o *recordingObserver) add(kind string, record, previous *domain.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.events = append(o.events, kind+" "+record.Key().String())
	o.last = record
	o.prev = previous
}

func (o *recordingObserver) OnCreated(_ context.Context, record *domain.Record) {
	o.add("created", record, nil)
}

func (o *recordingObserver) OnUpdated(_ context.Context, record, previous *domain.Record) {
	o.add("updated", record, previous)
}

func (o *recordingObserver) OnDeleted(_ context.Context, record *domain.Record) {
	o.add("deleted", record, nil)
}

// implementations returns a fresh instance of every repository.
func implementations(t *testing.T) map[string]Repository {
	t.Helper()

	pebbleRepo, err := OpenPebbleRepository(context.Background(), filepath.Join(t.TempDir(), "alarms"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pebbleRepo.Close())
	})

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"pebble": pebbleRepo,
	}
}

func sample(coreID string, ts int64, value int) *domain.Record {
	return &domain.Record{
		CoreID:        coreID,
		RunningID:     "(" + coreID + ":IASIO)",
		CoreTimestamp: ts,
		Value:         value,
		Mode:          domain.ModeOperational,
	}
}

// TestRepository_LastWriteWins verifies created, updated and ignored outcomes and notifications.
func TestRepository_LastWriteWins(t *testing.T) {
	t.Parallel()

	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			observer := new(recordingObserver)
			repo.SetObserver(observer)

			outcome, err := repo.Upsert(ctx, sample("AL1", 100, 1))
			require.NoError(t, err)
			require.Equal(t, OutcomeCreated, outcome)

			outcome, err = repo.Upsert(ctx, sample("AL1", 100, 2))
			require.NoError(t, err)
			require.Equal(t, OutcomeUpdated, outcome)
			require.Equal(t, 1, observer.prev.Value)

			outcome, err = repo.Upsert(ctx, sample("AL1", 90, 3))
			require.NoError(t, err)
			require.Equal(t, OutcomeIgnored, outcome)

			got, err := repo.Get(ctx, sample("AL1", 0, 0).Key())
			require.NoError(t, err)
			require.Equal(t, 2, got.Value)
			require.Equal(t, domain.ModeOperational, got.Mode)
			require.Equal(t, int64(100), got.CoreTimestamp)

			require.Equal(t, []string{
				"created AL1@(AL1:IASIO)",
				"updated AL1@(AL1:IASIO)",
			}, observer.events)
		})
	}
}

// TestRepository_DeleteAndList verifies deletion, ordering and not-found handling.
func TestRepository_DeleteAndList(t *testing.T) {
	t.Parallel()

	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			observer := new(recordingObserver)
			repo.SetObserver(observer)

			for _, id := range []string{"AL3", "AL1", "AL2"} {
				_, err := repo.Upsert(ctx, sample(id, 10, 1))
				require.NoError(t, err)
			}

			list, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			require.Equal(t, "AL1", list[0].CoreID)
			require.Equal(t, "AL3", list[2].CoreID)

			removed, err := repo.Delete(ctx, sample("AL2", 0, 0).Key())
			require.NoError(t, err)
			require.Equal(t, "AL2", removed.CoreID)
			require.Equal(t, "deleted AL2@(AL2:IASIO)", observer.events[len(observer.events)-1])

			_, err = repo.Delete(ctx, sample("AL2", 0, 0).Key())
			require.ErrorIs(t, err, ErrNotFound)

			_, err = repo.Get(ctx, sample("AL2", 0, 0).Key())
			require.ErrorIs(t, err, ErrNotFound)

			list, err = repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
		})
	}
}

// TestRepository_RejectsInvalid verifies identity validation on upsert.
func TestRepository_RejectsInvalid(t *testing.T) {
	t.Parallel()

	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Upsert(context.Background(), &domain.Record{CoreID: "AL1"})
			require.ErrorIs(t, err, domain.ErrMissingIdentity)
		})
	}
}

// TestPebbleRepository_Reopen verifies records survive a restart.
func TestPebbleRepository_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alarms")

	repo, err := OpenPebbleRepository(ctx, path)
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, sample("AL1", 100, 4))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = OpenPebbleRepository(ctx, path)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, repo.Close())
	}()

	got, err := repo.Get(ctx, sample("AL1", 0, 0).Key())
	require.NoError(t, err)
	require.Equal(t, 4, got.Value)
}

// TestPrefixUpperBound checks the iterator bound helper.
func TestPrefixUpperBound(t *testing.T) {
	t.Parallel()

	require.Equal(t, []byte("alarm0"), prefixUpperBound([]byte("alarm/")))
	require.Equal(t, []byte("b"), prefixUpperBound([]byte{'a', 0xFF}))
	require.Nil(t, prefixUpperBound([]byte{0xFF}))
}

// TestOutcome_String checks the outcome labels.
func TestOutcome_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "created", OutcomeCreated.String())
	require.Equal(t, "updated", OutcomeUpdated.String())
	require.Equal(t, "ignored", OutcomeIgnored.String())
}
