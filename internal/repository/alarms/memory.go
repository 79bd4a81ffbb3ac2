package alarms

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
)

// MemoryRepository keeps records in a map. It is lost on restart.
//
// Reads never take mu: the observer runs under mu and may load records
// through the demultiplexer's shard locks.
type MemoryRepository struct {
	hooks

	// mu serialises read-modify-write cycles and orders notifications.
	mu      sync.Mutex
	records *xsync.MapOf[domain.Key, *domain.Record]
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: xsync.NewMapOf[domain.Key, *domain.Record](),
	}
}

// Get returns a copy of the record stored under key.
func (r *MemoryRepository) Get(_ context.Context, key domain.Key) (*domain.Record, error) {
	record, ok := r.records.Load(key)
	if !ok {
		return nil, ErrNotFound
	}

	return record.Clone(), nil
}

// List returns copies of all records ordered by core_id, then running_id.
func (r *MemoryRepository) List(_ context.Context) ([]*domain.Record, error) {
	result := make([]*domain.Record, 0, r.records.Size())

	r.records.Range(func(_ domain.Key, record *domain.Record) bool {
		result = append(result, record.Clone())

		return true
	})

	sortRecords(result)

	return result, nil
}

// Upsert stores record unless a newer one is already stored.
func (r *MemoryRepository) Upsert(ctx context.Context, record *domain.Record) (Outcome, error) {
	if err := record.Validate(); err != nil {
		return OutcomeIgnored, fmt.Errorf("upsert: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, _ := r.records.Load(record.Key())

	outcome := decide(record, previous)
	if outcome != OutcomeIgnored {
		r.records.Store(record.Key(), record.Clone())
	}

	r.upserted(ctx, outcome, record, previous)

	return outcome, nil
}

// Delete removes the record stored under key and returns it.
func (r *MemoryRepository) Delete(ctx context.Context, key domain.Key) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records.LoadAndDelete(key)
	if !ok {
		return nil, ErrNotFound
	}

	r.deleted(ctx, record)

	return record.Clone(), nil
}

// Close is a no-op.
func (r *MemoryRepository) Close() error {
	return nil
}

func sortRecords(records []*domain.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CoreID != records[j].CoreID {
			return records[i].CoreID < records[j].CoreID
		}

		return records[i].RunningID < records[j].RunningID
	})
}
