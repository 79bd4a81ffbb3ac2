package alarms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/logger"
)

// recordPrefix namespaces alarm records inside the database.
const recordPrefix = "alarm/"

// keySeparator splits core_id and running_id; neither may contain it.
const keySeparator = "\x00"

// errSeparatorInKey is returned for identities containing the key separator.
var errSeparatorInKey = errors.New("identity contains a NUL byte")

// PebbleRepository persists records in a Pebble database.
type PebbleRepository struct {
	hooks

	// db is the underlying key-value store.
	db *pebble.DB
	// mu serialises read-modify-write cycles and orders notifications.
	mu sync.Mutex
}

// OpenPebbleRepository opens (or creates) a database at path.
func OpenPebbleRepository(ctx context.Context, path string) (*PebbleRepository, error) {
	opts := &pebble.Options{
		Logger: logger.FromContext(ctx).Named("pebble"),
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}

	return &PebbleRepository{db: db}, nil
}

// Get returns the record stored under key.
func (r *PebbleRepository) Get(_ context.Context, key domain.Key) (*domain.Record, error) {
	return r.get(key)
}

// List returns all records ordered by core_id, then running_id.
func (r *PebbleRepository) List(_ context.Context) ([]*domain.Record, error) {
	prefix := []byte(recordPrefix)

	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}

	defer func() {
		_ = iter.Close()
	}()

	var result []*domain.Record

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", iter.Key(), err)
		}

		record, err := decodeRecord(value)
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", iter.Key(), err)
		}

		result = append(result, record)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return result, nil
}

// Upsert stores record unless a newer one is already stored.
func (r *PebbleRepository) Upsert(ctx context.Context, record *domain.Record) (Outcome, error) {
	if err := record.Validate(); err != nil {
		return OutcomeIgnored, fmt.Errorf("upsert: %w", err)
	}

	dbKey, err := encodeKey(record.Key())
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("upsert: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, err := r.get(record.Key())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return OutcomeIgnored, err
	}

	outcome := decide(record, previous)
	if outcome == OutcomeIgnored {
		return outcome, nil
	}

	data, err := msgpack.Marshal(record)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("encode record: %w", err)
	}

	if err = r.db.Set(dbKey, data, pebble.Sync); err != nil {
		return OutcomeIgnored, fmt.Errorf("write record: %w", err)
	}

	r.upserted(ctx, outcome, record, previous)

	return outcome, nil
}

// Delete removes the record stored under key and returns it.
func (r *PebbleRepository) Delete(ctx context.Context, key domain.Key) (*domain.Record, error) {
	dbKey, err := encodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.get(key)
	if err != nil {
		return nil, err
	}

	if err = r.db.Delete(dbKey, pebble.Sync); err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}

	r.deleted(ctx, record)

	return record, nil
}

// Close flushes and closes the database.
func (r *PebbleRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close pebble db: %w", err)
	}

	return nil
}

func (r *PebbleRepository) get(key domain.Key) (*domain.Record, error) {
	dbKey, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	value, closer, err := r.db.Get(dbKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read record: %w", err)
	}

	defer func() {
		_ = closer.Close()
	}()

	return decodeRecord(value)
}

func encodeKey(key domain.Key) ([]byte, error) {
	if strings.Contains(key.CoreID, keySeparator) || strings.Contains(key.RunningID, keySeparator) {
		return nil, errSeparatorInKey
	}

	return []byte(recordPrefix + key.CoreID + keySeparator + key.RunningID), nil
}

// decodeRecord copies out of value, which Pebble may reuse after the call.
func decodeRecord(value []byte) (*domain.Record, error) {
	record := new(domain.Record)
	if err := msgpack.Unmarshal(value, record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	return record, nil
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}
