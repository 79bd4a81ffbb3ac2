package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	repository "github.com/oshokin/alarm-stream/internal/repository/alarms"
)

// Sources used as metric labels.
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// Outcome labels besides the repository outcomes.
const (
	OutcomeInvalid = "invalid"
	OutcomeDeleted = "deleted"
	OutcomeMissing = "missing"
	OutcomeFailed  = "failed"
)

// Store is the write side of the record store.
type Store interface {
	Upsert(ctx context.Context, record *domain.Record) (repository.Outcome, error)
	Delete(ctx context.Context, key domain.Key) (*domain.Record, error)
}

// Recorder counts ingested mutations.
type Recorder interface {
	Ingested(source, outcome string)
}

// Ingester applies producer mutations to a store.
type Ingester struct {
	store    Store
	recorder Recorder
}

// New creates an ingester. A nil recorder disables counting.
func New(store Store, recorder Recorder) *Ingester {
	if recorder == nil {
		recorder = noopRecorder{}
	}

	return &Ingester{store: store, recorder: recorder}
}

// Decode parses a record from JSON and validates it.
func Decode(data []byte) (*domain.Record, error) {
	record := new(domain.Record)
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Apply upserts record and counts the outcome under source.
func (i *Ingester) Apply(ctx context.Context, source string, record *domain.Record) (repository.Outcome, error) {
	outcome, err := i.store.Upsert(ctx, record)
	if err != nil {
		i.recorder.Ingested(source, OutcomeFailed)

		return outcome, fmt.Errorf("apply %s: %w", record.Key(), err)
	}

	i.recorder.Ingested(source, outcome.String())

	return outcome, nil
}

// ApplyJSON decodes data and applies the record.
func (i *Ingester) ApplyJSON(ctx context.Context, source string, data []byte) (*domain.Record, repository.Outcome, error) {
	record, err := Decode(data)
	if err != nil {
		i.recorder.Ingested(source, OutcomeInvalid)

		return nil, repository.OutcomeIgnored, err
	}

	outcome, err := i.Apply(ctx, source, record)

	return record, outcome, err
}

// Remove deletes the record stored under key.
func (i *Ingester) Remove(ctx context.Context, source string, key domain.Key) (*domain.Record, error) {
	record, err := i.store.Delete(ctx, key)

	switch {
	case err == nil:
		i.recorder.Ingested(source, OutcomeDeleted)

		return record, nil
	case errors.Is(err, repository.ErrNotFound):
		i.recorder.Ingested(source, OutcomeMissing)
	default:
		i.recorder.Ingested(source, OutcomeFailed)
	}

	return nil, fmt.Errorf("remove %s: %w", key, err)
}

type noopRecorder struct{}

func (noopRecorder) Ingested(string, string) {}
