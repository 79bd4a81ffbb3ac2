package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/ingest"
	repository "github.com/oshokin/alarm-stream/internal/repository/alarms"
)

var errBrokerDown = errors.New("broker down")

// fakeReader replays queued messages and then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	fetchErr  error
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()

	if r.fetchErr != nil {
		r.mu.Unlock()

		return kafka.Message{}, r.fetchErr
	}

	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()

		return msg, nil
	}

	r.mu.Unlock()
	<-ctx.Done()

	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}

	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]int64(nil), r.committed...)
}

// TestConsumer_AppliesAndCommits checks valid records are stored and every message is committed.
func TestConsumer_AppliesAndCommits(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepository()
	r := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte(`{"core_id":"AL1","running_id":"R1","core_timestamp":1,"value":1,"mode":"operational"}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"core_id":"AL2","running_id":"R1","core_timestamp":1,"value":0,"mode":"3"}`)},
	}}

	consumer := newConsumer(r, ingest.New(repo, nil))

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		go func() {
			done <- consumer.Run(ctx)
		}()

		synctest.Wait()
		require.Equal(t, []int64{1, 2, 3}, r.committedOffsets())

		cancel()
		require.NoError(t, <-done)
	})

	records, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, domain.ModeShuttedDown, records[1].Mode)

	require.NoError(t, consumer.Close())
	require.True(t, r.closed)
}

// TestConsumer_FetchError stops on broker failures.
func TestConsumer_FetchError(t *testing.T) {
	t.Parallel()

	consumer := newConsumer(&fakeReader{fetchErr: errBrokerDown}, ingest.New(repository.NewMemoryRepository(), nil))

	err := consumer.Run(context.Background())
	require.ErrorIs(t, err, errBrokerDown)
}

// TestNewConsumer_RequiresBrokers rejects an empty broker list.
func TestNewConsumer_RequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewConsumer(Config{Topic: "alarms"}, nil)
	require.ErrorIs(t, err, errNoBrokers)
}
