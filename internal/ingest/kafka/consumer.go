package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/oshokin/alarm-stream/internal/ingest"
	"github.com/oshokin/alarm-stream/internal/logger"
)

// Config holds the consumer settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// errNoBrokers is returned when no broker address is configured.
var errNoBrokers = errors.New("kafka consumer requires at least one broker address")

// reader is the subset of *kafka.Reader used by the consumer.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads records from Kafka until its context is cancelled.
type Consumer struct {
	reader   reader
	ingester *ingest.Ingester
}

// NewConsumer creates a consumer-group reader for cfg.
func NewConsumer(cfg Config, ingester *ingest.Ingester) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})

	return newConsumer(r, ingester), nil
}

func newConsumer(r reader, ingester *ingest.Ingester) *Consumer {
	return &Consumer{reader: r, ingester: ingester}
}

// Run fetches, applies and commits messages. It returns nil once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "kafka")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("fetch message: %w", err)
		}

		c.handle(ctx, msg)

		if err = c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// handle applies one message. Failures are logged and the message is skipped.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	record, outcome, err := c.ingester.ApplyJSON(ctx, ingest.SourceKafka, msg.Value)
	if err != nil {
		logger.WarnKV(ctx, "Skipping alarm record",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)

		return
	}

	logger.DebugKV(ctx, "Alarm record consumed",
		"key", record.Key().String(),
		"outcome", outcome.String(),
		"offset", msg.Offset,
	)
}

// Close closes the reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}

	return nil
}
