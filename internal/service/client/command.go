package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "github.com/oshokin/alarm-stream/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-stream/internal/logger"
)

// Options configures the watch command.
type Options struct {
	// ServerAddress is the host:port of the alarm-stream server.
	ServerAddress string

	// Groups to subscribe to. Empty means the server's global group.
	Groups []string

	// Output receives one JSON document per payload.
	Output io.Writer

	// RetryInterval is the delay between reconnect attempts.
	RetryInterval time.Duration
}

// defaultRetryInterval defines the reconnect delay when none is configured.
const defaultRetryInterval = 1 * time.Second

// errPermanent wraps stream failures that a reconnect cannot fix.
var errPermanent = errors.New("subscription rejected")

// Run subscribes and prints payloads, reconnecting after transient failures.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-stream-watch")

	client, err := grpcapi.Dial(opts.ServerAddress)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	interval := opts.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	logger.InfoKV(ctx, "Watching alarm groups", "server_address", opts.ServerAddress, "groups", opts.Groups)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err = watch(ctx, client, opts)

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errPermanent):
			return err
		case err != nil:
			logger.WarnKV(ctx, "Subscription interrupted, reconnecting", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// watch runs one subscription until the stream ends.
func watch(ctx context.Context, client *grpcapi.Client, opts *Options) error {
	stream, err := client.Subscribe(ctx, opts.Groups...)
	if err != nil {
		return err
	}

	for {
		payload, err := stream.Recv()
		if err != nil {
			if status.Code(err) == codes.InvalidArgument {
				return fmt.Errorf("%w: %w", errPermanent, err)
			}

			return err
		}

		line, err := formatPayload(payload)
		if err != nil {
			logger.WarnKV(ctx, "Skipping unprintable payload", "error", err)

			continue
		}

		if _, err = fmt.Fprintln(opts.Output, line); err != nil {
			return fmt.Errorf("%w: write payload: %w", errPermanent, err)
		}
	}
}

// formatPayload renders a payload as compact JSON.
func formatPayload(payload *structpb.Struct) (string, error) {
	data, err := protojson.MarshalOptions{}.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	return string(data), nil
}
