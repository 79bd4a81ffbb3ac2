package alarm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Client calls the AlarmStream service without generated stubs.
type Client struct {
	// conn is the underlying gRPC connection.
	conn grpc.ClientConnInterface
	// closer releases conn when the client owns it.
	closer func() error
}

// Dial creates a client connection to the alarm stream server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy.
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial alarm stream server: %w", err)
	}

	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection. Close leaves conn open.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close releases the connection created by Dial.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}

	return c.closer()
}

// Subscribe opens a stream of payloads for groups.
// No groups means the server's global group.
func (c *Client) Subscribe(ctx context.Context, groups ...string) (grpc.ServerStreamingClient[structpb.Struct], error) {
	names := make([]any, 0, len(groups))
	for _, group := range groups {
		names = append(names, group)
	}

	req, err := structpb.NewStruct(map[string]any{groupsField: names})
	if err != nil {
		return nil, fmt.Errorf("build subscribe request: %w", err)
	}

	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, fmt.Errorf("open subscribe stream: %w", err)
	}

	client := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}

	if err = client.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}

	if err = client.CloseSend(); err != nil {
		return nil, fmt.Errorf("close subscribe request: %w", err)
	}

	return client, nil
}

// List returns the current records.
func (c *Client) List(ctx context.Context) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)

	if err := c.conn.Invoke(ctx, listMethod, new(emptypb.Empty), out); err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}

	return out, nil
}
