package alarm

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-stream/internal/binding"
	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/logger"
	"github.com/oshokin/alarm-stream/internal/registry"
	"github.com/oshokin/alarm-stream/internal/session"
)

// groupsField is the request field listing the groups to follow.
const groupsField = "groups"

// Subscriptions abstracts the binding operations the transport depends on.
type Subscriptions interface {
	Subscribe(ctx context.Context, handle registry.Handle, groups ...string) (int, error)
	Disconnect(ctx context.Context, handle registry.Handle)
	Snapshot(ctx context.Context) ([]*domain.Record, error)
}

// Sessions opens outbound sessions.
type Sessions interface {
	Open() *session.Session
}

// Server implements the AlarmStream gRPC API.
type Server struct {
	// subscriptions joins streams to groups and lists records.
	subscriptions Subscriptions
	// sessions provides the outbound queue of each stream.
	sessions Sessions
	// defaultGroup is followed by requests that name no group.
	defaultGroup string
}

// Compile-time check that Server implements the service.
var _ AlarmStreamServer = (*Server)(nil)

// NewServer wires the binding into a gRPC handler.
func NewServer(subscriptions Subscriptions, sessions Sessions, defaultGroup string) *Server {
	return &Server{
		subscriptions: subscriptions,
		sessions:      sessions,
		defaultGroup:  defaultGroup,
	}
}

// Subscribe streams the catch-up snapshot and then live payloads until the
// client cancels or its session is closed.
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	groups, err := requestGroups(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	if len(groups) == 0 {
		groups = []string{s.defaultGroup}
	}

	sess := s.sessions.Open()
	ctx := logger.WithKV(logger.WithName(stream.Context(), "grpc"), "handle", sess.Handle())

	subscribed := make(chan error, 1)

	go func() {
		_, err := s.subscriptions.Subscribe(ctx, sess.Handle(), groups...)
		subscribed <- err
	}()

	defer func() {
		if subscribed != nil {
			<-subscribed
		}

		s.subscriptions.Disconnect(context.WithoutCancel(ctx), sess.Handle())
	}()

	for {
		select {
		case err := <-subscribed:
			subscribed = nil

			if err != nil {
				logger.WarnKV(ctx, "Subscribe failed", "groups", groups, "error", err)

				return subscribeStatus(err)
			}
		case msg, ok := <-sess.Messages():
			if !ok {
				return errSessionClosed
			}

			out := new(structpb.Struct)
			if err := protojson.Unmarshal(msg.Data, out); err != nil {
				return status.Error(codes.Internal, "unable to encode payload")
			}

			if err := stream.Send(out); err != nil {
				return err
			}
		case <-sess.Done():
			return errSessionClosed
		case <-ctx.Done():
			return nil
		}
	}
}

// List returns the current records.
func (s *Server) List(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	records, err := s.subscriptions.Snapshot(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to list alarms", "error", err)

		return nil, status.Error(codes.Internal, "unable to list alarms")
	}

	result := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(records))}

	for _, record := range records {
		value, err := toValue(record)
		if err != nil {
			return nil, status.Error(codes.Internal, "unable to encode record")
		}

		result.Values = append(result.Values, value)
	}

	return result, nil
}

// errBadGroups is returned when the groups field is not a list of strings.
var errBadGroups = errors.New("groups must be a list of strings")

// errSessionClosed ends a stream whose session was closed by the server.
var errSessionClosed = status.Error(codes.Unavailable, "session closed")

func requestGroups(req *structpb.Struct) ([]string, error) {
	value, ok := req.GetFields()[groupsField]
	if !ok {
		return nil, nil
	}

	list := value.GetListValue()
	if list == nil {
		return nil, errBadGroups
	}

	groups := make([]string, 0, len(list.GetValues()))

	for _, item := range list.GetValues() {
		name, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errBadGroups
		}

		groups = append(groups, name.StringValue)
	}

	return groups, nil
}

func subscribeStatus(err error) error {
	var registryErr *registry.Error

	switch {
	case errors.Is(err, binding.ErrNoGroups), errors.As(err, &registryErr):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, "unable to subscribe")
	}
}

// toValue converts a record to a Struct value through its JSON form.
func toValue(record *domain.Record) (*structpb.Value, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err = protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}

	return structpb.NewStructValue(out), nil
}
