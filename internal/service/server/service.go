package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc"

	grpcapi "github.com/oshokin/alarm-stream/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-stream/internal/api/httpapi"
	"github.com/oshokin/alarm-stream/internal/binding"
	"github.com/oshokin/alarm-stream/internal/config"
	"github.com/oshokin/alarm-stream/internal/demux"
	"github.com/oshokin/alarm-stream/internal/ingest"
	"github.com/oshokin/alarm-stream/internal/ingest/kafka"
	"github.com/oshokin/alarm-stream/internal/logger"
	"github.com/oshokin/alarm-stream/internal/metrics"
	"github.com/oshokin/alarm-stream/internal/registry"
	repository "github.com/oshokin/alarm-stream/internal/repository/alarms"
	"github.com/oshokin/alarm-stream/internal/routing"
	"github.com/oshokin/alarm-stream/internal/session"
	sinknats "github.com/oshokin/alarm-stream/internal/sink/nats"
)

// errUnknownDriver is returned for store drivers Validate did not reject.
var errUnknownDriver = errors.New("unknown store driver")

// service owns every component of one alarm-stream process.
// It is unexported to keep the transports decoupled from the wiring.
type service struct {
	// cfg is the validated configuration.
	cfg *config.Config
	// metrics collects process statistics.
	metrics *metrics.Metrics
	// repo is the record store observed by the adapter.
	repo repository.Repository
	// resolver maps records to groups.
	resolver *routing.CachedResolver
	// registry tracks group membership.
	registry *registry.Registry
	// sessions holds the outbound queues of subscribers.
	sessions *session.Manager
	// demux dispatches change events.
	demux *demux.Demultiplexer
	// adapter binds the store and transports to the demultiplexer.
	adapter *binding.Adapter
	// ingester applies producer mutations.
	ingester *ingest.Ingester
	// mirror is set when NATS mirroring is enabled.
	mirror *sinknats.Mirror
	// consumer is set when Kafka ingestion is enabled.
	consumer *kafka.Consumer
}

// newService builds the component graph for cfg.
func newService(ctx context.Context, cfg *config.Config) (*service, error) {
	repo, err := openRepository(componentContext(ctx, cfg, "pebble"), cfg.Store)
	if err != nil {
		return nil, err
	}

	s := &service{
		cfg:      cfg,
		metrics:  metrics.New(),
		repo:     repo,
		registry: registry.New(),
		sessions: session.NewManager(cfg.Subscriber.Buffer),
	}

	if err = s.init(ctx); err != nil {
		s.close(ctx)

		return nil, err
	}

	return s, nil
}

func (s *service) init(ctx context.Context) error {
	rules, err := routing.NewRuleResolver(s.cfg.Routing.Rules,
		routing.WithGlobalGroup(s.cfg.Routing.GlobalGroup),
		routing.WithIdentityPrefix(s.cfg.Routing.IdentityPrefix),
	)
	if err != nil {
		return fmt.Errorf("compile routing rules: %w", err)
	}

	s.resolver, err = routing.NewCachedResolver(rules, s.cfg.Routing.CacheSize)
	if err != nil {
		return fmt.Errorf("create routing cache: %w", err)
	}

	opts := []demux.Option{
		demux.WithShards(s.cfg.Dispatch.Shards),
		demux.WithFallbackGroup(s.cfg.Routing.GlobalGroup),
		demux.WithFailureHandler(binding.LogDeliveryFailure),
		demux.WithRecorder(s.metrics),
	}

	if s.cfg.NATS.Enabled() {
		s.mirror, err = sinknats.Connect(s.cfg.NATS.URL, s.cfg.NATS.SubjectPrefix, s.metrics)
		if err != nil {
			return fmt.Errorf("start NATS mirror: %w", err)
		}

		opts = append(opts, demux.WithMirror(s.mirror))

		logger.InfoKV(ctx, "Mirroring alarm payloads to NATS", "subject_prefix", s.cfg.NATS.SubjectPrefix)
	}

	s.demux = demux.New(s.resolver, s.registry, s.sessions, opts...)
	s.adapter = binding.New(s.demux, s.registry, s.resolver, s.repo, s.sessions)
	s.repo.SetObserver(s.adapter)
	s.ingester = ingest.New(s.repo, s.metrics)

	if s.cfg.Kafka.Enabled() {
		s.consumer, err = kafka.NewConsumer(kafka.Config{
			Brokers: s.cfg.Kafka.Brokers,
			Topic:   s.cfg.Kafka.Topic,
			GroupID: s.cfg.Kafka.GroupID,
		}, s.ingester)
		if err != nil {
			return fmt.Errorf("start Kafka consumer: %w", err)
		}
	}

	s.registerGauges()

	return nil
}

func (s *service) registerGauges() {
	s.metrics.RegisterGauge("groups", "Groups with at least one member.", func() float64 {
		return float64(s.registry.GroupCount())
	})
	s.metrics.RegisterGauge("subscribers", "Open subscriber sessions.", func() float64 {
		return float64(s.sessions.Count())
	})
	s.metrics.RegisterGauge("routing_cache_entries", "Entries in the routing cache.", func() float64 {
		return float64(s.resolver.Len())
	})
}

// httpHandler returns the HTTP side of the shared listener.
func (s *service) httpHandler(ctx context.Context) http.Handler {
	return httpapi.NewHandler(componentContext(ctx, s.cfg, "http"), httpapi.Options{
		Subscriptions:  s.adapter,
		Sessions:       s.sessions,
		Ingester:       s.ingester,
		Metrics:        s.metrics.Handler(),
		DefaultGroup:   s.cfg.Routing.GlobalGroup,
		Keepalive:      s.cfg.Subscriber.Keepalive,
		AllowedOrigins: s.cfg.AllowedOrigins,
	})
}

// grpcServer returns the gRPC side of the shared listener.
func (s *service) grpcServer() *grpc.Server {
	srv := grpc.NewServer()
	grpcapi.RegisterAlarmStreamServer(srv, grpcapi.NewServer(s.adapter, s.sessions, s.cfg.Routing.GlobalGroup))

	return srv
}

// close releases every component. Sessions are closed first so streaming
// handlers return before the store goes away.
func (s *service) close(ctx context.Context) {
	s.sessions.CloseAll()

	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close Kafka consumer", "error", err)
		}
	}

	if s.mirror != nil {
		s.mirror.Close()
	}

	if err := s.repo.Close(); err != nil {
		logger.WarnKV(ctx, "Failed to close record store", "error", err)
	}
}

func openRepository(ctx context.Context, store config.StoreConfig) (repository.Repository, error) {
	switch store.Driver {
	case config.DriverMemory:
		return repository.NewMemoryRepository(), nil
	case config.DriverPebble:
		repo, err := repository.OpenPebbleRepository(ctx, store.Path)
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}

		return repo, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, store.Driver)
	}
}

// componentContext applies the log_levels entry of a component, if any.
func componentContext(ctx context.Context, cfg *config.Config, name string) context.Context {
	raw, ok := cfg.LogLevels[name]
	if !ok {
		return ctx
	}

	level, ok := logger.ParseLogLevel(raw)
	if !ok {
		logger.WarnKV(ctx, "Ignoring unknown log level", "component", name, "level", raw)

		return ctx
	}

	return logger.WithLevelOverride(ctx, level)
}
