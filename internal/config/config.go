package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-stream/internal/logger"
	"github.com/oshokin/alarm-stream/internal/routing"
)

// Config holds the settings of the alarm-stream server.
type Config struct {
	// ListenAddress is the TCP address shared by the gRPC and HTTP transports.
	ListenAddress string `yaml:"listen_addr"`
	// LogLevel is the global log level.
	LogLevel string `yaml:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevels overrides the level of individual named components.
	LogLevels map[string]string `yaml:"log_levels,omitempty"`
	// AllowedOrigins enables CORS on the HTTP transport for the listed origins.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	// Store selects and configures the record store.
	Store StoreConfig `yaml:"store"`
	// Routing configures group resolution.
	Routing RoutingConfig `yaml:"routing"`
	// Dispatch configures the demultiplexer.
	Dispatch DispatchConfig `yaml:"dispatch"`
	// Subscriber configures outbound sessions.
	Subscriber SubscriberConfig `yaml:"subscriber"`
	// Broadcast configures the periodic resend of current state.
	Broadcast BroadcastConfig `yaml:"broadcast"`
	// Kafka enables record ingestion from a topic when brokers are set.
	Kafka KafkaConfig `yaml:"kafka,omitempty"`
	// NATS enables mirroring of dispatched payloads when url is set.
	NATS NATSConfig `yaml:"nats,omitempty"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
}

// RoutingConfig configures group resolution.
type RoutingConfig struct {
	GlobalGroup    string         `yaml:"global_group"`
	IdentityPrefix string         `yaml:"identity_prefix,omitempty"`
	Rules          []routing.Rule `yaml:"rules,omitempty"`
	CacheSize      int            `yaml:"cache_size"`
}

// DispatchConfig configures the demultiplexer.
type DispatchConfig struct {
	Shards int `yaml:"shards"`
}

// SubscriberConfig configures outbound sessions.
type SubscriberConfig struct {
	Buffer    int           `yaml:"buffer"`
	Keepalive time.Duration `yaml:"keepalive"`
}

// BroadcastConfig configures the periodic refresh of every subscriber.
type BroadcastConfig struct {
	Interval time.Duration `yaml:"interval"`
	Disabled bool          `yaml:"disabled,omitempty"`
}

// Enabled reports whether subscribers are refreshed periodically.
func (b BroadcastConfig) Enabled() bool {
	return !b.Disabled
}

// KafkaConfig configures the Kafka consumer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
	GroupID string   `yaml:"group_id,omitempty"`
}

// Enabled reports whether Kafka ingestion is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// NATSConfig configures the NATS mirror.
type NATSConfig struct {
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// Enabled reports whether the NATS mirror is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

const (
	// DefaultConfigFilename is the default filename for server settings.
	DefaultConfigFilename = "alarm-stream.yaml"

	// DefaultListenAddress is used when no address is configured.
	DefaultListenAddress = ":8080"

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DriverMemory keeps records in memory.
	DriverMemory = "memory"
	// DriverPebble keeps records in a Pebble database.
	DriverPebble = "pebble"

	// DefaultStorePath is the Pebble directory used when none is configured.
	DefaultStorePath = "alarm-stream-data"

	// DefaultShards is the default number of per-key serialization points.
	DefaultShards = 256

	// DefaultCacheSize is the default routing cache capacity.
	DefaultCacheSize = routing.DefaultCacheSize

	// DefaultBuffer is the default outbound queue length per subscriber.
	DefaultBuffer = 64

	// DefaultKeepalive is the default interval of stream keepalives.
	DefaultKeepalive = 15 * time.Second
	// DefaultBroadcastInterval is the default period of full-state refreshes.
	DefaultBroadcastInterval = 10 * time.Second

	// DefaultKafkaTopic is the topic read when none is configured.
	DefaultKafkaTopic = "alarms.core"
	// DefaultKafkaGroupID is the consumer group used when none is configured.
	DefaultKafkaGroupID = "alarm-stream"

	// DefaultSubjectPrefix is the NATS subject prefix used when none is configured.
	DefaultSubjectPrefix = "alarms"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownDriver is returned for unsupported store drivers.
	errUnknownDriver = errors.New("unknown store driver")
	// errNegative is returned for negative sizes.
	errNegative = errors.New("value must not be negative")
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg) //nolint:errcheck // Defaults always validate.

	return cfg
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks cfg and fills in defaults for unset fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = logger.FormatConsole
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("%w: %q", logger.ErrUnknownFormat, cfg.LogFormat)
	}

	if err := validateStore(&cfg.Store); err != nil {
		return err
	}

	if err := validateRouting(&cfg.Routing); err != nil {
		return err
	}

	if cfg.Dispatch.Shards < 0 || cfg.Subscriber.Buffer < 0 {
		return fmt.Errorf("dispatch shards and subscriber buffer: %w", errNegative)
	}

	if cfg.Dispatch.Shards == 0 {
		cfg.Dispatch.Shards = DefaultShards
	}

	if cfg.Subscriber.Buffer == 0 {
		cfg.Subscriber.Buffer = DefaultBuffer
	}

	if cfg.Subscriber.Keepalive <= 0 {
		cfg.Subscriber.Keepalive = DefaultKeepalive
	}

	if cfg.Broadcast.Interval < 0 {
		return fmt.Errorf("broadcast interval: %w", errNegative)
	}

	if cfg.Broadcast.Interval == 0 {
		cfg.Broadcast.Interval = DefaultBroadcastInterval
	}

	if cfg.Kafka.Enabled() {
		if cfg.Kafka.Topic == "" {
			cfg.Kafka.Topic = DefaultKafkaTopic
		}

		if cfg.Kafka.GroupID == "" {
			cfg.Kafka.GroupID = DefaultKafkaGroupID
		}
	}

	if cfg.NATS.Enabled() {
		if _, err := url.ParseRequestURI(cfg.NATS.URL); err != nil {
			return fmt.Errorf("invalid NATS URL: %w", err)
		}

		if cfg.NATS.SubjectPrefix == "" {
			cfg.NATS.SubjectPrefix = DefaultSubjectPrefix
		}
	}

	return nil
}

func validateStore(store *StoreConfig) error {
	switch store.Driver {
	case "":
		store.Driver = DriverMemory
	case DriverMemory:
	case DriverPebble:
		if store.Path == "" {
			store.Path = DefaultStorePath
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownDriver, store.Driver)
	}

	return nil
}

func validateRouting(r *RoutingConfig) error {
	if r.GlobalGroup == "" {
		r.GlobalGroup = routing.DefaultGlobalGroup
	}

	if r.CacheSize < 0 {
		return fmt.Errorf("routing cache size: %w", errNegative)
	}

	if r.CacheSize == 0 {
		r.CacheSize = DefaultCacheSize
	}

	// Rules are compiled here only to reject bad patterns.
	if _, err := routing.NewRuleResolver(r.Rules); err != nil {
		return fmt.Errorf("invalid routing rules: %w", err)
	}

	return nil
}
