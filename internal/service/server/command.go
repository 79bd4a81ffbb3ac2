package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"

	"github.com/oshokin/alarm-stream/internal/config"
	"github.com/oshokin/alarm-stream/internal/logger"
	"github.com/oshokin/alarm-stream/internal/version"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Options controls the alarm-stream server process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	// When empty and the default file is missing, built-in defaults are used.
	ConfigPath string
	// ListenAddress overrides the configured listen address.
	ListenAddress string
	// LogLevel overrides the configured log level.
	LogLevel string
	// Listening, when set, receives the bound address once the server accepts connections.
	Listening chan<- net.Addr
}

// ErrUnknownLogLevel indicates a log level that cannot be parsed.
var ErrUnknownLogLevel = errors.New("unknown log level")

// Run starts the gRPC and HTTP transports on one listener and blocks until
// the context is canceled or a transport fails.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-stream")

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	level, ok := logger.ParseLogLevel(settings.LogLevel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLogLevel, settings.LogLevel)
	}

	if err = logger.Configure(settings.LogFormat); err != nil {
		return err
	}

	logger.SetLevel(level)

	svc, err := newService(ctx, settings)
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	defer svc.close(ctx)

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", settings.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.ListenAddress, err)
	}

	// HTTP/1 requests go to the HTTP server, everything else is gRPC.
	mux := cmux.New(lis)
	httpListener := mux.Match(cmux.HTTP1Fast())
	grpcListener := mux.Match(cmux.Any())

	grpcServer := svc.grpcServer()
	httpServer := &http.Server{
		Handler:           svc.httpHandler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 4)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil && !isClosed(err) {
			errs <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !isClosed(err) {
			errs <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	go func() {
		if err := mux.Serve(); err != nil && !isClosed(err) {
			errs <- fmt.Errorf("serve listener: %w", err)
		}
	}()

	refreshCtx, stopRefresh := context.WithCancel(logger.WithName(ctx, "refresh"))
	refreshDone := make(chan struct{})

	go func() {
		defer close(refreshDone)

		if settings.Broadcast.Enabled() {
			svc.adapter.RunRefresh(refreshCtx, settings.Broadcast.Interval)
		}
	}()

	if svc.consumer != nil {
		go func() {
			if err := svc.consumer.Run(ctx); err != nil {
				errs <- fmt.Errorf("consume Kafka: %w", err)
			}
		}()
	}

	logger.InfoKV(ctx, "Alarm stream server listening", append(version.Fields(),
		"listen_address", lis.Addr().String(),
		"store", settings.Store.Driver,
		"global_group", settings.Routing.GlobalGroup,
	)...)

	if opts.Listening != nil {
		opts.Listening <- lis.Addr()
	}

	select {
	case <-ctx.Done():
	case err = <-errs:
		logger.ErrorKV(ctx, "Transport failed, shutting down", "error", err)
	}

	stopRefresh()
	<-refreshDone

	stop(ctx, svc, grpcServer, httpServer, mux)
	logger.Info(ctx, "Alarm stream server stopped")

	return err
}

// stop ends every stream, then drains both transports.
func stop(ctx context.Context, svc *service, grpcServer *grpc.Server, httpServer *http.Server, mux cmux.CMux) {
	logger.Info(ctx, "Shutting down transports")

	svc.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WarnKV(ctx, "HTTP shutdown incomplete", "error", err)
	}

	grpcServer.GracefulStop()
	mux.Close()
}

// isClosed reports errors returned by listeners and servers after shutdown.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, grpc.ErrServerStopped) ||
		errors.Is(err, cmux.ErrListenerClosed) ||
		errors.Is(err, cmux.ErrServerClosed)
}

// loadSettings reads the configuration and applies command-line overrides.
func loadSettings(opts *Options) (*config.Config, error) {
	var (
		settings *config.Config
		err      error
	)

	switch {
	case opts.ConfigPath != "":
		settings, err = config.Load(opts.ConfigPath)
	case fileExists(config.DefaultConfigFilename):
		settings, err = config.Load(config.DefaultConfigFilename)
	default:
		settings = config.Default()
	}

	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.ListenAddress != "" {
		settings.ListenAddress = opts.ListenAddress
	}

	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}

	if err = config.Validate(settings); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return settings, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
