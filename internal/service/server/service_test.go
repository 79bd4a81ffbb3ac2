package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	grpcapi "github.com/oshokin/alarm-stream/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-stream/internal/config"
	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/routing"
)

// TestLoadSettings_Overrides checks file values, defaults and command-line overrides.
func TestLoadSettings_Overrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, config.Save(path, &config.Config{ListenAddress: "127.0.0.1:9000", LogLevel: "warn"}))

	settings, err := loadSettings(&Options{ConfigPath: path, LogLevel: "debug"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", settings.ListenAddress)
	require.Equal(t, "debug", settings.LogLevel)

	settings, err = loadSettings(&Options{ConfigPath: path, ListenAddress: "127.0.0.1:0"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:0", settings.ListenAddress)
	require.Equal(t, "warn", settings.LogLevel)

	_, err = loadSettings(&Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

// TestNewService_Drivers builds the component graph for both stores.
func TestNewService_Drivers(t *testing.T) {
	t.Parallel()

	for _, store := range []config.StoreConfig{
		{Driver: config.DriverMemory},
		{Driver: config.DriverPebble, Path: filepath.Join(t.TempDir(), "data")},
	} {
		t.Run(store.Driver, func(t *testing.T) {
			cfg := &config.Config{Store: store}
			require.NoError(t, config.Validate(cfg))

			svc, err := newService(context.Background(), cfg)
			require.NoError(t, err)

			defer svc.close(context.Background())

			require.Nil(t, svc.consumer)
			require.Nil(t, svc.mirror)

			_, err = svc.repo.Upsert(context.Background(), &domain.Record{CoreID: "AL1", RunningID: "R1"})
			require.NoError(t, err)
			require.Equal(t, uint64(1), svc.demux.Stats().Published)
		})
	}
}

// TestNewService_UnknownDriver rejects stores Validate was bypassed for.
func TestNewService_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := newService(context.Background(), &config.Config{Store: config.StoreConfig{Driver: "sqlite"}})
	require.ErrorIs(t, err, errUnknownDriver)
}

// TestService_HTTPHandler serves metrics including the registry gauges.
func TestService_HTTPHandler(t *testing.T) {
	t.Parallel()

	svc, err := newService(context.Background(), config.Default())
	require.NoError(t, err)

	defer svc.close(context.Background())

	recorder := httptest.NewRecorder()
	svc.httpHandler(context.Background()).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "alarm_stream_subscribers 0")
	require.Contains(t, recorder.Body.String(), "alarm_stream_groups 0")
}

// TestComponentContext ignores unknown levels.
func TestComponentContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := &config.Config{LogLevels: map[string]string{"http": "debug", "pebble": "loud"}}

	require.NotEqual(t, ctx, componentContext(ctx, cfg, "http"))
	require.Equal(t, ctx, componentContext(ctx, cfg, "pebble"))
	require.Equal(t, ctx, componentContext(ctx, cfg, "kafka"))
}

// TestRun_SharedListener serves HTTP and gRPC on one port and stops on cancel.
func TestRun_SharedListener(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, config.Save(path, &config.Config{ListenAddress: "127.0.0.1:0"}))

	listening := make(chan net.Addr, 1)
	done := make(chan error, 1)

	go func() {
		done <- Run(ctx, &Options{ConfigPath: path, Listening: listening})
	}()

	var addr net.Addr

	select {
	case addr = <-listening:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	}

	base := "http://" + addr.String()

	resp, err := http.Post(base+"/core", "application/json",
		strings.NewReader(`{"core_id":"AL1","running_id":"R1","core_timestamp":1,"mode":"operational"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	client, err := grpcapi.Dial(addr.String())
	require.NoError(t, err)

	defer func() {
		_ = client.Close()
	}()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	list, err := client.List(callCtx)
	require.NoError(t, err)
	require.Len(t, list.GetValues(), 1)

	stream, err := client.Subscribe(ctx, routing.DefaultGlobalGroup)
	require.NoError(t, err)

	payload, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "AL1", payload.GetFields()["core_id"].GetStringValue())

	cancel()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
