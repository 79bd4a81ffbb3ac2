package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	grpcapi "github.com/oshokin/alarm-stream/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-stream/internal/config"
	"github.com/oshokin/alarm-stream/internal/routing"
	"github.com/oshokin/alarm-stream/internal/service/client"
	"github.com/oshokin/alarm-stream/internal/service/server"
)

// startServer runs the server with a pebble store at dataPath.
// Returns the bound address and a stop function that waits for shutdown.
func startServer(t *testing.T, dataPath string, configure ...func(*config.Config)) (addr string, stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := &config.Config{
		ListenAddress: "127.0.0.1:0",
		Store:         config.StoreConfig{Driver: config.DriverPebble, Path: dataPath},
		Routing: config.RoutingConfig{
			Rules: []routing.Rule{{Pattern: "ANTENNA_*", Group: "antennas"}},
		},
		Broadcast: config.BroadcastConfig{Disabled: true},
	}

	for _, fn := range configure {
		fn(cfg)
	}

	require.NoError(t, config.Save(cfgPath, cfg))

	listening := make(chan net.Addr, 1)
	done := make(chan error, 1)

	go func() {
		done <- server.Run(ctx, &server.Options{ConfigPath: cfgPath, Listening: listening})
	}()

	select {
	case bound := <-listening:
		addr = bound.String()
	case err := <-done:
		cancel()
		t.Fatalf("server exited early: %v", err)
	}

	return addr, func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Fatal("server did not stop")
		}
	}
}

func postCore(t *testing.T, addr, body string) {
	t.Helper()

	resp, err := http.Post("http://"+addr+"/core", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Less(t, resp.StatusCode, http.StatusBadRequest)
	_ = resp.Body.Close()
}

// readEvents returns the decoded data lines of the next n SSE alarm events.
func readEvents(t *testing.T, reader *bufio.Reader, n int) []map[string]any {
	t.Helper()

	events := make([]map[string]any, 0, n)

	for len(events) < n {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)

		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}

		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &event))

		events = append(events, event)
	}

	return events
}

// TestStream_EndToEnd routes records to SSE and gRPC subscribers and keeps them across a restart.
func TestStream_EndToEnd(t *testing.T) {
	t.Parallel()

	dataPath := filepath.Join(t.TempDir(), "data")
	addr, stop := startServer(t, dataPath)

	postCore(t, addr, `{"core_id":"ANTENNA_1","running_id":"R1","core_timestamp":10,"value":1,"mode":"operational"}`)
	postCore(t, addr, `{"core_id":"WEATHER_1","running_id":"R1","core_timestamp":10,"value":0,"mode":"operational"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The rule group only sees antennas: snapshot first, then live changes.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/stream?group=antennas", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	reader := bufio.NewReader(resp.Body)

	snapshot := readEvents(t, reader, 1)
	require.Equal(t, "ANTENNA_1", snapshot[0]["core_id"])

	postCore(t, addr, `{"core_id":"WEATHER_1","running_id":"R1","core_timestamp":20,"value":2,"mode":"operational"}`)
	postCore(t, addr, `{"core_id":"ANTENNA_2","running_id":"R1","core_timestamp":20,"value":5,"mode":"degraded"}`)

	live := readEvents(t, reader, 1)
	require.Equal(t, "ANTENNA_2", live[0]["core_id"])
	require.Equal(t, "created", live[0]["kind"])

	cancel()
	stop()

	// Records survive a restart on the same store.
	addr, stop = startServer(t, dataPath)
	defer stop()

	grpcClient, err := grpcapi.Dial(addr)
	require.NoError(t, err)

	defer func() {
		_ = grpcClient.Close()
	}()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	list, err := grpcClient.List(callCtx)
	require.NoError(t, err)
	require.Len(t, list.GetValues(), 3)
}

// TestStream_PeriodicRefresh resends current state to idle subscribers.
func TestStream_PeriodicRefresh(t *testing.T) {
	t.Parallel()

	addr, stop := startServer(t, filepath.Join(t.TempDir(), "data"), func(cfg *config.Config) {
		cfg.Broadcast = config.BroadcastConfig{Interval: 100 * time.Millisecond}
	})
	defer stop()

	postCore(t, addr, `{"core_id":"ANTENNA_1","running_id":"R1","core_timestamp":10,"value":1,"mode":"operational"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/stream?group=antennas", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	// Snapshot first, then refreshes of the same record without new writes.
	events := readEvents(t, bufio.NewReader(resp.Body), 3)
	for _, event := range events {
		require.Equal(t, "ANTENNA_1", event["core_id"])
	}

	cancel()
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// TestWatch_PrintsPayloads runs the watch command against a live server.
func TestWatch_PrintsPayloads(t *testing.T) {
	t.Parallel()

	addr, stop := startServer(t, filepath.Join(t.TempDir(), "data"))
	defer stop()

	postCore(t, addr, `{"core_id":"ANTENNA_1","running_id":"R1","core_timestamp":10,"value":1,"mode":"operational"}`)

	ctx, cancel := context.WithCancel(context.Background())
	out := new(syncBuffer)
	done := make(chan error, 1)

	go func() {
		done <- client.Run(ctx, &client.Options{
			ServerAddress: addr,
			Groups:        []string{"ANTENNA_1"},
			Output:        out,
			RetryInterval: 50 * time.Millisecond,
		})
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "ANTENNA_1")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// Blank groups are rejected and not retried.
	err := client.Run(context.Background(), &client.Options{ServerAddress: addr, Groups: []string{""}})
	require.Error(t, err)
}
