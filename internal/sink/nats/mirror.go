package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/logger"
)

// Result labels passed to the recorder.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// keyHeader carries the alarm identity of a mirrored payload.
const keyHeader = "Alarm-Key"

// errNoURL is returned when no server URL is configured.
var errNoURL = errors.New("nats mirror requires a server URL")

// Recorder counts mirror attempts.
type Recorder interface {
	Mirrored(result string)
}

// publisher is the subset of *nats.Conn used by the mirror.
type publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Mirror publishes payloads to <prefix>.<core_id>.
type Mirror struct {
	conn     publisher
	close    func()
	prefix   string
	recorder Recorder
}

// Connect dials url and returns a mirror publishing under prefix.
func Connect(url, prefix string, recorder Recorder) (*Mirror, error) {
	if url == "" {
		return nil, errNoURL
	}

	nc, err := nats.Connect(url,
		nats.Name("alarm-stream"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	m := newMirror(nc, prefix, recorder)
	m.close = nc.Close

	return m, nil
}

func newMirror(conn publisher, prefix string, recorder Recorder) *Mirror {
	if recorder == nil {
		recorder = noopRecorder{}
	}

	return &Mirror{
		conn:     conn,
		close:    func() {},
		prefix:   prefix,
		recorder: recorder,
	}
}

// Mirror publishes msg. Errors are logged and counted only.
func (m *Mirror) Mirror(ctx context.Context, msg *domain.Message) {
	subject := Subject(m.prefix, msg.Payload.CoreID)

	err := m.conn.PublishMsg(&nats.Msg{
		Subject: subject,
		Data:    msg.Data,
		Header:  nats.Header{keyHeader: []string{msg.Payload.Key().String()}},
	})
	if err != nil {
		m.recorder.Mirrored(ResultError)
		logger.WarnKV(ctx, "Failed to mirror alarm payload", "subject", subject, "error", err)

		return
	}

	m.recorder.Mirrored(ResultOK)
}

// Close closes the connection.
func (m *Mirror) Close() {
	m.close()
}

// Subject returns the subject of core_id under prefix.
// Characters with a meaning in NATS subjects are replaced with underscores.
func Subject(prefix, coreID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		default:
			return r
		}
	}, coreID)

	if token == "" {
		token = "_"
	}

	if prefix == "" {
		return token
	}

	return prefix + "." + token
}

type noopRecorder struct{}

func (noopRecorder) Mirrored(string) {}
