package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
	"github.com/oshokin/alarm-stream/internal/ingest"
	"github.com/oshokin/alarm-stream/internal/logger"
	"github.com/oshokin/alarm-stream/internal/registry"
	repository "github.com/oshokin/alarm-stream/internal/repository/alarms"
	"github.com/oshokin/alarm-stream/internal/session"
)

// maxBodyBytes limits ingested request bodies.
const maxBodyBytes = 1 << 20

// DefaultKeepalive is used when Options.Keepalive is not set.
const DefaultKeepalive = 15 * time.Second

// Subscriptions is the subscriber-facing side of the binding adapter.
type Subscriptions interface {
	Subscribe(ctx context.Context, handle registry.Handle, groups ...string) (int, error)
	Disconnect(ctx context.Context, handle registry.Handle)
	Snapshot(ctx context.Context) ([]*domain.Record, error)
}

// Sessions opens outbound sessions.
type Sessions interface {
	Open() *session.Session
}

// Options configures the handler.
type Options struct {
	Subscriptions Subscriptions
	Sessions      Sessions
	Ingester      *ingest.Ingester
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// DefaultGroup is followed by streams that name no group.
	DefaultGroup string
	// Keepalive is the interval of comment lines on idle streams.
	Keepalive time.Duration
	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string
}

type server struct {
	opts Options
}

// NewHandler returns the HTTP handler of the alarm stream.
func NewHandler(ctx context.Context, opts Options) http.Handler {
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}

	s := &server{opts: opts}
	base := logger.WithName(ctx, "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(withLogger(base))

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Get("/stream", s.stream)
	r.Post("/core", s.ingest)
	r.Get("/alarms", s.list)
	r.Delete("/alarms/{core_id}/{running_id}", s.remove)

	return r
}

// withLogger scopes the request context logger with the request id.
func withLogger(base context.Context) func(http.Handler) http.Handler {
	l := logger.FromContext(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.ToContext(r.Context(), l)
			if id := middleware.GetReqID(ctx); id != "" {
				ctx = logger.WithKV(ctx, "request_id", id)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// stream serves server-sent events until the client goes away or its
// session is closed.
func (s *server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")

		return
	}

	groups := r.URL.Query()["group"]
	if len(groups) == 0 {
		groups = []string{s.opts.DefaultGroup}
	}

	ctx := r.Context()
	sess := s.opts.Sessions.Open()
	ctx = logger.WithKV(ctx, "handle", sess.Handle())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	// The snapshot fills the session while this goroutine drains it.
	subscribed := make(chan error, 1)

	go func() {
		_, err := s.opts.Subscriptions.Subscribe(ctx, sess.Handle(), groups...)
		subscribed <- err
	}()

	defer func() {
		if subscribed != nil {
			<-subscribed
		}

		s.opts.Subscriptions.Disconnect(context.WithoutCancel(ctx), sess.Handle())
	}()

	ticker := time.NewTicker(s.opts.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case err := <-subscribed:
			subscribed = nil

			if err != nil {
				logger.WarnKV(ctx, "Subscribe failed", "groups", groups, "error", err)
				_, _ = fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
				flusher.Flush()

				return
			}
		case msg, ok := <-sess.Messages():
			if !ok {
				return
			}

			if err := writeEvent(w, msg); err != nil {
				return
			}

			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}

			flusher.Flush()
		case <-sess.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w io.Writer, msg *domain.Message) error {
	_, err := fmt.Fprintf(w, "event: alarm\ndata: %s\n\n", msg.Data)

	return err
}

func (s *server) ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")

		return
	}

	record, outcome, err := s.opts.Ingester.ApplyJSON(r.Context(), ingest.SourceHTTP, body)

	switch {
	case err == nil:
	case record == nil:
		writeJSONError(w, http.StatusBadRequest, err.Error())

		return
	default:
		logger.ErrorKV(r.Context(), "Failed to store alarm record", "key", record.Key().String(), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to store record")

		return
	}

	status := http.StatusOK
	if outcome == repository.OutcomeCreated {
		status = http.StatusCreated
	}

	writeJSON(w, status, map[string]string{"outcome": outcome.String()})
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	records, err := s.opts.Subscriptions.Snapshot(r.Context())
	if err != nil {
		logger.ErrorKV(r.Context(), "Failed to list alarms", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list alarms")

		return
	}

	if records == nil {
		records = []*domain.Record{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *server) remove(w http.ResponseWriter, r *http.Request) {
	key := domain.Key{
		CoreID:    chi.URLParam(r, "core_id"),
		RunningID: chi.URLParam(r, "running_id"),
	}

	record, err := s.opts.Ingester.Remove(r.Context(), ingest.SourceHTTP, key)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, record)
	case errors.Is(err, repository.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "alarm not found")
	default:
		logger.ErrorKV(r.Context(), "Failed to delete alarm", "key", key.String(), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to delete alarm")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
		"code":  status,
	})
}
