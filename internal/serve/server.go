package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/druarnfield/composer-trigger/internal/trigger"
)

const (
	maxEventBytes   = 1 << 20
	shutdownTimeout = 10 * time.Second
)

var errMalformedEvent = errors.New("malformed storage event")

// Options holds listener settings passed from the CLI layer.
type Options struct {
	Listen string
	Logger *slog.Logger
}

// Server receives storage notifications over HTTP and runs the trigger once
// per notification.
type Server struct {
	handler  trigger.Handler
	listen   string
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics
}

// NewServer wires handler behind the event endpoint.
func NewServer(handler trigger.Handler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	return &Server{
		handler:  handler,
		listen:   opts.Listen,
		logger:   logger.With("module", "serve"),
		registry: reg,
		metrics:  newMetrics(reg),
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Post("/", s.handleEvent)

	return r
}

// Start serves until the context is cancelled, then shuts down gracefully,
// letting in-flight invocations finish.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", s.listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.logger.Info("stopped")
	return nil
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBytes)
	ev, eventID, err := decodeEvent(r)
	if err != nil {
		s.metrics.malformed.Inc()
		s.logger.WarnContext(ctx, "rejecting event", "request_id", requestIDFromContext(ctx), "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if eventID == "" {
		eventID = requestIDFromContext(ctx)
	}

	logger := s.logger.With("invocation_id", eventID, "bucket", ev.Bucket, "object", ev.Name)
	logger.InfoContext(ctx, "event received")

	start := time.Now()
	res, err := s.handler.Handle(ctx, ev)
	s.metrics.observe(res.Outcome, time.Since(start))

	status := http.StatusOK
	if err != nil {
		// Fatal classes only; the platform may redeliver the event.
		status = http.StatusInternalServerError
		logger.ErrorContext(ctx, "invocation failed", "error", err)
	} else {
		logger.InfoContext(ctx, "invocation handled", "outcome", res.Outcome, "status", res.StatusCode)
	}
	writeJSON(w, status, res)
}

// legacyEvent covers the background-function envelope
// {"context": {...}, "data": {...}} and a bare object resource.
type legacyEvent struct {
	Context struct {
		EventID string `json:"eventId"`
	} `json:"context"`
	Data json.RawMessage `json:"data"`
	trigger.StorageEvent
}

// decodeEvent reads a storage event from a CloudEvent (binary or structured
// mode) or a legacy JSON body. It returns the event id when the body has one.
func decodeEvent(r *http.Request) (trigger.StorageEvent, string, error) {
	var ev trigger.StorageEvent

	if isCloudEvent(r) {
		ce, err := cloudevents.NewEventFromHTTPRequest(r)
		if err != nil {
			return ev, "", fmt.Errorf("%w: %w", errMalformedEvent, err)
		}
		if err := ce.DataAs(&ev); err != nil {
			return ev, "", fmt.Errorf("%w: decoding data: %w", errMalformedEvent, err)
		}
		if err := checkEvent(ev); err != nil {
			return ev, "", err
		}
		return ev, ce.ID(), nil
	}

	var le legacyEvent
	if err := json.NewDecoder(r.Body).Decode(&le); err != nil {
		return ev, "", fmt.Errorf("%w: %w", errMalformedEvent, err)
	}
	ev = le.StorageEvent
	if len(le.Data) > 0 && string(le.Data) != "null" {
		if err := json.Unmarshal(le.Data, &ev); err != nil {
			return ev, "", fmt.Errorf("%w: decoding data: %w", errMalformedEvent, err)
		}
	}
	if err := checkEvent(ev); err != nil {
		return ev, "", err
	}
	return ev, le.Context.EventID, nil
}

func isCloudEvent(r *http.Request) bool {
	if r.Header.Get("Ce-Specversion") != "" {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/cloudevents+json")
}

func checkEvent(ev trigger.StorageEvent) error {
	if ev.Bucket == "" || ev.Name == "" {
		return fmt.Errorf("%w: bucket and name are required", errMalformedEvent)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
