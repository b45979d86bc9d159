package trigger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/druarnfield/composer-trigger/internal/config"
)

const dagRunsURLFormat = "https://%s.appspot.com/api/experimental/dags/%s/dag_runs"

// maxResponseBytes caps how much of the dag_runs response is read, logged
// and returned in Result.Body.
const maxResponseBytes = 8 << 10

// DagRunURL returns the Airflow experimental API endpoint that creates a run
// of cfg.DAGName. Values are interpolated as-is; they are operator-supplied
// identifiers.
func DagRunURL(cfg config.TriggerConfig) (string, error) {
	raw := fmt.Sprintf(dagRunsURLFormat, cfg.WebserverID, cfg.DAGName)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequestBuild, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: no host in %q", ErrRequestBuild, raw)
	}
	return raw, nil
}

// DagTrigger starts a DAG run for each storage event it handles.
//
// Delivery is best effort: once a token has been obtained, neither a
// transport failure nor a non-200 response is returned as an error. Both are
// logged and reported in the Result.
type DagTrigger struct {
	cfg       config.TriggerConfig
	tokens    TokenProvider
	transport http.RoundTripper
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a DagTrigger.
type Option func(*DagTrigger)

// WithTransport sets the RoundTripper used for the dag_runs POST.
func WithTransport(rt http.RoundTripper) Option {
	return func(d *DagTrigger) { d.transport = rt }
}

// WithTimeout bounds the token exchange and, separately, the dag_runs POST
// including reading the response.
func WithTimeout(timeout time.Duration) Option {
	return func(d *DagTrigger) { d.timeout = timeout }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *DagTrigger) { d.logger = logger }
}

// New creates a DagTrigger. cfg is not validated here; Handle validates it on
// every invocation before any I/O.
func New(cfg config.TriggerConfig, tokens TokenProvider, opts ...Option) *DagTrigger {
	d := &DagTrigger{
		cfg:     cfg,
		tokens:  tokens,
		timeout: config.DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle triggers one DAG run for ev.
//
// Only configuration, request-build and credential failures are returned.
// In those cases no POST has been sent.
func (d *DagTrigger) Handle(ctx context.Context, ev StorageEvent) (Result, error) {
	logger := d.logger.With("dag", d.cfg.DAGName, "bucket", ev.Bucket, "object", ev.Name)

	if d.tokens == nil {
		err := fmt.Errorf("%w: no token provider", ErrConfig)
		logger.ErrorContext(ctx, "invalid configuration", "error", err)
		return failed(err)
	}
	if err := d.cfg.Validate(); err != nil {
		logger.ErrorContext(ctx, "invalid configuration", "error", err)
		return failed(fmt.Errorf("%w: %w", ErrConfig, err))
	}

	target, err := DagRunURL(d.cfg)
	if err != nil {
		logger.ErrorContext(ctx, "building dag_runs url", "error", err)
		return failed(err)
	}

	body, err := NewPayload(ev).Marshal()
	if err != nil {
		logger.ErrorContext(ctx, "encoding payload", "error", err)
		return failed(fmt.Errorf("%w: encoding payload: %w", ErrRequestBuild, err))
	}

	tokenCtx, cancel := context.WithTimeout(ctx, d.timeout)
	token, err := d.tokens.Token(tokenCtx, d.cfg.ClientID)
	cancel()
	if err != nil {
		logger.ErrorContext(ctx, "could not generate token from service account", "error", err)
		return failed(fmt.Errorf("%w: %w", ErrCredential, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		logger.ErrorContext(ctx, "building request", "error", err)
		return failed(fmt.Errorf("%w: %w", ErrRequestBuild, err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	logger.DebugContext(ctx, "posting dag run", "url", target)

	client := &http.Client{Transport: d.transport, Timeout: d.timeout}
	resp, err := client.Do(req)
	if err != nil {
		logger.ErrorContext(ctx, "dag run request failed", "error", err)
		return Result{Outcome: OutcomeTransport, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logger.ErrorContext(ctx, "reading dag run response", "status", resp.StatusCode, "error", err)
		return Result{Outcome: OutcomeTransport, StatusCode: resp.StatusCode, Error: err.Error()}, nil
	}

	res := Result{StatusCode: resp.StatusCode, Body: string(respBody)}
	if resp.StatusCode == http.StatusOK {
		res.OK = true
		res.Outcome = OutcomeTriggered
		logger.InfoContext(ctx, "dag run triggered", "status", resp.StatusCode, "body", res.Body)
		return res, nil
	}

	res.Outcome = OutcomeRejected
	res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	logger.ErrorContext(ctx, "dag run rejected", "status", resp.StatusCode, "body", res.Body)
	return res, nil
}

func failed(err error) (Result, error) {
	return Result{Outcome: OutcomeFailed, Error: err.Error()}, err
}
