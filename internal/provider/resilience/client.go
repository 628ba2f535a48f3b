package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// ErrCircuitOpen is returned without calling the provider while its circuit
// is open or its half-open trial requests are in use.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ServerError is a 5xx answer from the provider.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name identifies the provider in the registry, breaker and logs.
	Name string

	// Timeout bounds a single attempt (default: 10s).
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first (default: 2).
	// Negative disables retries.
	MaxRetries int

	// InitialBackoff and MaxBackoff bound the exponential wait between
	// attempts (defaults: 200ms and 2s).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Breaker BreakerConfig

	// Registry, when set, tracks the client under Name.
	Registry *Registry

	// Transport defaults to http.DefaultTransport. It is always traced.
	Transport      http.RoundTripper
	TracerProvider trace.TracerProvider

	Logger zerolog.Logger
}

// Client is an HTTP client for one provider. Network errors and 5xx answers
// are retried with exponential backoff and count against the circuit; 4xx
// answers are returned to the caller as they are.
type Client struct {
	name     string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	registry *Registry
	logger   zerolog.Logger

	retries        uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient creates a Client and registers it when cfg.Registry is set.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var retries uint64
	switch {
	case cfg.MaxRetries == 0:
		retries = 2
	case cfg.MaxRetries > 0:
		retries = uint64(cfg.MaxRetries)
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	var traceOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		traceOpts = append(traceOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	logger := cfg.Logger.With().Str("provider", cfg.Name).Logger()
	c := &Client{
		name: cfg.Name,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport, traceOpts...),
		},
		registry:       cfg.Registry,
		logger:         logger,
		retries:        retries,
		initialBackoff: initial,
		maxBackoff:     maxBackoff,
	}
	c.breaker = newBreaker[*http.Response](cfg.Name, cfg.Breaker, func(_ string, from, to gobreaker.State) {
		ev := logger.Info()
		if to == gobreaker.StateOpen {
			ev = logger.Warn()
		}
		ev.Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
	})

	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c.breaker)
	}
	return c
}

// Do sends req. When every attempt ends in a 5xx answer the last response is
// returned with a nil error so the caller can read the provider's error body.
// Requests with a body are only retried when req.GetBody is set.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var last *http.Response
	attempt := 0
	operation := func() error {
		attempt++
		drain(last)
		last = nil

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			resp, err := c.send(ctx, req, attempt)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				return resp, &ServerError{StatusCode: resp.StatusCode}
			}
			return resp, nil
		})
		last = resp

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case err != nil && ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	err := backoff.RetryNotify(operation, c.policy(ctx, req), func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("provider request failed, retrying")
	})
	if err != nil {
		c.recordFailure(err)
		if last != nil && ctx.Err() == nil {
			return last, nil
		}
		drain(last)
		return nil, err
	}

	c.recordSuccess()
	return last, nil
}

func (c *Client) policy(ctx context.Context, req *http.Request) backoff.BackOff {
	retries := c.retries
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		retries = 0
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.MaxInterval = c.maxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// send issues one attempt with a fresh copy of the body.
func (c *Client) send(ctx context.Context, req *http.Request, attempt int) (*http.Response, error) {
	out := req.Clone(ctx)
	if attempt > 1 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return c.http.Do(out)
}

func (c *Client) recordSuccess() {
	if c.registry != nil {
		c.registry.RecordSuccess(c.name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.registry != nil {
		c.registry.RecordFailure(c.name, err)
	}
}

// State returns the circuit state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func drain(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
