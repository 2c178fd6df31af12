package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/internal/tlsutil"
	"github.com/fluxwire/fluxwire/types"
)

const (
	// DefaultTimeout bounds calls whose request carries no timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes int64 = 10 << 20
)

// Client is a flow.Network backed by a hardened net/http client.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	maxBody int64
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default per-call timeout applied when a request
// carries none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second across all runs
// sharing the client.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithMaxBodyBytes caps the number of response bytes read per call.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient substitutes the underlying http.Client. The client's own
// Timeout should stay zero; per-call deadlines come from the context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New builds a Client with hardened TLS defaults.
func New(opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		maxBody: DefaultMaxBodyBytes,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: tlsutil.Transport()}
	}
	c.logger = c.logger.With(zap.String("component", "fetch"))
	return c
}

// Do performs the request with the client's rate limit, timeout and body
// cap applied.
func (c *Client) Do(ctx context.Context, req flow.Request) (*flow.Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, c.classify(ctx, ctx, req.URL, timeout, err)
			}
			// The wait cannot finish before the context deadline.
			return nil, types.NewError(types.ErrRateLimited, "rate limit wait exceeds request deadline").
				WithRetryable(true).
				WithCause(err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "build request").WithCause(err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classify(ctx, callCtx, req.URL, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, c.classify(ctx, callCtx, req.URL, timeout, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, types.Errorf(types.ErrNetwork, "response from %s exceeds %d byte cap", req.URL, c.maxBody)
	}

	c.logger.Debug("request completed",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))

	return &flow.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// classify maps a transport error onto the engine's taxonomy. The caller's
// context is consulted first so an external cancel never reads as a
// timeout; contexts cancelled with a typed cause keep that cause's
// classification.
func (c *Client) classify(parent, call context.Context, url string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		if typed := types.AsError(context.Cause(parent)); typed != nil {
			return typed
		}
		if errors.Is(parent.Err(), context.Canceled) {
			return types.NewError(types.ErrCancelled, "request cancelled").WithCause(err)
		}
		return types.Errorf(types.ErrTimeout, "request to %s exceeded caller deadline", url).
			WithRetryable(true).
			WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(call.Err(), context.DeadlineExceeded) {
		return types.Errorf(types.ErrTimeout, "request to %s exceeded timeout of %s", url, timeout).
			WithRetryable(true).
			WithCause(err)
	}
	return types.Errorf(types.ErrNetwork, "request to %s failed", url).
		WithRetryable(true).
		WithCause(err)
}
