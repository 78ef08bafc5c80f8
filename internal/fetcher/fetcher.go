// Package fetcher retrieves upstream HTML with SSRF checks, per-attempt
// timeouts, a byte ceiling, and bounded linear retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/botmd/internal/metrics"
	"github.com/JakeFAU/botmd/internal/telemetry"
	"github.com/JakeFAU/botmd/internal/urlguard"
)

var tracer = telemetry.Tracer("fetcher")

// Defaults applied when a Request or Fetcher leaves a knob unset.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxBytes       = 10 * 1024 * 1024
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = time.Second
	DefaultUserAgent      = "botmd/1.0 (internal fetch)"
	maxRedirects          = 5
)

// InternalHeader tags the service's own outbound requests so the middleware
// can recognise and skip them if they loop back.
const (
	InternalHeader      = "X-Botmd-Internal"
	InternalHeaderValue = "true"
	acceptHTML          = "text/html,application/xhtml+xml"
)

// Request describes a single fetch.
type Request struct {
	URL            string
	AllowLocalhost bool
	Timeout        time.Duration
	MaxBytes       int64
}

// Limiter paces outbound requests; Wait blocks until rawURL may be fetched.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher issues guarded GET requests.
type Fetcher struct {
	client    *http.Client
	policy    LinearRetryPolicy
	limiter   Limiter
	userAgent string
	logger    *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithRetryPolicy overrides the retry budget and backoff.
func WithRetryPolicy(policy LinearRetryPolicy) Option {
	return func(f *Fetcher) {
		f.policy = policy
	}
}

// WithUserAgent overrides the outbound User-Agent.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithLimiter paces every attempt, retries included.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.client.Transport = rt
		}
	}
}

// New constructs a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport:     newHTTPTransport(),
			CheckRedirect: checkRedirect,
		},
		policy:    NewLinearRetryPolicy(),
		userAgent: DefaultUserAgent,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type allowLocalhostKey struct{}

// checkRedirect re-validates every hop so a public URL cannot bounce the
// fetch into a private network.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	allow, _ := req.Context().Value(allowLocalhostKey{}).(bool)
	if err := urlguard.Validate(req.URL.String(), allow); err != nil {
		return fmt.Errorf("redirect: %w", err)
	}
	return nil
}

// Fetch returns the body of req.URL as text. The last attempt's error is
// returned when the retry budget runs out.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (body string, err error) {
	ctx, span := tracer.Start(ctx, "fetcher.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", req.URL)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcomeLabel(err))
		}
		span.End()
	}()

	if err := urlguard.Validate(req.URL, req.AllowLocalhost); err != nil {
		metrics.ObserveFetchAttempt(outcomeLabel(err))
		return "", err
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.MaxBytes <= 0 {
		req.MaxBytes = DefaultMaxBytes
	}

	var lastErr error
	for attempt := 0; attempt < f.policy.Attempts(); attempt++ {
		span.SetAttributes(attribute.Int("botmd.fetch.attempt", attempt+1))
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, req.URL); err != nil {
				return "", fmt.Errorf("fetch %s: %w", req.URL, err)
			}
		}
		body, err := f.attempt(ctx, req)
		metrics.ObserveFetchAttempt(outcomeLabel(err))
		if err == nil {
			metrics.ObserveFetchBytes(len(body))
			return body, nil
		}
		lastErr = err
		if !f.policy.ShouldRetry(ctx, err, attempt) {
			break
		}
		delay := f.policy.Backoff(attempt)
		f.logger.Debug("fetch attempt failed, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return "", fmt.Errorf("fetch %s: %w", req.URL, err)
		}
	}
	return "", lastErr
}

func (f *Fetcher) attempt(ctx context.Context, req Request) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	attemptCtx = context.WithValue(attemptCtx, allowLocalhostKey{}, req.AllowLocalhost)

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", urlguard.ErrInvalidURL, err)
	}
	httpReq.Header.Set(InternalHeader, InternalHeaderValue)
	httpReq.Header.Set("Accept", acceptHTML)
	httpReq.Header.Set("User-Agent", f.userAgent)
	telemetry.Inject(attemptCtx, httpReq.Header)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", f.wrapTransportError(ctx, attemptCtx, req, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if resp.ContentLength > req.MaxBytes {
		return "", fmt.Errorf("%w: content-length %d exceeds %d bytes",
			ErrSizeLimitExceeded, resp.ContentLength, req.MaxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, req.MaxBytes+1))
	if err != nil {
		return "", f.wrapTransportError(ctx, attemptCtx, req, err)
	}
	if int64(len(body)) > req.MaxBytes {
		return "", fmt.Errorf("%w: body exceeds %d bytes", ErrSizeLimitExceeded, req.MaxBytes)
	}
	return string(body), nil
}

func (f *Fetcher) wrapTransportError(parent, attemptCtx context.Context, req Request, err error) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, req.Timeout)
	}
	return fmt.Errorf("fetch %s: %w", req.URL, err)
}

func outcomeLabel(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSizeLimitExceeded):
		return "size_limit"
	case errors.Is(err, urlguard.ErrSSRFRejected), errors.Is(err, urlguard.ErrInvalidURL):
		return "rejected"
	case errors.As(err, &httpErr):
		if httpErr.IsClientError() {
			return "http_4xx"
		}
		return "http_error"
	default:
		return "error"
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
