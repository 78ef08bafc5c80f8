// Package botmd decides whether a request comes from an AI agent or crawler
// and, if so, produces a Markdown rendering of the requested page.
//
// A Botmd value is built once from Config and shared across requests. Each
// call to CreateResponse walks a fixed pipeline: normalize the request, skip
// the service's own outbound fetches, apply the path rules, classify the
// caller, consult the cache, and on a miss fetch the page, convert it and
// store the result. Every failure is absorbed into the returned Response.
package botmd

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/botmd/internal/cache"
	"github.com/JakeFAU/botmd/internal/clock"
	"github.com/JakeFAU/botmd/internal/detector"
	"github.com/JakeFAU/botmd/internal/fetcher"
	"github.com/JakeFAU/botmd/internal/hash"
	"github.com/JakeFAU/botmd/internal/mdconvert"
	"github.com/JakeFAU/botmd/internal/metrics"
	"github.com/JakeFAU/botmd/internal/ratelimit"
	"github.com/JakeFAU/botmd/internal/telemetry"
)

var tracer = telemetry.Tracer("botmd")

// Response header values set when Markdown is served.
const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	CacheHeader         = "X-Botmd-Cache"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Outcome names the terminal state a request reached.
type Outcome string

// Pipeline outcomes, also used as metric labels.
const (
	OutcomeDisabled     Outcome = "disabled"
	OutcomeInternal     Outcome = "internal"
	OutcomePathRejected Outcome = "path_rejected"
	OutcomeNotBot       Outcome = "not_bot"
	OutcomeCacheHit     Outcome = "cache_hit"
	OutcomeConverted    Outcome = "converted"
	OutcomeError        Outcome = "error"
)

// Response is the result of CreateResponse. Content and Headers are only
// populated when ShouldConvert is true.
type Response struct {
	IsBot         bool
	Content       string
	Headers       map[string]string
	ShouldConvert bool
	Cached        bool
	// Reason is the classifier's explanation, empty when classification did not run.
	Reason  string
	Outcome Outcome
	Error   error
}

// FetchRequest describes one upstream fetch handed to a Fetcher.
type FetchRequest = fetcher.Request

// Fetcher retrieves upstream HTML.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (string, error)
}

// Botmd runs the request pipeline. Safe for concurrent use.
type Botmd struct {
	cfg        ResolvedConfig
	classifier *detector.Classifier
	cache      *cache.Cache
	fetcher    Fetcher
	converter  mdconvert.Converter
	clock      clock.Clock
	hasher     *hash.Hasher
	logger     *zap.Logger
}

// Option customizes a Botmd.
type Option func(*Botmd)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(b *Botmd) {
		if f != nil {
			b.fetcher = f
		}
	}
}

// WithConverter replaces the Markdown converter chosen by Config.Converter.
func WithConverter(c mdconvert.Converter) Option {
	return func(b *Botmd) {
		if c != nil {
			b.converter = c
		}
	}
}

// WithClock sets the clock used for request log timestamps.
func WithClock(c clock.Clock) Option {
	return func(b *Botmd) {
		if c != nil {
			b.clock = c
		}
	}
}

// New validates cfg and builds a Botmd. Configuration errors are returned
// here and never at request time.
func New(cfg Config, opts ...Option) (*Botmd, error) {
	rc, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conv, err := mdconvert.New(rc.Converter, logger.Named("mdconvert"))
	if err != nil {
		return nil, &ConfigError{Field: "converter", Reason: err.Error()}
	}

	b := &Botmd{
		cfg:        rc,
		classifier: detector.New(rc.UserAgents, detector.WithCatalog(rc.BotCatalog)),
		cache: cache.New(cache.Options{
			Enabled: rc.Cache.Enabled,
			TTL:     rc.Cache.TTL,
			MaxSize: rc.Cache.MaxSize,
		}),
		fetcher:   newFetcher(rc.Fetch, logger.Named("fetcher")),
		converter: mdconvert.Timed(conv),
		clock:     clock.System{},
		hasher:    hash.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func newFetcher(fc ResolvedFetchConfig, logger *zap.Logger) *fetcher.Fetcher {
	opts := []fetcher.Option{
		fetcher.WithLogger(logger),
		fetcher.WithUserAgent(fc.UserAgent),
		fetcher.WithRetryPolicy(fetcher.LinearRetryPolicy{
			MaxRetries: fc.MaxRetries,
			BaseDelay:  fc.RetryBaseDelay,
		}),
	}
	if fc.RateLimit > 0 {
		opts = append(opts, fetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   fc.RateLimit,
			Burst: fc.RateBurst,
		})))
	}
	return fetcher.New(opts...)
}

// CreateResponse runs the pipeline for req. It never panics and never
// returns an error directly; failures are reported on Response.Error.
func (b *Botmd) CreateResponse(ctx context.Context, req Request) (resp Response) {
	ctx, span := tracer.Start(ctx, "botmd.CreateResponse")
	defer func() {
		if r := recover(); r != nil {
			resp = b.errorResponse(fmt.Errorf("botmd: recovered panic: %v", r))
		}
		metrics.ObserveRequest(string(resp.Outcome))
		span.SetAttributes(
			attribute.String("botmd.outcome", string(resp.Outcome)),
			attribute.Bool("botmd.is_bot", resp.IsBot),
		)
		if resp.Error != nil {
			span.RecordError(resp.Error)
			span.SetStatus(codes.Error, string(OutcomeError))
		}
		span.End()
	}()

	n, err := normalize(req)
	if err != nil {
		return b.errorResponse(err)
	}
	b.debug("processing request", zap.String("url", n.url))

	if !b.cfg.Enabled {
		b.debug("botmd is disabled")
		return emptyResponse(OutcomeDisabled)
	}
	if isInternal(n.headers) {
		b.debug("internal request, skipping")
		return emptyResponse(OutcomeInternal)
	}

	target, err := b.fetchTarget(n)
	if err != nil {
		return b.errorResponse(err)
	}
	path := requestPath(target)
	if !b.cfg.Paths.Permits(path) {
		b.debug("path not allowed", zap.String("path", path))
		return emptyResponse(OutcomePathRejected)
	}

	userAgent := n.header("User-Agent")
	decision := b.classifier.Classify(userAgent, n.header("Accept"))
	if !decision.IsBot {
		b.debug("not a bot", zap.String("user_agent", userAgent), zap.String("reason", string(decision.Reason)))
		resp := emptyResponse(OutcomeNotBot)
		resp.Reason = string(decision.Reason)
		return resp
	}
	b.debug("bot detected", zap.String("user_agent", userAgent), zap.String("reason", string(decision.Reason)))

	key := cacheKey(target, b.cfg.CacheKeyIncludesHost)
	if b.cache.IsEnabled() {
		if md, ok := b.cache.Get(key); ok {
			metrics.ObserveCacheLookup(true)
			b.debug("cache hit", zap.String("key", key))
			b.logRequest(path, userAgent)
			return markdownResponse(md, true, decision.Reason)
		}
		metrics.ObserveCacheLookup(false)
		b.debug("cache miss", zap.String("key", key))
	}

	b.debug("fetching html", zap.String("url", target))
	html, err := b.fetcher.Fetch(ctx, FetchRequest{
		URL:            target,
		AllowLocalhost: b.cfg.Fetch.AllowLocalhost,
		Timeout:        b.cfg.Fetch.Timeout,
		MaxBytes:       b.cfg.Fetch.MaxBytes,
	})
	if err != nil {
		return b.errorResponse(fmt.Errorf("fetch %s: %w", target, err))
	}
	if strings.TrimSpace(html) == "" {
		return b.errorResponse(fmt.Errorf("fetch %s: %w", target, ErrEmptyContent))
	}

	base := b.linkBase(target)
	b.debug("converting to markdown", zap.String("base_url", base))
	md := b.converter.Convert(html, base)

	if b.cache.IsEnabled() {
		b.cache.Set(key, md)
		b.debug("cached markdown", zap.String("key", key))
	}
	b.logRequest(path, userAgent)
	return markdownResponse(md, false, decision.Reason)
}

// ShouldSkip reports whether req is one of the service's own outbound
// fetches. Requests that cannot be normalized are not skipped.
func ShouldSkip(req Request) bool {
	n, err := normalize(req)
	if err != nil {
		return false
	}
	return isInternal(n.headers)
}

// ClearCache drops every cached rendering.
func (b *Botmd) ClearCache() {
	b.cache.Clear()
	b.logger.Info("markdown cache cleared")
}

// CacheSize returns the number of cached renderings.
func (b *Botmd) CacheSize() int {
	return b.cache.Size()
}

// Config returns the resolved configuration.
func (b *Botmd) Config() ResolvedConfig {
	return b.cfg
}

// fetchTarget is the URL fetched for n. A configured FetchOrigin replaces
// the scheme and host the client supplied.
func (b *Botmd) fetchTarget(n normalizedRequest) (string, error) {
	raw := n.url
	if b.cfg.TrustForwardedProto && n.forwardedProto != "" {
		raw = withScheme(raw, n.forwardedProto)
	}
	if b.cfg.FetchOrigin == "" {
		return raw, nil
	}
	pq, err := pathAndQuery(raw)
	if err != nil {
		return "", err
	}
	return b.cfg.FetchOrigin + pq, nil
}

// linkBase is the origin relative links resolve against.
func (b *Botmd) linkBase(target string) string {
	if b.cfg.PublicOrigin != "" {
		return b.cfg.PublicOrigin
	}
	return origin(target)
}

func isInternal(headers map[string]string) bool {
	return headers[fetcher.InternalHeader] == fetcher.InternalHeaderValue ||
		headers[strings.ToLower(fetcher.InternalHeader)] == fetcher.InternalHeaderValue
}

func (b *Botmd) debug(msg string, fields ...zap.Field) {
	if b.cfg.Debug {
		b.logger.Debug(msg, fields...)
	}
}

func (b *Botmd) logRequest(path, userAgent string) {
	if !b.cfg.LogRequests {
		return
	}
	b.logger.Info("bot request",
		zap.String("timestamp", b.clock.Now().UTC().Format(isoMillis)),
		zap.String("path", path),
		zap.String("user_agent", userAgent),
	)
}

func (b *Botmd) errorResponse(err error) Response {
	if b.cfg.Debug {
		b.logger.Warn("botmd request failed", zap.Error(err))
	} else {
		b.logger.Warn("botmd request failed", zap.String("error", err.Error()))
	}
	return Response{
		Headers: map[string]string{},
		Outcome: OutcomeError,
		Error:   err,
	}
}

func emptyResponse(outcome Outcome) Response {
	return Response{Headers: map[string]string{}, Outcome: outcome}
}

func markdownResponse(md string, cached bool, reason detector.Reason) Response {
	state := "miss"
	outcome := OutcomeConverted
	if cached {
		state = "hit"
		outcome = OutcomeCacheHit
	}
	return Response{
		IsBot:   true,
		Content: md,
		Headers: map[string]string{
			"Content-Type": ContentTypeMarkdown,
			CacheHeader:    state,
		},
		ShouldConvert: true,
		Cached:        cached,
		Reason:        string(reason),
		Outcome:       outcome,
	}
}
