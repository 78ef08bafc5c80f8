package botmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/botmd/internal/cache"
	"github.com/JakeFAU/botmd/internal/detector"
	"github.com/JakeFAU/botmd/internal/fetcher"
	"github.com/JakeFAU/botmd/internal/mdconvert"
	"github.com/JakeFAU/botmd/pkg/pattern"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid botmd config")

// ConfigError names the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Config is the caller-facing configuration. Every field is optional; nil
// pointers and zero values take the documented defaults.
type Config struct {
	Enabled    *bool
	Paths      pattern.RuleSet
	UserAgents pattern.RuleSet
	Cache      CacheConfig
	Fetch      FetchConfig

	// BotCatalog replaces the built-in agent signatures when non-nil.
	BotCatalog []pattern.Pattern
	// Converter selects the Markdown engine: "regex" (default), "dom" or
	// "readability".
	Converter string
	// CacheKeyIncludesHost prefixes cache keys with the request host so
	// multi-origin deployments do not share entries.
	CacheKeyIncludesHost bool

	// FetchOrigin pins every fetch to this absolute http(s) URL. The request
	// path and query are appended to it (after its own path, if any), so the
	// client's Host and scheme never choose what gets fetched and cached.
	FetchOrigin string
	// PublicOrigin is the base relative links resolve against. Unset, it is
	// the origin of FetchOrigin when that is set, else the request's origin.
	PublicOrigin string
	// TrustForwardedProto lets X-Forwarded-Proto choose the scheme of
	// requests adapted with FromHTTP. Enable it only behind a proxy that
	// overwrites the header.
	TrustForwardedProto bool

	LogRequests bool
	Debug       bool
	Logger      *zap.Logger
}

// CacheConfig tunes the Markdown cache.
type CacheConfig struct {
	Enabled *bool
	TTL     *time.Duration
	MaxSize *int
}

// FetchConfig tunes the upstream fetch.
type FetchConfig struct {
	Timeout        time.Duration
	MaxBytes       int64
	MaxRetries     *int
	RetryBaseDelay time.Duration
	AllowLocalhost bool
	UserAgent      string
	// RateLimit caps fetches per second per upstream host; zero disables it.
	RateLimit float64
	// RateBurst is the token bucket size; values below one mean one.
	RateBurst int
}

// ResolvedConfig is Config with every default applied and every field validated.
type ResolvedConfig struct {
	Enabled              bool
	Paths                pattern.RuleSet
	UserAgents           pattern.RuleSet
	Cache                ResolvedCacheConfig
	Fetch                ResolvedFetchConfig
	BotCatalog           []pattern.Pattern
	Converter            string
	CacheKeyIncludesHost bool
	FetchOrigin          string
	PublicOrigin         string
	TrustForwardedProto  bool
	LogRequests          bool
	Debug                bool
}

// ResolvedCacheConfig is the effective cache configuration.
type ResolvedCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	MaxSize int
}

// ResolvedFetchConfig is the effective fetch configuration.
type ResolvedFetchConfig struct {
	Timeout        time.Duration
	MaxBytes       int64
	MaxRetries     int
	RetryBaseDelay time.Duration
	AllowLocalhost bool
	UserAgent      string
	RateLimit      float64
	RateBurst      int
}

// Bool returns a pointer to b, for optional Config fields.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Duration returns a pointer to d.
func Duration(d time.Duration) *time.Duration { return &d }

// Resolve validates cfg and fills in defaults.
func (cfg Config) Resolve() (ResolvedConfig, error) {
	rc := ResolvedConfig{
		Enabled:    valueOr(cfg.Enabled, true),
		Paths:      cfg.Paths.Clone(),
		UserAgents: cfg.UserAgents.Clone(),
		Cache: ResolvedCacheConfig{
			Enabled: valueOr(cfg.Cache.Enabled, true),
			TTL:     valueOr(cfg.Cache.TTL, cache.DefaultTTL),
			MaxSize: valueOr(cfg.Cache.MaxSize, cache.DefaultMaxSize),
		},
		Fetch: ResolvedFetchConfig{
			Timeout:        cfg.Fetch.Timeout,
			MaxBytes:       cfg.Fetch.MaxBytes,
			MaxRetries:     valueOr(cfg.Fetch.MaxRetries, fetcher.DefaultMaxRetries),
			RetryBaseDelay: cfg.Fetch.RetryBaseDelay,
			AllowLocalhost: cfg.Fetch.AllowLocalhost,
			UserAgent:      cfg.Fetch.UserAgent,
			RateLimit:      cfg.Fetch.RateLimit,
			RateBurst:      cfg.Fetch.RateBurst,
		},
		Converter:            cfg.Converter,
		CacheKeyIncludesHost: cfg.CacheKeyIncludesHost,
		TrustForwardedProto:  cfg.TrustForwardedProto,
		LogRequests:          cfg.LogRequests,
		Debug:                cfg.Debug,
	}

	if rc.Cache.TTL < 0 {
		return ResolvedConfig{}, &ConfigError{Field: "cache.ttl", Reason: "must be non-negative"}
	}
	if rc.Cache.MaxSize < 1 {
		return ResolvedConfig{}, &ConfigError{Field: "cache.max_size", Reason: "must be a positive integer"}
	}

	switch {
	case rc.Fetch.Timeout < 0:
		return ResolvedConfig{}, &ConfigError{Field: "fetch.timeout", Reason: "must be non-negative"}
	case rc.Fetch.MaxBytes < 0:
		return ResolvedConfig{}, &ConfigError{Field: "fetch.max_bytes", Reason: "must be non-negative"}
	case rc.Fetch.MaxRetries < 0:
		return ResolvedConfig{}, &ConfigError{Field: "fetch.max_retries", Reason: "must be non-negative"}
	case rc.Fetch.RetryBaseDelay < 0:
		return ResolvedConfig{}, &ConfigError{Field: "fetch.retry_base_delay", Reason: "must be non-negative"}
	case rc.Fetch.RateLimit < 0:
		return ResolvedConfig{}, &ConfigError{Field: "fetch.rate_limit", Reason: "must be non-negative"}
	}
	if rc.Fetch.Timeout == 0 {
		rc.Fetch.Timeout = fetcher.DefaultTimeout
	}
	if rc.Fetch.MaxBytes == 0 {
		rc.Fetch.MaxBytes = fetcher.DefaultMaxBytes
	}
	if rc.Fetch.RetryBaseDelay == 0 {
		rc.Fetch.RetryBaseDelay = fetcher.DefaultRetryBaseDelay
	}
	if rc.Fetch.UserAgent == "" {
		rc.Fetch.UserAgent = fetcher.DefaultUserAgent
	}
	if rc.Fetch.RateBurst < 1 {
		rc.Fetch.RateBurst = 1
	}

	for _, group := range []struct {
		field string
		list  []pattern.Pattern
	}{
		{"paths.allowed", rc.Paths.Allowed},
		{"paths.disallowed", rc.Paths.Disallowed},
		{"user_agents.allowed", rc.UserAgents.Allowed},
		{"user_agents.disallowed", rc.UserAgents.Disallowed},
		{"bot_catalog", cfg.BotCatalog},
	} {
		if err := checkPatterns(group.field, group.list); err != nil {
			return ResolvedConfig{}, err
		}
	}
	if cfg.BotCatalog != nil {
		rc.BotCatalog = append(make([]pattern.Pattern, 0, len(cfg.BotCatalog)), cfg.BotCatalog...)
	} else {
		rc.BotCatalog = detector.DefaultCatalog()
	}

	var err error
	if rc.FetchOrigin, err = baseURL("fetch_origin", cfg.FetchOrigin); err != nil {
		return ResolvedConfig{}, err
	}
	if rc.PublicOrigin, err = baseURL("public_origin", cfg.PublicOrigin); err != nil {
		return ResolvedConfig{}, err
	}
	rc.PublicOrigin = origin(rc.PublicOrigin)

	conv, err := mdconvert.New(rc.Converter, nil)
	if err != nil {
		return ResolvedConfig{}, &ConfigError{Field: "converter", Reason: err.Error()}
	}
	rc.Converter = conv.Name()
	return rc, nil
}

// baseURL validates an optional absolute http(s) URL and strips any trailing
// slash. Query strings, fragments and credentials are refused.
func baseURL(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return "", &ConfigError{Field: field, Reason: err.Error()}
	case u.Scheme != "http" && u.Scheme != "https":
		return "", &ConfigError{Field: field, Reason: "must be an absolute http(s) URL"}
	case u.Host == "":
		return "", &ConfigError{Field: field, Reason: "missing host"}
	case u.User != nil, u.RawQuery != "", u.Fragment != "":
		return "", &ConfigError{Field: field, Reason: "must not carry credentials, query or fragment"}
	}
	return u.Scheme + "://" + u.Host + strings.TrimSuffix(u.EscapedPath(), "/"), nil
}

func checkPatterns(field string, list []pattern.Pattern) error {
	for i, p := range list {
		if p.IsZero() {
			return &ConfigError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: "empty pattern"}
		}
	}
	return nil
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
