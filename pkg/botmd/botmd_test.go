package botmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/botmd/internal/clock"
	"github.com/JakeFAU/botmd/internal/fetcher"
	"github.com/JakeFAU/botmd/pkg/pattern"
)

const (
	gptBot   = "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.2; +https://openai.com/gptbot)"
	firefox  = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	pageHTML = "<h1>Title</h1><p>Hello <b>world</b></p>"
)

type fakeFetcher struct {
	mu    sync.Mutex
	html  string
	err   error
	calls []FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.html, f.err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingConverter struct {
	mu    sync.Mutex
	bases []string
}

func (*recordingConverter) Name() string { return "recording" }

func (c *recordingConverter) Convert(html, baseURL string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bases = append(c.bases, baseURL)
	return "md(" + html + ")"
}

type panickingConverter struct{}

func (panickingConverter) Name() string { return "panic" }

func (panickingConverter) Convert(string, string) string { panic("boom") }

func newTestBotmd(t *testing.T, cfg Config, f Fetcher, opts ...Option) *Botmd {
	t.Helper()
	b, err := New(cfg, append([]Option{WithFetcher(f)}, opts...)...)
	require.NoError(t, err)
	return b
}

func botRequest(url string) URLRequest {
	return URLRequest{URL: url, Headers: map[string]string{"User-Agent": gptBot}}
}

func TestCreateResponse_ConvertsThenServesFromCache(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{html: pageHTML}
	b := newTestBotmd(t, Config{}, f)

	resp := b.CreateResponse(context.Background(), botRequest("https://example.com/docs?v=1"))
	require.NoError(t, resp.Error)
	require.True(t, resp.IsBot)
	require.True(t, resp.ShouldConvert)
	require.False(t, resp.Cached)
	require.Equal(t, OutcomeConverted, resp.Outcome)
	require.Equal(t, "catalog-match", resp.Reason)
	require.Equal(t, "# Title\n\nHello **world**", resp.Content)
	require.Equal(t, map[string]string{
		"Content-Type":  "text/markdown; charset=utf-8",
		"X-Botmd-Cache": "miss",
	}, resp.Headers)

	again := b.CreateResponse(context.Background(), botRequest("https://example.com/docs?v=1"))
	require.True(t, again.Cached)
	require.Equal(t, OutcomeCacheHit, again.Outcome)
	require.Equal(t, "hit", again.Headers["X-Botmd-Cache"])
	require.Equal(t, resp.Content, again.Content)
	require.Equal(t, 1, f.count())
	require.Equal(t, 1, b.CacheSize())
}

func TestCreateResponse_PassesFetchSettings(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{html: pageHTML}
	b := newTestBotmd(t, Config{
		Fetch: FetchConfig{Timeout: 3 * time.Second, MaxBytes: 2048, AllowLocalhost: true},
	}, f)

	b.CreateResponse(context.Background(), botRequest("http://127.0.0.1:8080/a?b=c"))
	require.Equal(t, 1, f.count())
	require.Equal(t, FetchRequest{
		URL:            "http://127.0.0.1:8080/a?b=c",
		AllowLocalhost: true,
		Timeout:        3 * time.Second,
		MaxBytes:       2048,
	}, f.calls[0])
}

func TestCreateResponse_ConverterGetsOrigin(t *testing.T) {
	t.Parallel()

	conv := &recordingConverter{}
	b := newTestBotmd(t, Config{}, &fakeFetcher{html: "<p>x</p>"}, WithConverter(conv))

	resp := b.CreateResponse(context.Background(), botRequest("https://example.com:8443/deep/page?q=1"))
	require.Equal(t, "md(<p>x</p>)", resp.Content)
	require.Equal(t, []string{"https://example.com:8443"}, conv.bases)
}

func TestCreateResponse_FetchOriginIgnoresClientHost(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{html: `<p><a href="/next">next</a></p>`}
	conv := &recordingConverter{}
	b := newTestBotmd(t, Config{
		FetchOrigin:          "http://127.0.0.1:3000",
		PublicOrigin:         "https://www.example.com",
		Fetch:                FetchConfig{AllowLocalhost: true},
		CacheKeyIncludesHost: true,
	}, f, WithConverter(conv))

	for _, host := range []string{"attacker.example", "www.example.com"} {
		r := httptest.NewRequest(http.MethodGet, "http://"+host+"/docs/a%20b?x=1", nil)
		r.Header.Set("User-Agent", gptBot)
		resp := b.CreateResponse(context.Background(), FromHTTP(r))
		require.NoError(t, resp.Error)
		require.True(t, resp.ShouldConvert)
	}

	require.Equal(t, 1, f.count(), "second host must hit the entry the first one stored")
	require.Equal(t, "http://127.0.0.1:3000/docs/a%20b?x=1", f.calls[0].URL)
	require.Equal(t, []string{"https://www.example.com"}, conv.bases)
}

func TestCreateResponse_FetchOriginKeepsPathPrefix(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{html: pageHTML}
	conv := &recordingConverter{}
	b := newTestBotmd(t, Config{FetchOrigin: "https://upstream.example/site/"}, f, WithConverter(conv))

	b.CreateResponse(context.Background(), botRequest("http://public.example/page"))
	require.Equal(t, 1, f.count())
	require.Equal(t, "https://upstream.example/site/page", f.calls[0].URL)
	require.Equal(t, []string{"https://upstream.example"}, conv.bases)
}

func TestCreateResponse_ForwardedProtoNeedsTrust(t *testing.T) {
	t.Parallel()

	newReq := func() Request {
		r := httptest.NewRequest(http.MethodGet, "http://edge.example/y", nil)
		r.Header.Set("User-Agent", gptBot)
		r.Header.Set("X-Forwarded-Proto", "https")
		return FromHTTP(r)
	}

	f := &fakeFetcher{html: pageHTML}
	newTestBotmd(t, Config{}, f).CreateResponse(context.Background(), newReq())
	require.Equal(t, "http://edge.example/y", f.calls[0].URL)

	trusted := &fakeFetcher{html: pageHTML}
	newTestBotmd(t, Config{TrustForwardedProto: true}, trusted).CreateResponse(context.Background(), newReq())
	require.Equal(t, "https://edge.example/y", trusted.calls[0].URL)
}

func TestCreateResponse_AcceptMarkdownWithoutBotUserAgent(t *testing.T) {
	t.Parallel()

	b := newTestBotmd(t, Config{}, &fakeFetcher{html: pageHTML})
	resp := b.CreateResponse(context.Background(), URLRequest{
		URL:     "https://example.com/",
		Headers: map[string]string{"User-Agent": firefox, "Accept": "text/markdown, text/html;q=0.8"},
	})
	require.True(t, resp.IsBot)
	require.Equal(t, "accept-markdown", resp.Reason)
}

func TestCreateResponse_EmptyResponses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		req     Request
		outcome Outcome
	}{
		{
			name:    "disabled",
			cfg:     Config{Enabled: Bool(false)},
			req:     botRequest("https://example.com/"),
			outcome: OutcomeDisabled,
		},
		{
			name: "internal request",
			req: URLRequest{URL: "https://example.com/", Headers: map[string]string{
				"User-Agent":       gptBot,
				"X-Botmd-Internal": "true",
			}},
			outcome: OutcomeInternal,
		},
		{
			name:    "disallowed path",
			cfg:     Config{Paths: pattern.RuleSet{Disallowed: []pattern.Pattern{pattern.Glob("/api/**")}}},
			req:     botRequest("https://example.com/api/users"),
			outcome: OutcomePathRejected,
		},
		{
			name:    "path outside allow list",
			cfg:     Config{Paths: pattern.RuleSet{Allowed: []pattern.Pattern{pattern.Glob("/docs/*")}}},
			req:     botRequest("https://example.com/blog/post"),
			outcome: OutcomePathRejected,
		},
		{
			name: "human",
			req: URLRequest{URL: "https://example.com/", Headers: map[string]string{
				"User-Agent": firefox,
			}},
			outcome: OutcomeNotBot,
		},
		{
			name: "disallowed agent",
			cfg: Config{UserAgents: pattern.RuleSet{
				Disallowed: []pattern.Pattern{pattern.Glob("gptbot")},
			}},
			req:     botRequest("https://example.com/"),
			outcome: OutcomeNotBot,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeFetcher{html: pageHTML}
			b := newTestBotmd(t, tc.cfg, f)
			resp := b.CreateResponse(context.Background(), tc.req)

			require.Equal(t, tc.outcome, resp.Outcome)
			require.False(t, resp.IsBot)
			require.False(t, resp.ShouldConvert)
			require.Empty(t, resp.Content)
			require.NotNil(t, resp.Headers)
			require.Empty(t, resp.Headers)
			require.NoError(t, resp.Error)
			require.Zero(t, f.count())
		})
	}
}

func TestCreateResponse_AllowedPathStillConverts(t *testing.T) {
	t.Parallel()

	b := newTestBotmd(t, Config{Paths: pattern.RuleSet{
		Allowed:    []pattern.Pattern{pattern.Glob("/docs/**")},
		Disallowed: []pattern.Pattern{pattern.Glob("/docs/private/**")},
	}}, &fakeFetcher{html: pageHTML})

	require.Equal(t, OutcomeConverted, b.CreateResponse(context.Background(), botRequest("https://example.com/docs/a/b")).Outcome)
	require.Equal(t, OutcomePathRejected, b.CreateResponse(context.Background(), botRequest("https://example.com/docs/private/x")).Outcome)
}

func TestCreateResponse_FetchErrorsAreAbsorbed(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{err: &fetcher.HTTPError{StatusCode: http.StatusBadGateway}}
	b := newTestBotmd(t, Config{}, f)

	resp := b.CreateResponse(context.Background(), botRequest("https://example.com/x"))
	require.Equal(t, OutcomeError, resp.Outcome)
	require.False(t, resp.IsBot)
	require.False(t, resp.ShouldConvert)
	require.Empty(t, resp.Content)
	require.NotNil(t, resp.Headers)

	var httpErr *HTTPError
	require.ErrorAs(t, resp.Error, &httpErr)
	require.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	require.Zero(t, b.CacheSize())
}

func TestCreateResponse_BlankBodyIsEmptyContent(t *testing.T) {
	t.Parallel()

	b := newTestBotmd(t, Config{}, &fakeFetcher{html: " \n\t "})
	resp := b.CreateResponse(context.Background(), botRequest("https://example.com/x"))
	require.ErrorIs(t, resp.Error, ErrEmptyContent)
	require.False(t, resp.IsBot)
}

func TestCreateResponse_InvalidRequest(t *testing.T) {
	t.Parallel()

	b := newTestBotmd(t, Config{}, &fakeFetcher{html: pageHTML})
	for _, req := range []Request{nil, URLRequest{}, ProxiedRequest{}, FromHTTP(nil)} {
		resp := b.CreateResponse(context.Background(), req)
		require.ErrorIs(t, resp.Error, ErrInvalidRequest)
		require.Equal(t, OutcomeError, resp.Outcome)
	}
}

func TestCreateResponse_ConverterPanicIsAbsorbed(t *testing.T) {
	t.Parallel()

	b := newTestBotmd(t, Config{}, &fakeFetcher{html: pageHTML}, WithConverter(panickingConverter{}))
	resp := b.CreateResponse(context.Background(), botRequest("https://example.com/"))
	require.Error(t, resp.Error)
	require.Contains(t, resp.Error.Error(), "boom")
	require.False(t, resp.IsBot)
}

func TestCreateResponse_CacheDisabledAlwaysFetches(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{html: pageHTML}
	b := newTestBotmd(t, Config{Cache: CacheConfig{Enabled: Bool(false)}}, f)

	for i := 0; i < 3; i++ {
		resp := b.CreateResponse(context.Background(), botRequest("https://example.com/"))
		require.Equal(t, "miss", resp.Headers["X-Botmd-Cache"])
	}
	require.Equal(t, 3, f.count())
	require.Zero(t, b.CacheSize())
}

func TestCreateResponse_CacheKeys(t *testing.T) {
	t.Parallel()

	t.Run("host ignored by default", func(t *testing.T) {
		t.Parallel()
		f := &fakeFetcher{html: pageHTML}
		b := newTestBotmd(t, Config{}, f)
		b.CreateResponse(context.Background(), botRequest("https://a.example/page"))
		resp := b.CreateResponse(context.Background(), botRequest("https://b.example/page"))
		require.True(t, resp.Cached)
		require.Equal(t, 1, f.count())
	})

	t.Run("host included when configured", func(t *testing.T) {
		t.Parallel()
		f := &fakeFetcher{html: pageHTML}
		b := newTestBotmd(t, Config{CacheKeyIncludesHost: true}, f)
		b.CreateResponse(context.Background(), botRequest("https://a.example/page"))
		resp := b.CreateResponse(context.Background(), botRequest("https://b.example/page"))
		require.False(t, resp.Cached)
		require.Equal(t, 2, f.count())
	})

	t.Run("query distinguishes entries", func(t *testing.T) {
		t.Parallel()
		f := &fakeFetcher{html: pageHTML}
		b := newTestBotmd(t, Config{}, f)
		b.CreateResponse(context.Background(), botRequest("https://a.example/page?x=1"))
		b.CreateResponse(context.Background(), botRequest("https://a.example/page?x=2"))
		require.Equal(t, 2, f.count())
		require.Equal(t, 2, b.CacheSize())
	})
}

func TestCreateResponse_LogsBotRequests(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	at := time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	b := newTestBotmd(t, Config{LogRequests: true, Logger: zap.New(core)},
		&fakeFetcher{html: pageHTML}, WithClock(clock.Fixed(at)))

	b.CreateResponse(context.Background(), botRequest("https://example.com/docs/intro?ref=x"))
	b.CreateResponse(context.Background(), URLRequest{
		URL:     "https://example.com/docs/intro",
		Headers: map[string]string{"User-Agent": firefox},
	})

	entries := logs.FilterMessage("bot request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "2025-01-02T03:04:05.006Z", fields["timestamp"])
	require.Equal(t, "/docs/intro", fields["path"])
	require.Equal(t, gptBot, fields["user_agent"])
}

func TestCreateResponse_NoRequestLogByDefault(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	b := newTestBotmd(t, Config{Logger: zap.New(core)}, &fakeFetcher{html: pageHTML})
	b.CreateResponse(context.Background(), botRequest("https://example.com/"))
	require.Zero(t, logs.FilterMessage("bot request").Len())
	require.Zero(t, logs.FilterMessage("processing request").Len())
}

func TestCreateResponse_DebugTraces(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	b := newTestBotmd(t, Config{Debug: true, Logger: zap.New(core)}, &fakeFetcher{html: pageHTML})
	b.CreateResponse(context.Background(), botRequest("https://example.com/"))
	require.Equal(t, 1, logs.FilterMessage("processing request").Len())
	require.Equal(t, 1, logs.FilterMessage("cache miss").Len())
}

func TestClearCache(t *testing.T) {
	t.Parallel()

	b := newTestBotmd(t, Config{}, &fakeFetcher{html: pageHTML})
	b.CreateResponse(context.Background(), botRequest("https://example.com/a"))
	b.CreateResponse(context.Background(), botRequest("https://example.com/b"))
	require.Equal(t, 2, b.CacheSize())

	b.ClearCache()
	require.Zero(t, b.CacheSize())
}

func TestShouldSkip(t *testing.T) {
	t.Parallel()

	require.True(t, ShouldSkip(URLRequest{URL: "https://e.com/", Headers: map[string]string{"x-botmd-internal": "true"}}))
	require.True(t, ShouldSkip(URLRequest{URL: "https://e.com/", Headers: map[string]string{"X-Botmd-Internal": "true"}}))
	require.False(t, ShouldSkip(URLRequest{URL: "https://e.com/", Headers: map[string]string{"X-Botmd-Internal": "yes"}}))
	require.False(t, ShouldSkip(URLRequest{URL: "https://e.com/"}))
	require.False(t, ShouldSkip(nil))

	r := httptest.NewRequest(http.MethodGet, "http://e.com/", nil)
	r.Header.Set("X-Botmd-Internal", "true")
	require.True(t, ShouldSkip(FromHTTP(r)))
}

func TestCreateResponse_RealFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Botmd-Internal") != "true" {
			http.Error(w, "missing internal header", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`<h1>Hi</h1><p><a href="/next">Next</a></p>`))
	}))
	t.Cleanup(srv.Close)

	b, err := New(Config{Fetch: FetchConfig{AllowLocalhost: true, MaxRetries: Int(0)}})
	require.NoError(t, err)

	resp := b.CreateResponse(context.Background(), botRequest(srv.URL+"/page"))
	require.NoError(t, resp.Error)
	require.Equal(t, "# Hi\n\n[Next]("+srv.URL+"/next)", resp.Content)
}

func TestCreateResponse_RealFetcherRejectsLoopback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<p>secret</p>"))
	}))
	t.Cleanup(srv.Close)

	b, err := New(Config{Fetch: FetchConfig{MaxRetries: Int(0)}})
	require.NoError(t, err)

	resp := b.CreateResponse(context.Background(), botRequest(srv.URL+"/page"))
	require.True(t, errors.Is(resp.Error, ErrSSRFRejected))
	require.False(t, resp.IsBot)
}
