package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/botmd/internal/config"
	"github.com/JakeFAU/botmd/internal/mdconvert"
)

const gptBot = "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.2; +https://openai.com/gptbot)"

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConvert_FromStdin(t *testing.T) {
	t.Parallel()

	out, err := execute(t, `<h1>Hi</h1><p><a href="/x">x</a></p>`, "convert", "--base-url", "https://example.com")
	require.NoError(t, err)
	require.Contains(t, out, "# Hi")
	require.Contains(t, out, "[x](https://example.com/x)")
}

func TestConvert_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<h2>From file</h2>"), 0o600))

	out, err := execute(t, "", "convert", path)
	require.NoError(t, err)
	require.Contains(t, out, "## From file")
}

func TestConvert_DOMEngine(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "<h1>Title</h1><script>x()</script>", "convert", "--engine", "dom")
	require.NoError(t, err)
	require.Contains(t, out, "Title")
	require.NotContains(t, out, "x()")
}

func TestConvert_Errors(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "", "convert", "--engine", "pandoc")
	require.ErrorIs(t, err, mdconvert.ErrUnknownEngine)

	_, err = execute(t, "", "convert", filepath.Join(t.TempDir(), "missing.html"))
	require.ErrorContains(t, err, "open input")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "botmd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
botmd:
  paths:
    disallowed: ["/admin/**"]
  user_agents:
    disallowed: ["regex:(?i)badbot"]
`), 0o600))

	tests := []struct {
		name string
		args []string
		want classification
	}{
		{
			name: "catalog bot",
			args: []string{"--user-agent", gptBot},
			want: classification{IsBot: true, Reason: "catalog-match", Path: "/", PathRule: "default", WouldConvert: true},
		},
		{
			name: "markdown accept",
			args: []string{"--accept", "text/markdown", "--path", "/docs"},
			want: classification{IsBot: true, Reason: "accept-markdown", Path: "/docs", PathRule: "default", WouldConvert: true},
		},
		{
			name: "browser",
			args: []string{"--user-agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0"},
			want: classification{Reason: "no-match", Path: "/", PathRule: "default"},
		},
		{
			name: "disallowed agent",
			args: []string{"--user-agent", "BadBot/1.0"},
			want: classification{Reason: "user-agent-disallowed", Path: "/", PathRule: "default"},
		},
		{
			name: "disallowed path",
			args: []string{"--user-agent", gptBot, "--path", "/admin/users"},
			want: classification{IsBot: true, Reason: "catalog-match", Path: "/admin/users", PathRule: "disallowed"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := execute(t, "", append([]string{"classify", "--config", cfgPath}, tc.args...)...)
			require.NoError(t, err)
			var got classification
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRoot_BadConfigFile(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "", "classify", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestBuildHandler_RequiresUpstream(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	_, err = buildHandler(cfg, zap.NewNop())
	require.ErrorContains(t, err, "upstream_url")
}

func TestServe_ProxiesAndShutsDown(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "upstream:"+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.UpstreamURL = upstream.URL
	cfg.Server.ShutdownTimeout = time.Second

	handler, err := buildHandler(cfg, zap.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, handler, cfg.Server, zap.NewNop()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/hello")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "upstream:/hello", string(body))
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestBuildHandler_BotsAlwaysGetUpstreamPage(t *testing.T) {
	t.Parallel()

	legit := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<h1>Legit</h1>")
	}))
	t.Cleanup(legit.Close)
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<h1>Other</h1>")
	}))
	t.Cleanup(other.Close)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.UpstreamURL = legit.URL
	cfg.Server.PublicURL = "https://www.example.com"
	cfg.Botmd.Fetch.AllowLocalhost = true

	handler, err := buildHandler(cfg, zap.NewNop())
	require.NoError(t, err)

	get := func(host string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/page", nil)
		req.Host = host
		req.Header.Set("User-Agent", gptBot)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := get(strings.TrimPrefix(other.URL, "http://"))
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "# Legit", first.Body.String())
	require.Equal(t, "miss", first.Header().Get("X-Botmd-Cache"))

	second := get("www.example.com")
	require.Equal(t, "# Legit", second.Body.String())
	require.Equal(t, "hit", second.Header().Get("X-Botmd-Cache"))
}

func TestServe_ListenerError(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = serve(context.Background(), ln, http.NotFoundHandler(), config.ServerConfig{}, zap.NewNop())
	require.Error(t, err)
	require.False(t, errors.Is(err, http.ErrServerClosed))
}
