package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProxy_ForwardsToUpstream(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Forwarded-Host", r.Header.Get("X-Forwarded-Host"))
		_, _ = io.WriteString(w, r.URL.RequestURI())
	}))
	t.Cleanup(upstream.Close)

	proxy, err := NewProxy(upstream.URL, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://public.example/docs?page=2", nil)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "/docs?page=2", rec.Body.String())
	require.Equal(t, "public.example", rec.Header().Get("X-Seen-Forwarded-Host"))
}

func TestNewProxy_UpstreamDown(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	proxy, err := NewProxy(addr, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "upstream unavailable")
}

func TestNewProxy_RejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "example.com", "ftp://example.com", "http://", "://bad"} {
		_, err := NewProxy(raw, nil)
		require.Error(t, err, raw)
	}
}
