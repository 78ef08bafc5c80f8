package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := botmdRequestsTotal
	Init()
	require.NotNil(t, first)
	require.Same(t, first, botmdRequestsTotal)
}

func TestObserveRequest(t *testing.T) {
	Init()
	before := testutil.ToFloat64(botmdRequestsTotal.WithLabelValues("converted"))
	ObserveRequest("converted")
	ObserveRequest("converted")
	require.InDelta(t, before+2, testutil.ToFloat64(botmdRequestsTotal.WithLabelValues("converted")), 0.0001)
}

func TestObserveCacheLookup(t *testing.T) {
	Init()
	hits := testutil.ToFloat64(botmdCacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(botmdCacheLookupsTotal.WithLabelValues("miss"))
	ObserveCacheLookup(true)
	ObserveCacheLookup(false)
	ObserveCacheLookup(false)
	require.InDelta(t, hits+1, testutil.ToFloat64(botmdCacheLookupsTotal.WithLabelValues("hit")), 0.0001)
	require.InDelta(t, misses+2, testutil.ToFloat64(botmdCacheLookupsTotal.WithLabelValues("miss")), 0.0001)
}

func TestObserveFetch(t *testing.T) {
	Init()
	attempts := testutil.ToFloat64(botmdFetchAttemptsTotal.WithLabelValues("timeout"))
	bytes := testutil.ToFloat64(botmdFetchBytesTotal)
	ObserveFetchAttempt("timeout")
	ObserveFetchBytes(512)
	ObserveFetchBytes(0)
	require.InDelta(t, attempts+1, testutil.ToFloat64(botmdFetchAttemptsTotal.WithLabelValues("timeout")), 0.0001)
	require.InDelta(t, bytes+512, testutil.ToFloat64(botmdFetchBytesTotal), 0.0001)
}

func TestObserveConversion(t *testing.T) {
	Init()
	ObserveConversion("regex", 3*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(botmdConversionSeconds))
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveRequest("not_bot")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "botmd_requests_total")
}

func TestObserveRateLimitDelay(t *testing.T) {
	Init()
	ObserveRateLimitDelay(120 * time.Millisecond)
	require.Equal(t, 1, testutil.CollectAndCount(botmdRateLimitDelaySeconds))
}
