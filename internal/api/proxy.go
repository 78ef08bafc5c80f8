package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/botmd/internal/telemetry"
)

// NewProxy returns a reverse proxy to upstream. The outbound Host header is
// the upstream's; the client's host travels in X-Forwarded-Host.
func NewProxy(upstream string, logger *zap.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("upstream url must be absolute http(s), got %q", upstream)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			telemetry.Inject(pr.In.Context(), pr.Out.Header)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, r.Context().Err()) {
				logger.Debug("client went away", zap.String("path", r.URL.Path), zap.Error(err))
				return
			}
			logger.Warn("upstream request failed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			writeError(w, http.StatusBadGateway, "upstream unavailable")
		},
	}, nil
}
