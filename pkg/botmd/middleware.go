package botmd

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Middleware serves Markdown to classified agents and passes everything
// else to next unchanged. Only GET and HEAD are considered; a pipeline error
// falls through to next so the caller still gets the HTML page.
func (b *Botmd) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		resp := b.CreateResponse(r.Context(), FromHTTP(r))
		if !resp.ShouldConvert {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		for k, v := range resp.Headers {
			h.Set(k, v)
		}
		h.Set("Vary", "Accept, User-Agent")
		etag := b.hasher.ETag([]byte(resp.Content))
		h.Set("ETag", etag)

		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		h.Set("Content-Length", strconv.Itoa(len(resp.Content)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.WriteString(w, resp.Content); err != nil {
			b.logger.Debug("write markdown response", zap.Error(err))
		}
	})
}

// etagMatches applies weak comparison against an If-None-Match list.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
