package botmd

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrInvalidRequest reports a request value that cannot be normalized.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one of the closed set of inputs CreateResponse accepts:
// FromHTTP, URLRequest, or ProxiedRequest.
type Request interface {
	normalize() (normalizedRequest, error)
}

type normalizedRequest struct {
	url     string
	headers map[string]string
	// forwardedProto is the first X-Forwarded-Proto value, applied only when
	// the deployment trusts it.
	forwardedProto string
}

func (n normalizedRequest) header(name string) string {
	return n.headers[strings.ToLower(name)]
}

// FromHTTP adapts a server-side *http.Request.
func FromHTTP(r *http.Request) Request {
	return httpRequest{r: r}
}

type httpRequest struct {
	r *http.Request
}

func (h httpRequest) normalize() (normalizedRequest, error) {
	if h.r == nil || h.r.URL == nil {
		return normalizedRequest{}, errors.New("nil *http.Request")
	}
	scheme := "http"
	if h.r.TLS != nil {
		scheme = "https"
	}
	var forwarded string
	if proto := h.r.Header.Get("X-Forwarded-Proto"); proto != "" {
		forwarded = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	host := h.r.Host
	if host == "" {
		host = h.r.URL.Host
	}
	if host == "" {
		host = "localhost"
	}
	return normalizedRequest{
		url:            scheme + "://" + host + h.r.URL.RequestURI(),
		headers:        firstValues(h.r.Header),
		forwardedProto: forwarded,
	}, nil
}

// URLRequest carries an absolute URL and a flat header map.
type URLRequest struct {
	URL     string
	Headers map[string]string
}

func (u URLRequest) normalize() (normalizedRequest, error) {
	if u.URL == "" {
		return normalizedRequest{}, errors.New("empty url")
	}
	headers := make(map[string]string, len(u.Headers))
	for k, v := range u.Headers {
		headers[strings.ToLower(k)] = v
	}
	return normalizedRequest{url: u.URL, headers: headers}, nil
}

// ProxiedRequest describes a request as seen by a framework that splits the
// URL into protocol, host, and path. Protocol defaults to http, Host to the
// host header or localhost, and the path to OriginalURL, then Path, then "/".
type ProxiedRequest struct {
	Protocol    string
	Host        string
	OriginalURL string
	Path        string
	Headers     map[string][]string
}

func (p ProxiedRequest) normalize() (normalizedRequest, error) {
	if p.Host == "" && p.OriginalURL == "" && p.Path == "" && len(p.Headers) == 0 {
		return normalizedRequest{}, errors.New("empty proxied request")
	}
	headers := firstValues(p.Headers)

	protocol := strings.TrimSuffix(p.Protocol, ":")
	if protocol == "" {
		protocol = "http"
	}
	host := p.Host
	if host == "" {
		host = headers["host"]
	}
	if host == "" {
		host = "localhost"
	}
	path := p.OriginalURL
	if path == "" {
		path = p.Path
	}
	if path == "" {
		path = "/"
	}
	return normalizedRequest{url: protocol + "://" + host + path, headers: headers}, nil
}

// normalize resolves req or reports ErrInvalidRequest.
func normalize(req Request) (normalizedRequest, error) {
	if req == nil {
		return normalizedRequest{}, ErrInvalidRequest
	}
	n, err := req.normalize()
	if err != nil {
		return normalizedRequest{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return n, nil
}

func firstValues(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

// requestPath is the path component used for rule matching.
func requestPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		path, _, _ := strings.Cut(raw, "?")
		return path
	}
	if p := u.EscapedPath(); p != "" {
		return p
	}
	if u.Host != "" {
		return "/"
	}
	return ""
}

// cacheKey is path plus query, optionally prefixed by host.
func cacheKey(raw string, withHost bool) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	key := requestPath(raw)
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	if withHost {
		key = strings.ToLower(u.Host) + key
	}
	return key
}

// pathAndQuery is the escaped path, always rooted, plus "?query" when present.
func pathAndQuery(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	p := u.EscapedPath()
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p, nil
}

// withScheme swaps the scheme of an absolute URL.
func withScheme(raw, scheme string) string {
	if scheme != "http" && scheme != "https" {
		return raw
	}
	if i := strings.Index(raw, "://"); i > 0 {
		return scheme + raw[i:]
	}
	return raw
}

// origin is scheme://host, or "" when raw is not absolute.
func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
