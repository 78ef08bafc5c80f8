// Package urlguard rejects outbound URLs that point at internal or private
// network targets. Decisions are made from the hostname text alone; no DNS
// lookups are performed, so a public name resolving to a private address is
// not caught here.
package urlguard

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrInvalidURL marks URLs that cannot be parsed or use an unsupported scheme.
	ErrInvalidURL = errors.New("invalid url")
	// ErrSSRFRejected marks URLs aimed at private, loopback, or internal hosts.
	ErrSSRFRejected = errors.New("url targets a private or internal address")
)

var blockedHostnames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
}

var loopbackIPv4 = regexp.MustCompile(`^127\.`)

var privateIPv4 = []*regexp.Regexp{
	regexp.MustCompile(`^10\.`),
	regexp.MustCompile(`^172\.(1[6-9]|2[0-9]|3[0-1])\.`),
	regexp.MustCompile(`^192\.168\.`),
	regexp.MustCompile(`^169\.254\.`),
	regexp.MustCompile(`^0\.`),
}

// Validate returns nil when rawURL may be fetched. allowLocalhost exempts the
// localhost names and 127.0.0.0/8; every other private range stays blocked.
func Validate(rawURL string, allowLocalhost bool) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if err := checkHost(host, allowLocalhost); err != nil {
		return fmt.Errorf("%w: %s", err, host)
	}
	return nil
}

func checkHost(host string, allowLocalhost bool) error {
	if !allowLocalhost {
		if _, blocked := blockedHostnames[host]; blocked {
			return ErrSSRFRejected
		}
	}
	if strings.Contains(host, ":") {
		return checkIPv6(host, allowLocalhost)
	}
	return checkIPv4(host, allowLocalhost)
}

func checkIPv4(host string, allowLocalhost bool) error {
	if loopbackIPv4.MatchString(host) {
		if allowLocalhost {
			return nil
		}
		return ErrSSRFRejected
	}
	for _, re := range privateIPv4 {
		if re.MatchString(host) {
			return ErrSSRFRejected
		}
	}
	return nil
}

func checkIPv6(host string, allowLocalhost bool) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// Not a literal we understand; refuse rather than guess.
		return ErrSSRFRejected
	}
	if addr.Is4In6() {
		return checkIPv4(addr.Unmap().String(), allowLocalhost)
	}
	addr = addr.WithZone("")
	switch {
	case addr.IsLoopback(),
		addr.IsUnspecified(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsPrivate():
		return ErrSSRFRejected
	}
	return nil
}
