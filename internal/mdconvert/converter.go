// Package mdconvert turns fetched HTML into Markdown for agent consumption.
//
// Three engines are available. The regex engine is the default: a fixed,
// ordered set of text rewrites that never builds a DOM and is fully
// deterministic. The dom engine parses the document and renders it with
// html-to-markdown for pages where nesting matters more than speed. The
// readability engine first isolates the main article, then renders it like
// the dom engine.
//
// Every engine is total: on internal failure it returns the input unchanged.
package mdconvert

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/botmd/internal/metrics"
)

// Engine names accepted by New.
const (
	EngineRegex       = "regex"
	EngineDOM         = "dom"
	EngineReadability = "readability"
)

// ErrUnknownEngine is returned by New for an unrecognised engine name.
var ErrUnknownEngine = errors.New("unknown converter engine")

// Converter renders HTML as Markdown, resolving links against baseURL.
type Converter interface {
	Name() string
	Convert(html, baseURL string) string
}

// New returns the converter registered under engine. An empty name selects the regex engine.
func New(engine string, logger *zap.Logger) (Converter, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineRegex:
		return NewRegexConverter(logger), nil
	case EngineDOM:
		return NewDOMConverter(logger), nil
	case EngineReadability:
		return NewReadabilityConverter(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}

// Timed wraps a converter so each call is recorded in the conversion histogram.
func Timed(c Converter) Converter {
	return timedConverter{next: c}
}

type timedConverter struct {
	next Converter
}

func (t timedConverter) Name() string { return t.next.Name() }

func (t timedConverter) Convert(html, baseURL string) string {
	start := time.Now()
	out := t.next.Convert(html, baseURL)
	metrics.ObserveConversion(t.next.Name(), time.Since(start))
	return out
}

// absoluteURL resolves ref against base. Absolute http(s) URLs pass through,
// protocol-relative URLs take the base scheme, and anything that fails to
// parse falls back to joining the two strings with a single slash.
func absoluteURL(ref, base string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		if strings.HasPrefix(base, "https") {
			return "https:" + ref
		}
		return "http:" + ref
	}
	if b, err := url.Parse(base); err == nil && b.IsAbs() {
		if r, err := url.Parse(ref); err == nil {
			return b.ResolveReference(r).String()
		}
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(ref, "/")
}
