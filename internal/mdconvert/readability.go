package mdconvert

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
)

// fallbackPageURL stands in when the caller has no absolute base URL.
var fallbackPageURL = &url.URL{Scheme: "http", Host: "localhost", Path: "/"}

// ReadabilityConverter extracts the main article with go-readability and
// renders it with the DOM engine. Pages without a recognisable article are
// rendered whole.
type ReadabilityConverter struct {
	dom    *DOMConverter
	logger *zap.Logger
}

// NewReadabilityConverter returns the article-extracting engine.
func NewReadabilityConverter(logger *zap.Logger) *ReadabilityConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadabilityConverter{dom: NewDOMConverter(logger), logger: logger}
}

// Name implements Converter.
func (*ReadabilityConverter) Name() string { return EngineReadability }

// Convert implements Converter.
func (c *ReadabilityConverter) Convert(src, baseURL string) string {
	if src == "" {
		return ""
	}
	if article := c.extract(src, baseURL); article != "" {
		return c.dom.Convert(article, baseURL)
	}
	return c.dom.Convert(src, baseURL)
}

// extract returns the article HTML, or "" when readability finds nothing.
func (c *ReadabilityConverter) extract(src, baseURL string) (content string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("readability panicked, converting full document",
				zap.String("panic", fmt.Sprint(r)))
			content = ""
		}
	}()

	pageURL, err := url.Parse(baseURL)
	if err != nil || !pageURL.IsAbs() || pageURL.Host == "" {
		pageURL = fallbackPageURL
	}
	article, err := readability.FromReader(strings.NewReader(src), pageURL)
	if err != nil {
		c.logger.Debug("readability extraction failed, converting full document", zap.Error(err))
		return ""
	}
	body := strings.TrimSpace(article.Content)
	if body == "" {
		return ""
	}
	if title := strings.TrimSpace(article.Title); title != "" && !strings.Contains(body, html.EscapeString(title)) {
		body = "<h1>" + html.EscapeString(title) + "</h1>" + body
	}
	return body
}
