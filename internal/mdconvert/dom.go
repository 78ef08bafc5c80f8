package mdconvert

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// nonContentSelector matches elements dropped before rendering.
const nonContentSelector = "script, style, noscript, nav, footer, header, aside, meta, link, title"

// DOMConverter parses the document and renders it with html-to-markdown.
type DOMConverter struct {
	logger *zap.Logger
}

// NewDOMConverter returns the DOM-based engine.
func NewDOMConverter(logger *zap.Logger) *DOMConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DOMConverter{logger: logger}
}

// Name implements Converter.
func (*DOMConverter) Name() string { return EngineDOM }

// Convert implements Converter.
func (c *DOMConverter) Convert(src, baseURL string) (out string) {
	if src == "" {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("dom conversion panicked, returning original input",
				zap.String("panic", fmt.Sprint(r)))
			out = src
		}
	}()

	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		c.logger.Warn("parse html failed, returning original input", zap.Error(err))
		return src
	}
	goquery.NewDocumentFromNode(root).Find(nonContentSelector).Remove()

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertNode(root, converter.WithDomain(baseURL))
	if err != nil {
		c.logger.Warn("render markdown failed, returning original input", zap.Error(err))
		return src
	}
	return strings.TrimSpace(string(md))
}
