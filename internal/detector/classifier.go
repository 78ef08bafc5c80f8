// Package detector decides whether a request comes from an automated agent.
package detector

import (
	"strings"

	"github.com/JakeFAU/botmd/pkg/pattern"
)

// MarkdownMediaType is the Accept value that opts a client into Markdown.
const MarkdownMediaType = "text/markdown"

// Reason explains a classification.
type Reason string

// Classification reasons.
const (
	ReasonAcceptMarkdown Reason = "accept-markdown"
	ReasonEmptyUserAgent Reason = "empty-user-agent"
	ReasonDisallowed     Reason = "user-agent-disallowed"
	ReasonAllowed        Reason = "user-agent-allowed"
	ReasonNotAllowed     Reason = "user-agent-not-allowed"
	ReasonCatalogMatch   Reason = "catalog-match"
	ReasonNoMatch        Reason = "no-match"
)

// Decision is the outcome of Classify.
type Decision struct {
	IsBot  bool
	Reason Reason
}

// Classifier applies user-agent rules with a built-in catalog fallback.
type Classifier struct {
	rules   pattern.RuleSet
	catalog []pattern.Pattern
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithCatalog replaces the built-in catalog. A nil catalog keeps the
// default; an empty one turns catalog matching off.
func WithCatalog(catalog []pattern.Pattern) Option {
	return func(c *Classifier) {
		if catalog != nil {
			c.catalog = append(make([]pattern.Pattern, 0, len(catalog)), catalog...)
		}
	}
}

// New builds a Classifier for the given user-agent rules.
func New(rules pattern.RuleSet, opts ...Option) *Classifier {
	c := &Classifier{
		rules:   rules.Clone(),
		catalog: defaultCatalog,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify decides whether the client is a bot. An Accept header asking for
// Markdown wins before any user-agent rule is consulted.
func (c *Classifier) Classify(userAgent, accept string) Decision {
	if AcceptsMarkdown(accept) {
		return Decision{IsBot: true, Reason: ReasonAcceptMarkdown}
	}
	if userAgent == "" {
		return Decision{Reason: ReasonEmptyUserAgent}
	}
	switch c.rules.Evaluate(userAgent, MatchUserAgent) {
	case pattern.OutcomeDisallowed:
		return Decision{Reason: ReasonDisallowed}
	case pattern.OutcomeAllowed:
		return Decision{IsBot: true, Reason: ReasonAllowed}
	case pattern.OutcomeNotAllowed:
		return Decision{Reason: ReasonNotAllowed}
	}
	for _, p := range c.catalog {
		if MatchUserAgent(userAgent, p) {
			return Decision{IsBot: true, Reason: ReasonCatalogMatch}
		}
	}
	return Decision{Reason: ReasonNoMatch}
}

// AcceptsMarkdown reports whether an Accept header lists text/markdown.
func AcceptsMarkdown(accept string) bool {
	return strings.Contains(strings.ToLower(accept), MarkdownMediaType)
}

// MatchUserAgent tests a user agent against one pattern. String patterns are
// case-insensitive substrings; regular expressions keep their own flags.
func MatchUserAgent(userAgent string, p pattern.Pattern) bool {
	if userAgent == "" || p.IsZero() {
		return false
	}
	if re := p.Regexp(); re != nil {
		return re.MatchString(userAgent)
	}
	return strings.Contains(strings.ToLower(userAgent), strings.ToLower(p.String()))
}
