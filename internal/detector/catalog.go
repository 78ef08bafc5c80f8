package detector

import "github.com/JakeFAU/botmd/pkg/pattern"

// defaultCatalog lists known agent signatures. It is compiled once and never
// mutated; callers get copies from DefaultCatalog.
var defaultCatalog = []pattern.Pattern{
	// AI assistants fetching on behalf of a user.
	pattern.MustRegexp(`(?i)ChatGPT-User|OAI-SearchBot`),
	pattern.MustRegexp(`(?i)Claude-Web`),
	pattern.MustRegexp(`(?i)Perplexity-User|PerplexityBot`),
	pattern.MustRegexp(`(?i)meta-externalfetcher`),

	// Coding agents and IDE assistants.
	pattern.MustRegexp(`(?i)Cursor/\d|CursorAgent|CursorBot`),
	pattern.MustRegexp(`(?i)GitHubCopilot|CopilotBot`),
	pattern.MustRegexp(`(?i)ClaudeCode`),
	pattern.MustRegexp(`(?i)Windsurf/\d|CodeiumAgent|Codeium/\d`),
	pattern.MustRegexp(`(?i)TabnineAgent|Tabnine/\d`),
	pattern.MustRegexp(`(?i)ReplitAgent|ReplitAI`),

	// AI search and extraction services.
	pattern.MustRegexp(`(?i)ExaBot|Exa/\d`),
	pattern.MustRegexp(`(?i)FirecrawlAgent|Firecrawl/\d`),
	pattern.MustRegexp(`(?i)TavilyBot|TavilySearchBot`),
	pattern.MustRegexp(`(?i)JinaBot|JinaReader`),
	pattern.MustRegexp(`(?i)YouBot|YouSearch`),

	// Training and indexing crawlers.
	pattern.MustRegexp(`(?i)GPTBot`),
	pattern.MustRegexp(`(?i)ClaudeBot|anthropic-ai`),
	pattern.MustRegexp(`(?i)Googlebot|Google-Extended`),
	pattern.MustRegexp(`(?i)Amazonbot`),
	pattern.MustRegexp(`(?i)Applebot|iTMS`),
	pattern.MustRegexp(`(?i)bingbot`),
	pattern.MustRegexp(`(?i)Bytespider|TikTokSpider`),
	pattern.MustRegexp(`(?i)cohere-training-data-crawler|cohere-ai`),
	pattern.MustRegexp(`(?i)CCBot`),
	pattern.MustRegexp(`(?i)Diffbot`),
	pattern.MustRegexp(`(?i)DuckAssistBot`),

	pattern.MustRegexp(`(?i)botmd`),
}

// DefaultCatalog returns a copy of the built-in agent signatures in priority order.
func DefaultCatalog() []pattern.Pattern {
	return append([]pattern.Pattern(nil), defaultCatalog...)
}
