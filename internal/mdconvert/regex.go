package mdconvert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

var (
	anyTagRe = regexp.MustCompile(`<[^>]*>`)
	htmlRe   = regexp.MustCompile(`<[^>]+>`)

	// RE2 has no back-references, so each paired tag gets its own expression.
	strippedBlockRes = compileEach(`(?is)<%[1]s\b[^>]*>.*?</%[1]s>`,
		"script", "style", "noscript", "nav", "footer", "header", "aside", "title")
	voidMetaRe = regexp.MustCompile(`(?i)<(?:meta|link)\b[^>]*>`)

	headingRe    = regexp.MustCompile(`(?i)<h([1-6])\b[^>]*>(.*?)</h[1-6]>`)
	paragraphRe  = regexp.MustCompile(`(?i)<p\b[^>]*>(.*?)</p>`)
	lineBreakRe  = regexp.MustCompile(`(?i)<br\s*/?>`)
	boldRes      = compileEach(`(?i)<%[1]s\b[^>]*>(.*?)</%[1]s>`, "strong", "b")
	italicRes    = compileEach(`(?i)<%[1]s\b[^>]*>(.*?)</%[1]s>`, "em", "i")
	preCodeRe    = regexp.MustCompile(`(?is)<pre\b[^>]*>\s*<code\b[^>]*>(.*?)</code>\s*</pre>`)
	inlineCodeRe = regexp.MustCompile(`(?i)<code\b[^>]*>(.*?)</code>`)
	anchorRe     = regexp.MustCompile(`(?i)<a\b[^>]*?\shref="([^"]*)"[^>]*>(.*?)</a>`)
	imageRe      = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	srcAttrRe    = regexp.MustCompile(`(?i)\ssrc="([^"]*)"`)
	altAttrRe    = regexp.MustCompile(`(?i)\salt="([^"]*)"`)
	unorderedRe  = regexp.MustCompile(`(?is)<ul\b[^>]*>(.*?)</ul>`)
	orderedRe    = regexp.MustCompile(`(?is)<ol\b[^>]*>(.*?)</ol>`)
	listItemRe   = regexp.MustCompile(`(?i)<li\b[^>]*>(.*?)</li>`)
	tableRe      = regexp.MustCompile(`(?is)<table\b[^>]*>(.*?)</table>`)
	rowRe        = regexp.MustCompile(`(?is)<tr\b[^>]*>(.*?)</tr>`)
	cellRe       = regexp.MustCompile(`(?i)<t[hd]\b[^>]*>(.*?)</t[hd]>`)
	blockquoteRe = regexp.MustCompile(`(?is)<blockquote\b[^>]*>(.*?)</blockquote>`)
	ruleRe       = regexp.MustCompile(`(?i)<hr\b[^>]*>`)

	blankLinesRe  = regexp.MustCompile(`\n\s*\n\s*\n+`)
	inlineSpaceRe = regexp.MustCompile(`[ \t]{2,}`)
)

// entities are decoded in this order, each over the output of the previous one.
var entities = []struct{ from, to string }{
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&amp;", "&"},
	{"&quot;", `"`},
	{"&#x27;", "'"},
	{"&#39;", "'"},
	{"&nbsp;", " "},
	{"&mdash;", "—"},
	{"&ndash;", "–"},
	{"&hellip;", "…"},
}

const minColumnWidth = 3

// RegexConverter rewrites HTML to Markdown with an ordered series of text
// substitutions. It tolerates malformed markup but does not track nesting.
type RegexConverter struct {
	logger *zap.Logger
}

// NewRegexConverter returns the default converter.
func NewRegexConverter(logger *zap.Logger) *RegexConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegexConverter{logger: logger}
}

// Name implements Converter.
func (*RegexConverter) Name() string { return EngineRegex }

// Convert implements Converter. A panic in any rewrite returns src unchanged.
func (c *RegexConverter) Convert(src, baseURL string) (out string) {
	if src == "" {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("markdown conversion failed, returning original input",
				zap.String("panic", fmt.Sprint(r)))
			out = src
		}
	}()
	return convertRegex(src, baseURL)
}

func convertRegex(src, baseURL string) string {
	md := src
	for _, re := range strippedBlockRes {
		md = re.ReplaceAllString(md, "")
	}
	md = voidMetaRe.ReplaceAllString(md, "")

	md = replaceGroups(headingRe, md, func(g []string) string {
		level, _ := strconv.Atoi(g[1])
		return "\n\n" + strings.Repeat("#", level) + " " + stripTags(g[2]) + "\n\n"
	})

	md = paragraphRe.ReplaceAllString(md, "\n\n${1}\n\n")
	md = lineBreakRe.ReplaceAllString(md, "\n")
	for _, re := range boldRes {
		md = re.ReplaceAllString(md, "**${1}**")
	}
	for _, re := range italicRes {
		md = re.ReplaceAllString(md, "*${1}*")
	}

	md = replaceGroups(preCodeRe, md, func(g []string) string {
		return "\n\n```\n" + anyTagRe.ReplaceAllString(g[1], "") + "\n```\n\n"
	})
	md = inlineCodeRe.ReplaceAllString(md, "`${1}`")

	md = replaceGroups(anchorRe, md, func(g []string) string {
		return "[" + stripTags(g[2]) + "](" + absoluteURL(g[1], baseURL) + ")"
	})
	md = imageRe.ReplaceAllStringFunc(md, func(tag string) string {
		src := srcAttrRe.FindStringSubmatch(tag)
		if src == nil {
			return tag
		}
		alt := ""
		if m := altAttrRe.FindStringSubmatch(tag); m != nil {
			alt = m[1]
		}
		return "![" + alt + "](" + absoluteURL(src[1], baseURL) + ")"
	})

	md = replaceGroups(unorderedRe, md, func(g []string) string {
		items := replaceGroups(listItemRe, g[1], func(item []string) string {
			return "- " + stripTags(item[1]) + "\n"
		})
		return "\n" + items + "\n"
	})
	md = replaceGroups(orderedRe, md, func(g []string) string {
		n := 0
		items := replaceGroups(listItemRe, g[1], func(item []string) string {
			n++
			return strconv.Itoa(n) + ". " + stripTags(item[1]) + "\n"
		})
		return "\n" + items + "\n"
	})

	md = replaceGroups(tableRe, md, func(g []string) string {
		return renderTable(g[1])
	})

	md = replaceGroups(blockquoteRe, md, func(g []string) string {
		lines := strings.Split(stripTags(g[1]), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return "\n\n" + strings.Join(lines, "\n") + "\n\n"
	})

	md = ruleRe.ReplaceAllString(md, "\n\n---\n\n")
	md = anyTagRe.ReplaceAllString(md, "")

	for _, e := range entities {
		md = strings.ReplaceAll(md, e.from, e.to)
	}
	return normalizeWhitespace(md)
}

func renderTable(inner string) string {
	var rows [][]string
	for _, row := range rowRe.FindAllStringSubmatch(inner, -1) {
		var cells []string
		for _, cell := range cellRe.FindAllStringSubmatch(row[1], -1) {
			cells = append(cells, stripTags(cell[1]))
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	if len(rows) == 0 {
		return ""
	}

	var widths []int
	for _, cells := range rows {
		for i, cell := range cells {
			if i >= len(widths) {
				widths = append(widths, minColumnWidth)
			}
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	var b strings.Builder
	b.WriteString("\n\n")
	for i, cells := range rows {
		padded := make([]string, len(cells))
		for j, cell := range cells {
			padded[j] = cell + strings.Repeat(" ", widths[j]-utf8.RuneCountInString(cell))
		}
		b.WriteString("| " + strings.Join(padded, " | ") + " |\n")
		if i == 0 {
			dashes := make([]string, len(widths))
			for j, w := range widths {
				dashes[j] = strings.Repeat("-", w)
			}
			b.WriteString("| " + strings.Join(dashes, " | ") + " |\n")
		}
	}
	b.WriteString("\n")
	return b.String()
}

// normalizeWhitespace collapses blank-line runs, squeezes inline spacing
// on every line except table rows, and trims trailing whitespace.
func normalizeWhitespace(md string) string {
	md = blankLinesRe.ReplaceAllString(md, "\n\n")
	lines := strings.Split(md, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "|") {
			line = inlineSpaceRe.ReplaceAllString(line, " ")
		}
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripTags(s string) string {
	return strings.TrimSpace(anyTagRe.ReplaceAllString(s, ""))
}

// replaceGroups is ReplaceAllStringFunc with access to submatches.
func replaceGroups(re *regexp.Regexp, src string, repl func(groups []string) string) string {
	matches := re.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src
	}
	var b strings.Builder
	last := 0
	for _, loc := range matches {
		b.WriteString(src[last:loc[0]])
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = src[loc[2*i]:loc[2*i+1]]
			}
		}
		b.WriteString(repl(groups))
		last = loc[1]
	}
	b.WriteString(src[last:])
	return b.String()
}

func compileEach(format string, tags ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(tags))
	for i, tag := range tags {
		out[i] = regexp.MustCompile(fmt.Sprintf(format, tag))
	}
	return out
}

// IsHTML reports whether s contains anything that looks like a tag.
func IsHTML(s string) bool {
	return htmlRe.MatchString(s)
}
