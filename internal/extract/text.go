package extract

import (
	"context"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"healthai/internal/domain"
)

var (
	_ domain.TextExtractor = PlainText{}
	_ domain.TextExtractor = Markdown{}
	_ domain.TextExtractor = HTML{}
	_ Titler               = Markdown{}
	_ Titler               = HTML{}
)

// PlainText normalises line endings and invalid UTF-8.
type PlainText struct{}

func (PlainText) Extract(_ context.Context, raw domain.RawDocument) (string, error) {
	return normalize(string(raw.Content)), nil
}

func normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// Markdown strips common markdown formatting.
type Markdown struct{}

var (
	mdCodeFence   = regexp.MustCompile("(?s)```[^\n]*\n(.*?)```")
	mdInlineCode  = regexp.MustCompile("`([^`]+)`")
	mdImages      = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	mdLinks       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeadings    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis    = regexp.MustCompile(`(\*\*|__|\*|_)([^*_\n]+)(\*\*|__|\*|_)`)
	mdBlockquote  = regexp.MustCompile(`(?m)^>\s?`)
	mdRule        = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	mdList        = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	mdNumbered    = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

func (Markdown) Extract(_ context.Context, raw domain.RawDocument) (string, error) {
	content := normalize(string(raw.Content))
	// Code blocks in medical notes are usually dosage tables, so keep their text.
	content = mdCodeFence.ReplaceAllString(content, "$1")
	content = mdInlineCode.ReplaceAllString(content, "$1")
	content = mdImages.ReplaceAllString(content, "")
	content = mdLinks.ReplaceAllString(content, "$1")
	content = mdHeadings.ReplaceAllString(content, "")
	content = mdEmphasis.ReplaceAllString(content, "$2")
	content = mdBlockquote.ReplaceAllString(content, "")
	content = mdRule.ReplaceAllString(content, "")
	content = mdList.ReplaceAllString(content, "")
	content = mdNumbered.ReplaceAllString(content, "")
	content = multiNewlines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content), nil
}

// Title returns the first level-one heading.
func (Markdown) Title(raw domain.RawDocument) string {
	for _, line := range strings.Split(string(raw.Content), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return ""
}

// HTML strips tags, scripts and styles and keeps block structure as newlines.
type HTML struct{}

var (
	titleTag          = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag       = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag           = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag            = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements     = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	openBlockElements = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	brTags            = regexp.MustCompile(`(?i)<br\s*/?>`)
	hrTags            = regexp.MustCompile(`(?i)<hr\s*/?>`)
	allTags           = regexp.MustCompile(`<[^>]+>`)
	multiSpaces       = regexp.MustCompile(`[ \t]+`)
)

func (HTML) Extract(_ context.Context, raw domain.RawDocument) (string, error) {
	content := normalize(string(raw.Content))
	for _, re := range []*regexp.Regexp{titleTag, scriptTag, styleTag, noscriptTag, headTag, svgTag, htmlComments} {
		content = re.ReplaceAllString(content, "")
	}
	content = openBlockElements.ReplaceAllString(content, "\n")
	content = blockElements.ReplaceAllString(content, "\n")
	content = brTags.ReplaceAllString(content, "\n")
	content = hrTags.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = multiSpaces.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	result := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n"), nil
}

// Title returns the document's <title>.
func (HTML) Title(raw domain.RawDocument) string {
	matches := titleTag.FindStringSubmatch(string(raw.Content))
	if len(matches) > 1 {
		return strings.TrimSpace(html.UnescapeString(matches[1]))
	}
	return ""
}
