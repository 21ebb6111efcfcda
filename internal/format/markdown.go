// Package format converts AI answers into Lark text markup.
package format

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.*?)\*`)
	imagePattern  = regexp.MustCompile(`!\[[^\]]*\]\((\S+?)\)`)
	htmlPattern   = regexp.MustCompile(`(?i)<(p|br|strong|b|em|i|a|ul|ol|li|h[1-6]|div|span|code|pre|blockquote)(\s[^>]*)?/?>`)
	hardBreak     = regexp.MustCompile(`[ \t]+\n`)
)

// htmlConverter leaves Markdown already present in the text unescaped so
// answers mixing both survive FormatMarkdown.
var htmlConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
	converter.WithEscapeMode(converter.EscapeModeDisabled),
)

// FormatMarkdown replaces **X** with <b>X</b> and then *X* with <i>X</i>.
// Matching is non-greedy and does not cross newlines. Nested or unbalanced
// delimiters are left to the regex.
func FormatMarkdown(text string) string {
	text = boldPattern.ReplaceAllString(text, "<b>$1</b>")
	text = italicPattern.ReplaceAllString(text, "<i>$1</i>")
	return text
}

// NormalizeHTML converts an answer that carries HTML markup to Markdown.
// Text without recognised tags, or that fails to convert, is returned as is.
func NormalizeHTML(text string) string {
	if !htmlPattern.MatchString(text) {
		return text
	}
	md, err := htmlConverter.ConvertString(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(hardBreak.ReplaceAllString(md, "\n"))
}

// ImageURL returns the target of the first Markdown image in text, or "".
func ImageURL(text string) string {
	m := imagePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
