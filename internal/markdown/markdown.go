// Package markdown turns content elements into compact Markdown for
// snapshots. Anchors are kept as raw HTML so that link targets survive.
package markdown

import (
	"context"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

// LineBreakMark stands in for a newline inside converted Markdown until the
// final serialization step restores it.
const LineBreakMark = "@@@"

// keepTags are rendered as their original markup instead of Markdown.
var keepTags = []string{"a"}

// Converter wraps an html-to-markdown converter configured with ATX headings,
// "-" bullets, fenced code blocks and GFM tables and strikethrough.
type Converter struct {
	conv *converter.Converter
}

// New builds a Converter. It is safe for concurrent use.
func New() *Converter {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(
				commonmark.WithHeadingStyle(commonmark.HeadingStyleATX),
				commonmark.WithBulletListMarker("-"),
				commonmark.WithCodeBlockFence("```"),
			),
			table.NewTablePlugin(),
			strikethrough.NewStrikethroughPlugin(),
		),
	)
	for _, tag := range keepTags {
		conv.Register.RendererFor(tag, converter.TagTypeInline, renderOuterHTML, converter.PriorityEarly)
	}
	return &Converter{conv: conv}
}

func renderOuterHTML(_ converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	if err := html.Render(w, n); err != nil {
		return converter.RenderTryNext
	}
	return converter.RenderSuccess
}

// Convert returns the Markdown for markup, untrimmed.
func (c *Converter) Convert(ctx context.Context, markup string) (string, error) {
	return c.conv.ConvertString(markup, converter.WithContext(ctx))
}

// ToMarkdown converts markup, trims the result and replaces every newline and
// the end of the text with LineBreakMark. Empty output stays empty apart from
// the trailing mark.
func (c *Converter) ToMarkdown(ctx context.Context, markup string) (string, error) {
	md, err := c.Convert(ctx, markup)
	if err != nil {
		return "", err
	}
	return MarkLineBreaks(strings.TrimSpace(md)), nil
}

// MarkLineBreaks replaces each newline in s with LineBreakMark and appends one
// more mark at the end.
func MarkLineBreaks(s string) string {
	return strings.ReplaceAll(s, "\n", LineBreakMark) + LineBreakMark
}

// RestoreLineBreaks undoes MarkLineBreaks on serialized markup.
func RestoreLineBreaks(s string) string {
	return strings.ReplaceAll(s, LineBreakMark, "\n")
}
