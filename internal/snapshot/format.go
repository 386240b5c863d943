package snapshot

import (
	"regexp"
	"strings"
)

var (
	interTagSpace = regexp.MustCompile(`>\s+<`)
	tagToken      = regexp.MustCompile(`<[^>]+>`)
	closeTag      = regexp.MustCompile(`^</\w`)
	selfCloseTag  = regexp.MustCompile(`^<[^>]+/>$`)
	openTag       = regexp.MustCompile(`^<\w[^>]*>$`)
)

// FormatHTML pretty-prints serialized markup with one tag or text run per
// line, indented by nesting level. Whitespace between tags is dropped.
func FormatHTML(markup string, indent int) string {
	markup = strings.TrimSpace(interTagSpace.ReplaceAllString(markup, "><"))
	pad := strings.Repeat(" ", indent)

	var lines []string
	level := 0
	emit := func(tok string) {
		lines = append(lines, strings.Repeat(pad, level)+tok)
	}
	for _, tok := range splitTags(markup) {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		switch {
		case closeTag.MatchString(tok):
			if level > 0 {
				level--
			}
			emit(tok)
		case selfCloseTag.MatchString(tok):
			emit(tok)
		case openTag.MatchString(tok):
			emit(tok)
			level++
		case strings.HasPrefix(tok, "<"):
			emit(tok)
		default:
			emit(strings.TrimSpace(tok))
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitTags splits markup into alternating text runs and tags.
func splitTags(markup string) []string {
	var out []string
	last := 0
	for _, loc := range tagToken.FindAllStringIndex(markup, -1) {
		out = append(out, markup[last:loc[0]], markup[loc[0]:loc[1]])
		last = loc[1]
	}
	return append(out, markup[last:])
}
