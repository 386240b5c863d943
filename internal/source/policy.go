package source

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hyperifyio/d2snap/internal/rating"
)

// ariaAttributes expands the "aria-*" rating wildcard, since bluemonday only
// matches attribute names exactly.
var ariaAttributes = []string{
	"aria-activedescendant", "aria-atomic", "aria-autocomplete", "aria-busy",
	"aria-checked", "aria-controls", "aria-current", "aria-describedby",
	"aria-description", "aria-disabled", "aria-expanded", "aria-haspopup",
	"aria-hidden", "aria-invalid", "aria-label", "aria-labelledby", "aria-level",
	"aria-live", "aria-modal", "aria-multiline", "aria-multiselectable",
	"aria-orientation", "aria-placeholder", "aria-pressed", "aria-readonly",
	"aria-required", "aria-selected", "aria-sort", "aria-valuemax",
	"aria-valuemin", "aria-valuenow", "aria-valuetext",
}

// PolicyFor builds a sanitization policy that keeps the elements and
// attributes the rating table knows about. Script and style content is
// dropped, other unknown elements are unwrapped, and URLs must be relative
// or use http, https or mailto.
func PolicyFor(t *rating.Table) *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	tags := []string{"html", "head", "body", "title"}
	for _, c := range []rating.Category{rating.Container, rating.Interactive, rating.Content} {
		tags = append(tags, t.Tags(c)...)
	}
	p.AllowElements(tags...)
	p.AllowNoAttrs().OnElements(tags...)

	var names []string
	for _, name := range t.Attributes() {
		switch {
		case name == "data-*":
			p.AllowDataAttributes()
		case name == "aria-*":
			names = append(names, ariaAttributes...)
		case strings.HasSuffix(name, "*"):
			// Other wildcards have no exact-name equivalent.
		default:
			names = append(names, name)
		}
	}
	p.AllowAttrs(names...).Globally()

	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	p.AddSpaceWhenStrippingTag(true)
	return p
}
