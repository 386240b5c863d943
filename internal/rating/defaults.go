package rating

var defaultTable = New(
	map[string]float64{
		"article": 0.95,
		"aside":   0.85,
		"body":    0.9,
		"div":     0.3,
		"footer":  0.7,
		"header":  0.75,
		"main":    0.85,
		"nav":     0.8,
		"section": 0.9,
	},
	[]string{"a", "button", "details", "form", "input", "label", "select", "summary", "textarea"},
	[]string{
		"address", "blockquote", "b", "code", "em", "figure", "figcaption",
		"h1", "h2", "h3", "h4", "h5", "h6", "hr", "img", "li", "ol", "p", "pre",
		"small", "span", "strong", "sub", "sup",
		"table", "tbody", "td", "thead", "th", "tr", "ul",
	},
	defaultAttributes(),
)

// Default returns the shared built-in table.
func Default() *Table { return defaultTable }

func defaultAttributes() map[string]float64 {
	tiers := []struct {
		weight float64
		names  []string
	}{
		{1, []string{UniqueIDAttribute, "data-aie"}},
		{0.9, []string{"alt", "href"}},
		{0.8, []string{"src", "id"}},
		{0.7, []string{"class"}},
		{0.6, []string{"title", "lang", "role", "aria-*"}},
		{0.5, []string{
			"placeholder", "label", "for", "value", "checked", "disabled", "readonly",
			"required", "maxlength", "minlength", "pattern", "step", "min", "max",
		}},
		{0.4, []string{
			"accept", "accept-charset", "action", "method", "enctype", "target", "rel",
			"media", "sizes", "srcset", "preload", "autoplay", "controls", "loop", "muted", "poster",
		}},
		{0.3, []string{
			"autofocus", "autocomplete", "autocapitalize", "spellcheck", "contenteditable",
			"draggable", "dropzone", "tabindex", "accesskey", "cite", "datetime", "coords",
			"shape", "usemap", "ismap", "download", "ping", "hreflang", "type", "name", "form",
		}},
		{0.2, []string{"novalidate", "multiple", "selected", "size", "wrap"}},
		{0.1, []string{"hidden", "style", "data-*", "content", "http-equiv"}},
	}
	out := make(map[string]float64)
	for _, tier := range tiers {
		for _, name := range tier.names {
			out[name] = tier.weight
		}
	}
	return out
}
