package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// SetAttr sets or overwrites an attribute.
func SetAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// MergeAttrs returns the attributes of target followed by those of source
// whose names target does not already carry. Target values always win.
func MergeAttrs(target, source []html.Attribute) []html.Attribute {
	out := make([]html.Attribute, 0, len(target)+len(source))
	seen := make(map[string]struct{}, len(target)+len(source))
	for _, a := range target {
		seen[attrKey(a)] = struct{}{}
		out = append(out, a)
	}
	for _, a := range source {
		k := attrKey(a)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

func attrKey(a html.Attribute) string {
	if a.Namespace != "" {
		return a.Namespace + ":" + strings.ToLower(a.Key)
	}
	return strings.ToLower(a.Key)
}
