// Package dom wraps golang.org/x/net/html with the tree operations the
// downsampler needs: frozen pre-order traversal, deep cloning, attachment
// checks and markup serialization.
package dom

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Filter selects which node kinds a traversal visits.
type Filter uint8

const (
	ShowElement Filter = 1 << iota
	ShowText
	ShowComment
)

func (f Filter) accepts(n *html.Node) bool {
	switch n.Type {
	case html.ElementNode:
		return f&ShowElement != 0
	case html.TextNode:
		return f&ShowText != 0
	case html.CommentNode:
		return f&ShowComment != 0
	}
	return false
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// ParseString parses markup as a full HTML document. Fragments are wrapped in
// html/head/body by the parser.
func ParseString(markup string) (*html.Node, error) {
	return html.Parse(strings.NewReader(markup))
}

// Collect returns every descendant of root accepted by filter, in pre-order.
// The root itself is not included. The list is captured in full before the
// caller acts on it.
func Collect(root *html.Node, filter Filter) []*html.Node {
	if root == nil {
		return nil
	}
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if filter.accepts(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// Traverse collects the matching nodes first and then calls fn once per node
// in document order. Mutations made by fn do not change which nodes are
// visited. The first error returned by fn stops the walk.
func Traverse(root *html.Node, filter Filter, fn func(*html.Node) error) error {
	for _, n := range Collect(root, filter) {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// Attached reports whether n is still reachable from root through parent
// links. Nodes removed by an earlier callback, or living under a removed
// ancestor, are not attached.
func Attached(n, root *html.Node) bool {
	if n == nil || root == nil {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// Clone returns a detached deep copy of n.
func Clone(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(Clone(child))
	}
	return c
}

// DocumentElement returns the <html> element of a document node, or n itself
// when n is already an element.
func DocumentElement(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type != html.DocumentNode {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// DownsamplingRoot resolves the subtree a snapshot processes: the body
// element if there is one, else the document element, else n itself.
func DownsamplingRoot(n *html.Node) *html.Node {
	docEl := DocumentElement(n)
	if docEl == nil {
		return nil
	}
	if docEl.DataAtom == atom.Html || strings.EqualFold(docEl.Data, "html") {
		if body := findChild(docEl, "body"); body != nil {
			return body
		}
	}
	return docEl
}

func findChild(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && strings.EqualFold(c.Data, tag) {
			return c
		}
	}
	return nil
}

// TagName returns the lowercase tag of an element, or "" for other nodes.
func TagName(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// ChildElementCount counts the element children of n.
func ChildElementCount(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			count++
		}
	}
	return count
}

// Remove detaches n from its parent. It is a no-op for detached nodes.
func Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// ReplaceWith puts nodes where n was and detaches n. Replacement nodes must
// be detached.
func ReplaceWith(n *html.Node, nodes ...*html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for _, r := range nodes {
		parent.InsertBefore(r, n)
	}
	parent.RemoveChild(n)
}

// MoveChildrenBefore relocates every child of src, in order, so that they sit
// immediately before ref in ref's parent.
func MoveChildrenBefore(src, ref *html.Node) {
	parent := ref.Parent
	if parent == nil {
		return
	}
	for c := src.FirstChild; c != nil; c = src.FirstChild {
		src.RemoveChild(c)
		parent.InsertBefore(c, ref)
	}
}

// OuterHTML serializes n including its own tags.
func OuterHTML(n *html.Node) (string, error) {
	var b bytes.Buffer
	if err := html.Render(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}

// InnerHTML serializes the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var b bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// ParseFragment parses markup in the context of an element with the given tag
// and returns the resulting detached nodes.
func ParseFragment(markup string, contextTag string) ([]*html.Node, error) {
	if contextTag == "" {
		contextTag = "body"
	}
	ctx := &html.Node{Type: html.ElementNode, Data: contextTag, DataAtom: atom.Lookup([]byte(contextTag))}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	return nodes, nil
}

// Length counts characters, not bytes.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}
