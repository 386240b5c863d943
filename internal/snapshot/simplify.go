package snapshot

import (
	"context"
	"fmt"

	"github.com/hyperifyio/d2snap/internal/dom"
	"github.com/hyperifyio/d2snap/internal/rating"
	"golang.org/x/net/html"
)

// simplifyElements converts content elements to Markdown, keeps interactive
// ones and drops everything uncategorized. Containers are left for the merge
// pass.
func (r *run) simplifyElements(ctx context.Context) error {
	return dom.Traverse(r.root, dom.ShowElement, func(n *html.Node) error {
		if !dom.Attached(n, r.root) {
			return nil
		}
		switch r.Rating.Classify(dom.TagName(n)) {
		case rating.Container, rating.Interactive:
			return nil
		case rating.Content:
			return r.toMarkdown(ctx, n)
		default:
			if !r.opts.KeepUnknownElements {
				dom.Remove(n)
			}
			return nil
		}
	})
}

// toMarkdown replaces n with the nodes parsed from its Markdown rendering.
func (r *run) toMarkdown(ctx context.Context, n *html.Node) error {
	outer, err := dom.OuterHTML(n)
	if err != nil {
		return fmt.Errorf("serialize <%s>: %w", dom.TagName(n), err)
	}
	md, err := r.Markdown.ToMarkdown(ctx, outer)
	if err != nil {
		return fmt.Errorf("markdown <%s>: %w", dom.TagName(n), err)
	}
	nodes, err := dom.ParseFragment(md, "body")
	if err != nil {
		return fmt.Errorf("parse markdown fragment: %w", err)
	}
	dom.ReplaceWith(n, nodes...)
	return nil
}

// filterAttributes drops every attribute that is unrated or rated below m.
func (r *run) filterAttributes(context.Context) error {
	return dom.Traverse(r.root, dom.ShowElement, func(n *html.Node) error {
		if !dom.Attached(n, r.root) {
			return nil
		}
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if r.keepAttr(a) {
				kept = append(kept, a)
			}
		}
		n.Attr = kept
		return nil
	})
}

func (r *run) keepAttr(a html.Attribute) bool {
	if a.Namespace != "" {
		return false
	}
	w, ok := r.Rating.AttributeWeight(a.Key)
	return ok && w >= r.p.M
}
