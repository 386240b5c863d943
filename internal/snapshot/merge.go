package snapshot

import (
	"context"
	"math"

	"github.com/hyperifyio/d2snap/internal/dom"
	"golang.org/x/net/html"
)

// mergeLevels is the depth period at which containers survive.
func mergeLevels(height int, k MergeMode) int {
	lv := int(math.Round(float64(height) * k.factor()))
	if lv < 1 {
		return 1
	}
	return lv
}

func (r *run) mergeContainers(context.Context) error {
	levels := mergeLevels(r.height, r.p.K)
	return dom.Traverse(r.root, dom.ShowElement, func(n *html.Node) error {
		if !dom.Attached(n, r.root) || !r.Rating.IsContainer(dom.TagName(n)) {
			return nil
		}
		if (r.depth[n]-1)%levels == 0 {
			return nil
		}
		parent := n.Parent
		if parent == nil || parent.Type != html.ElementNode || !r.Rating.IsContainer(dom.TagName(parent)) {
			return nil
		}
		r.merge(parent, n)
		return nil
	})
}

// merge folds one of parent and child into the other. The heavier container
// is kept and the parent wins ties.
func (r *run) merge(parent, child *html.Node) {
	if r.Rating.ContainerWeight(dom.TagName(parent)) >= r.Rating.ContainerWeight(dom.TagName(child)) {
		parent.Attr = dom.MergeAttrs(parent.Attr, child.Attr)
		dom.MoveChildrenBefore(child, child)
		dom.Remove(child)
		return
	}
	absorbParent(child, parent)
	r.depth[child] = r.depth[parent]
}

// absorbParent moves the siblings of target into it, keeping their order,
// and puts target where parent was.
func absorbParent(target, parent *html.Node) {
	target.Attr = dom.MergeAttrs(target.Attr, parent.Attr)

	first := target.FirstChild
	for c := parent.FirstChild; c != nil && c != target; c = parent.FirstChild {
		parent.RemoveChild(c)
		target.InsertBefore(c, first)
	}
	for c := target.NextSibling; c != nil; c = target.NextSibling {
		parent.RemoveChild(c)
		target.AppendChild(c)
	}

	grand := parent.Parent
	if grand == nil {
		return
	}
	parent.RemoveChild(target)
	grand.InsertBefore(target, parent)
	grand.RemoveChild(parent)
}
