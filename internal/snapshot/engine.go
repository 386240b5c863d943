// Package snapshot downsamples a markup tree into a compact snapshot for a
// context-limited reader. Containers are merged by depth, content elements
// become Markdown, text is summarized, and attributes are pruned by weight.
// Interactive elements survive intact.
package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperifyio/d2snap/internal/budget"
	"github.com/hyperifyio/d2snap/internal/dom"
	"github.com/hyperifyio/d2snap/internal/markdown"
	"github.com/hyperifyio/d2snap/internal/rating"
	"github.com/hyperifyio/d2snap/internal/textrank"
	"golang.org/x/net/html"
)

// strippedTags are removed before classification.
var strippedTags = map[string]struct{}{
	"script": {},
	"style":  {},
	"link":   {},
}

var (
	blankLines       = regexp.MustCompile(`\n(?: *\n)+`)
	trailingNewline  = regexp.MustCompile(`\n *$`)
	leadingStartTag  = regexp.MustCompile(`^<[^>]+>\s*`)
	trailingCloseTag = regexp.MustCompile(`\s*</[^<]+>$`)
)

// Engine runs single snapshots. Its collaborators are read-only, so one
// Engine can serve concurrent runs over independent trees.
type Engine struct {
	Rating     *rating.Table
	Markdown   *markdown.Converter
	Summarizer textrank.Summarizer
}

// New returns an Engine with the default rating table, Markdown converter
// and summarizer.
func New() *Engine {
	return &Engine{
		Rating:     rating.Default(),
		Markdown:   markdown.New(),
		Summarizer: textrank.DefaultSummarizer,
	}
}

// run holds the per-call state. It never outlives Snapshot.
type run struct {
	*Engine
	p      Parameters
	opts   Options
	root   *html.Node
	depth  map[*html.Node]int
	height int
}

// Snapshot downsamples node, which may be a document or an element. The
// caller's tree is only touched when opts.AssignUniqueIDs is set.
func (e *Engine) Snapshot(ctx context.Context, node *html.Node, p Parameters, opts Options) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	docEl := dom.DocumentElement(node)
	partial := dom.DownsamplingRoot(node)
	if docEl == nil || partial == nil {
		return Result{}, ErrNoRoot
	}
	original, err := dom.OuterHTML(docEl)
	if err != nil {
		return Result{}, fmt.Errorf("serialize original: %w", err)
	}
	originalSize := dom.Length(original)

	if opts.AssignUniqueIDs {
		e.assignUniqueIDs(partial)
	}

	r := &run{
		Engine: e,
		p:      p,
		opts:   opts,
		root:   dom.Clone(partial),
		depth:  make(map[*html.Node]int),
	}
	passes := []func(context.Context) error{
		r.stripComments,
		r.stripTags,
		r.measureDepth,
		r.summarizeText,
		r.simplifyElements,
		r.mergeContainers,
		r.filterAttributes,
	}
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := pass(ctx); err != nil {
			return Result{}, err
		}
	}

	snap, err := dom.InnerHTML(r.root)
	if err != nil {
		return Result{}, fmt.Errorf("serialize snapshot: %w", err)
	}
	out := r.finalize(snap)

	size := dom.Length(snap)
	ratio := 0.0
	if originalSize > 0 {
		ratio = float64(size) / float64(originalSize)
	}
	return Result{
		HTML: out,
		Meta: Meta{
			OriginalSize:    originalSize,
			SnapshotSize:    size,
			SizeRatio:       ratio,
			EstimatedTokens: budget.EstimateTokensFromChars(size),
		},
	}, nil
}

// assignUniqueIDs numbers container and interactive elements of the live
// tree in document order.
func (e *Engine) assignUniqueIDs(root *html.Node) {
	n := 0
	_ = dom.Traverse(root, dom.ShowElement, func(el *html.Node) error {
		switch e.Rating.Classify(dom.TagName(el)) {
		case rating.Container, rating.Interactive:
			dom.SetAttr(el, rating.UniqueIDAttribute, strconv.Itoa(n))
			n++
		}
		return nil
	})
}

func (r *run) stripComments(context.Context) error {
	return dom.Traverse(r.root, dom.ShowComment, func(n *html.Node) error {
		dom.Remove(n)
		return nil
	})
}

func (r *run) stripTags(context.Context) error {
	return dom.Traverse(r.root, dom.ShowElement, func(n *html.Node) error {
		if _, ok := strippedTags[dom.TagName(n)]; ok {
			dom.Remove(n)
		}
		return nil
	})
}

// measureDepth records the depth of every element below the clone root,
// whose children sit at depth 1, and the tree height.
func (r *run) measureDepth(context.Context) error {
	return dom.Traverse(r.root, dom.ShowElement, func(n *html.Node) error {
		d := r.depth[n.Parent] + 1
		r.depth[n] = d
		if d > r.height {
			r.height = d
		}
		return nil
	})
}

func (r *run) summarizeText(context.Context) error {
	retain := 1 - r.p.L
	return dom.Traverse(r.root, dom.ShowText, func(n *html.Node) error {
		if !dom.Attached(n, r.root) {
			return nil
		}
		n.Data = r.Summarizer.RelativeRank(n.Data, retain, true)
		return nil
	})
}

// finalize turns the serialized clone into the returned snapshot text.
func (r *run) finalize(snap string) string {
	out := snap
	if r.opts.Debug {
		out = FormatHTML(out, 2)
	}
	out = markdown.RestoreLineBreaks(out)
	out = blankLines.ReplaceAllString(out, "\n")
	out = trailingNewline.ReplaceAllString(out, "")
	if r.p.K.IsLinearize() && dom.ChildElementCount(r.root) > 0 {
		out = strings.TrimSpace(out)
		out = leadingStartTag.ReplaceAllString(out, "")
		out = trailingCloseTag.ReplaceAllString(out, "")
	}
	return out
}
