package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hyperifyio/d2snap/internal/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const calculator = `<main><h1>Calculator</h1><div><input/><button data-uid="3">Solve</button></div></main>`

const pizza = `<!DOCTYPE html>
<html lang="en">
<head><title>Pizza Place</title><link rel="stylesheet" href="/s.css"><style>body{margin:0}</style></head>
<body class="page">
  <!-- navigation -->
  <header id="top" class="site-header">
    <nav class="menu"><a href="/">Home</a> <a href="/menu" title="Our menu">Menu</a> <a href="/about">About</a></nav>
  </header>
  <main id="content">
    <section class="hero" style="background:red">
      <div class="wrap"><div class="inner">
        <h1>Best pizza in town</h1>
        <p>We bake every pizza in a wood-fired oven. Our dough rests for 48 hours. Fresh basil comes from our own garden. Try the margherita today!</p>
      </div></div>
    </section>
    <section class="order">
      <form action="/order" method="post">
        <label for="size">Size</label>
        <select id="size" name="size"><option>Small</option><option>Large</option></select>
        <input type="text" name="address" placeholder="Your address" required>
        <button type="submit" class="btn primary">Order now</button>
      </form>
    </section>
  </main>
  <footer class="foot"><small>Open daily. Delivery within 30 minutes.</small></footer>
  <script>console.log("tracking");</script>
</body>
</html>`

func parse(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	return doc
}

func snap(t *testing.T, markup string, p Parameters, opts Options) Result {
	t.Helper()
	res, err := New().Snapshot(context.Background(), parse(t, markup), p, opts)
	require.NoError(t, err)
	return res
}

func TestSnapshot_Calculator(t *testing.T) {
	res := snap(t, calculator, DefaultParameters(), Options{AssignUniqueIDs: true})

	assert.Equal(t,
		"<main data-uid=\"0\"># Calculator\n<div data-uid=\"1\"><input data-uid=\"2\"/><button data-uid=\"3\">Solve</button></div></main>",
		res.HTML)
	assert.Equal(t, 125, res.Meta.OriginalSize)
	assert.Equal(t, 121, res.Meta.SnapshotSize)
	assert.Equal(t, 30, res.Meta.EstimatedTokens)
	assert.InDelta(t, 121.0/125.0, res.Meta.SizeRatio, 1e-12)
}

func TestSnapshot_CalculatorDebug(t *testing.T) {
	res := snap(t, calculator, DefaultParameters(), Options{AssignUniqueIDs: true, Debug: true})
	want := strings.Join([]string{
		`<main data-uid="0">`,
		`  # Calculator`,
		`  <div data-uid="1">`,
		`    <input data-uid="2"/>`,
		`    <button data-uid="3">`,
		`      Solve`,
		`    </button>`,
		`  </div>`,
		`</main>`,
	}, "\n")
	assert.Equal(t, want, res.HTML)
	// size is measured before pretty printing
	assert.Equal(t, 121, res.Meta.SnapshotSize)
}

func TestSnapshot_DropsLowWeightAttributes(t *testing.T) {
	markup := `<main class="app" style="color:red"><div class="row" style="margin:0" onclick="x()"><button data-uid="3">Solve</button></div></main>`
	res := snap(t, markup, DefaultParameters(), Options{})
	assert.Equal(t, `<main class="app"><div class="row"><button data-uid="3">Solve</button></div></main>`, res.HTML)
}

func TestSnapshot_StampsOriginalTree(t *testing.T) {
	doc := parse(t, calculator)
	_, err := New().Snapshot(context.Background(), doc, DefaultParameters(), Options{AssignUniqueIDs: true})
	require.NoError(t, err)

	var ids []string
	for _, n := range dom.Collect(doc, dom.ShowElement) {
		for _, a := range n.Attr {
			if a.Key == "data-uid" {
				ids = append(ids, dom.TagName(n)+"="+a.Val)
			}
		}
	}
	assert.Equal(t, []string{"main=0", "div=1", "input=2", "button=3"}, ids)
}

func TestSnapshot_LeavesOriginalTreeAlone(t *testing.T) {
	doc := parse(t, pizza)
	before, err := dom.OuterHTML(doc)
	require.NoError(t, err)

	_, err = New().Snapshot(context.Background(), doc, Parameters{K: Linearize(), L: 1, M: 1}, Options{Debug: true})
	require.NoError(t, err)

	after, err := dom.OuterHTML(doc)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSnapshot_SizeNeverGrows(t *testing.T) {
	for _, p := range []Parameters{
		{K: Bounded(0), L: 0, M: 0},
		{K: Bounded(0.3), L: 0.3, M: 0.3},
		DefaultParameters(),
		{K: Bounded(1), L: 1, M: 1},
		{K: Linearize(), L: 0.5, M: 0.5},
	} {
		res := snap(t, pizza, p, Options{})
		assert.LessOrEqual(t, res.Meta.SnapshotSize, res.Meta.OriginalSize, p.String())
		assert.LessOrEqual(t, res.Meta.SizeRatio, 1.0, p.String())
	}
}

func TestSnapshot_StripsNoise(t *testing.T) {
	markup := `<div><!--c--><script>var a = 1;</script><style>p{}</style><link rel="x" href="/y"><button>B</button><canvas></canvas></div>`
	res := snap(t, markup, Parameters{K: Bounded(0), L: 0, M: 0}, Options{})
	assert.Equal(t, `<div><button>B</button></div>`, res.HTML)
}

func TestSnapshot_KeepUnknownElements(t *testing.T) {
	markup := `<div><custom-box>Hello there.</custom-box></div>`
	p := Parameters{K: Bounded(0), L: 0, M: 0}

	assert.Equal(t, `<div></div>`, snap(t, markup, p, Options{}).HTML)
	assert.Equal(t, `<div><custom-box>Hello there.</custom-box></div>`,
		snap(t, markup, p, Options{KeepUnknownElements: true}).HTML)
}

func TestSnapshot_AttributeThresholdOne(t *testing.T) {
	markup := `<div id="a" class="b" style="c"><a href="/x" title="t" data-foo="1" onclick="z">x</a><input name="q" type="text" placeholder="p"></div>`
	res := snap(t, markup, Parameters{K: Bounded(0.4), L: 0.5, M: 1}, Options{AssignUniqueIDs: true})
	assert.Equal(t, `<div data-uid="0"><a data-uid="1">x</a><input data-uid="2"/></div>`, res.HTML)

	out := parse(t, res.HTML)
	for _, n := range dom.Collect(dom.DownsamplingRoot(out), dom.ShowElement) {
		for _, a := range n.Attr {
			assert.Equal(t, "data-uid", a.Key)
		}
	}
}

func TestSnapshot_ContentBecomesMarkdown(t *testing.T) {
	markup := `<section><h2>Menu</h2><ul><li>Margherita</li><li>Diavola</li></ul><p>See the <a href="/menu">menu</a> page.</p></section>`
	res := snap(t, markup, Parameters{K: Bounded(0), L: 0, M: 0.5}, Options{})

	assert.True(t, strings.HasPrefix(res.HTML, "<section>## Menu\n- Margherita\n- Diavola\n"), res.HTML)
	assert.Contains(t, res.HTML, `<a href="/menu">menu</a>`)
	assert.NotContains(t, res.HTML, "<ul>")
	assert.NotContains(t, res.HTML, "<p>")
	assert.NotContains(t, res.HTML, "@@@")
	assert.NotContains(t, res.HTML, "\n\n")
}

func TestSnapshot_TextIsSummarized(t *testing.T) {
	markup := `<div><button>One cat. Two cats. Three cats. Four cats.</button></div>`
	full := snap(t, markup, Parameters{K: Bounded(0), L: 0, M: 0}, Options{})
	assert.Equal(t, `<div><button>One cat. Two cats. Three cats. Four cats.</button></div>`, full.HTML)

	// l=1 still keeps one sentence
	short := snap(t, markup, Parameters{K: Bounded(0), L: 1, M: 0}, Options{})
	got := strings.TrimSuffix(strings.TrimPrefix(short.HTML, "<div><button>"), "</button></div>")
	assert.Len(t, strings.Split(got, ". "), 1)
	assert.NotEmpty(t, got)
}

func TestSnapshot_LinearizeStripsWrapper(t *testing.T) {
	markup := `<main><div><button>Go</button></div><section><a href="/x">x</a></section></main>`
	res := snap(t, markup, Parameters{K: Linearize(), L: 0.5, M: 0.6}, Options{})
	assert.Equal(t, `<button>Go</button><a href="/x">x</a>`, res.HTML)
}

func TestSnapshot_MergeKeepsHeavierContainer(t *testing.T) {
	p := Parameters{K: Bounded(1), L: 0, M: 0}
	want := `<section role="main" class="b" id="x">text</section>`

	// light parent, heavy child
	res := snap(t, `<div class="a" id="x"><section role="main" class="b">text</section></div>`, p, Options{})
	assert.Equal(t, want, res.HTML)

	// heavy parent, light child
	res = snap(t, `<section role="main" class="b"><div class="a" id="x">text</div></section>`, p, Options{})
	assert.Equal(t, want, res.HTML)
}

func TestSnapshot_MergeTiePrefersParent(t *testing.T) {
	res := snap(t, `<div id="outer"><div id="inner" class="c">text</div></div>`, Parameters{K: Bounded(1), L: 0, M: 0}, Options{})
	assert.Equal(t, `<div id="outer" class="c">text</div>`, res.HTML)
}

func TestSnapshot_AbsorbParentKeepsSiblingOrder(t *testing.T) {
	markup := `<div><button>1</button><section><button>2</button></section><button>3</button></div>`

	res := snap(t, markup, Parameters{K: Bounded(1), L: 0, M: 0}, Options{})
	assert.Equal(t, `<section><button>1</button><button>2</button><button>3</button></section>`, res.HTML)

	res = snap(t, markup, Parameters{K: Bounded(0), L: 0, M: 0}, Options{})
	assert.Equal(t, markup, res.HTML)
}

func nestedDivs(depth int) string {
	return strings.Repeat("<div>", depth) + "x" + strings.Repeat("</div>", depth)
}

func divChain(t *testing.T, markup string) int {
	t.Helper()
	n := dom.DownsamplingRoot(parse(t, markup))
	count := 0
	for c := n.FirstChild; c != nil && c.Type == html.ElementNode && c.Data == "div"; c = c.FirstChild {
		count++
	}
	return count
}

func TestSnapshot_ContainerChainSurvivors(t *testing.T) {
	cases := []struct {
		depth int
		k     float64
		want  int
	}{
		{5, 0.4, 3}, // levels 2: depths 1, 3, 5
		{7, 0.5, 2}, // levels 4: depths 1, 5
		{6, 0.5, 2}, // levels 3: depths 1, 4
		{4, 1, 1},
		{3, 0, 3},
		{1, 1, 1},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("D=%d,k=%v", c.depth, c.k), func(t *testing.T) {
			res := snap(t, nestedDivs(c.depth), Parameters{K: Bounded(c.k), L: 0, M: 0}, Options{})
			got := divChain(t, res.HTML)
			assert.Equal(t, c.want, got, res.HTML)

			levels := mergeLevels(c.depth, Bounded(c.k))
			assert.Equal(t, (c.depth-1)/levels+1, got)
		})
	}
}

func TestSnapshot_InvalidParameters(t *testing.T) {
	cases := []Parameters{
		{K: Bounded(1.5), L: 0.5, M: 0.5},
		{K: Bounded(-0.1), L: 0.5, M: 0.5},
		{K: Bounded(0.5), L: 2, M: 0.5},
		{K: Bounded(0.5), L: 0.5, M: -1},
	}
	for _, p := range cases {
		doc := parse(t, calculator)
		before, err := dom.OuterHTML(doc)
		require.NoError(t, err)

		_, err = New().Snapshot(context.Background(), doc, p, Options{AssignUniqueIDs: true})
		assert.ErrorIs(t, err, ErrInvalidParameter, p.String())

		after, err := dom.OuterHTML(doc)
		require.NoError(t, err)
		assert.Equal(t, before, after, "tree must not be stamped on invalid input")
	}
}

func TestSnapshot_NoRoot(t *testing.T) {
	_, err := New().Snapshot(context.Background(), &html.Node{Type: html.DocumentNode}, DefaultParameters(), Options{})
	assert.ErrorIs(t, err, ErrNoRoot)
}

func TestSnapshot_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Snapshot(ctx, parse(t, pizza), DefaultParameters(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshot_ElementInput(t *testing.T) {
	doc := parse(t, calculator)
	main := dom.DownsamplingRoot(doc).FirstChild
	require.Equal(t, "main", main.Data)

	res, err := New().Snapshot(context.Background(), main, Parameters{K: Bounded(0), L: 0, M: 0}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "# Calculator\n<div><input/><button data-uid=\"3\">Solve</button></div>", res.HTML)
	outer, err := dom.OuterHTML(main)
	require.NoError(t, err)
	assert.Equal(t, dom.Length(outer), res.Meta.OriginalSize)
}

func TestSnapshot_ConcurrentRunsAgree(t *testing.T) {
	e := New()
	want := snap(t, pizza, DefaultParameters(), Options{AssignUniqueIDs: true}).HTML

	var wg sync.WaitGroup
	results := make([]string, 8)
	errs := make([]error, 8)
	for i := range results {
		doc := parse(t, pizza)
		wg.Add(1)
		go func(i int, doc *html.Node) {
			defer wg.Done()
			res, err := e.Snapshot(context.Background(), doc, DefaultParameters(), Options{AssignUniqueIDs: true})
			results[i], errs[i] = res.HTML, err
		}(i, doc)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, want, results[i])
	}
}
