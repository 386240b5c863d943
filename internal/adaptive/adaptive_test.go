package adaptive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/hyperifyio/d2snap/internal/dom"
	"github.com/hyperifyio/d2snap/internal/snapshot"
)

const calculator = `<main><h1>Calculator</h1><div><input/><button data-uid="3">Solve</button></div></main>`

func parse(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	return doc
}

func TestHalton(t *testing.T) {
	cases := []struct {
		index, base int
		want        float64
	}{
		{0, 2, 0},
		{1, 2, 0.5},
		{2, 2, 0.25},
		{3, 2, 0.75},
		{4, 2, 0.125},
		{1, 3, 1.0 / 3},
		{2, 3, 2.0 / 3},
		{3, 3, 1.0 / 9},
		{1, 5, 0.2},
		{6, 5, 0.2 + 0.04},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, Halton(c.index, c.base), 1e-12, "Halton(%d, %d)", c.index, c.base)
	}
}

func TestSnapshot_FirstAttemptFits(t *testing.T) {
	res, err := New(nil).Snapshot(context.Background(), parse(t, calculator), 4096, 5, snapshot.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	// body outer markup is 99 characters
	s := 99.0 / 1e6
	assert.InDelta(t, s*0.5, res.Parameters.K.Value(), 1e-12)
	assert.InDelta(t, s/3, res.Parameters.L, 1e-12)
	assert.InDelta(t, s*0.2, res.Parameters.M, 1e-12)
	assert.LessOrEqual(t, res.Meta.EstimatedTokens, 4096)
	assert.Contains(t, res.HTML, "# Calculator")
}

func TestSnapshot_DefaultsForNonPositiveLimits(t *testing.T) {
	res, err := New(nil).Snapshot(context.Background(), parse(t, calculator), 0, -1, snapshot.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
}

func TestSnapshot_BudgetUnreachable(t *testing.T) {
	markup := "<div>" + strings.Repeat("<button>Press</button>", 60) + "</div>"
	res, err := New(nil).Snapshot(context.Background(), parse(t, markup), 1, 3, snapshot.Options{})
	assert.ErrorIs(t, err, ErrBudgetUnreachable)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Empty(t, res.HTML)
	assert.Zero(t, res.Attempts)
}

func largeDocument(sections int) string {
	var b strings.Builder
	b.WriteString("<html><body><main>")
	for i := 0; i < sections; i++ {
		fmt.Fprintf(&b, `<section class="s%d" style="padding:0"><div class="wrap"><div class="inner" data-track="%d">`, i, i)
		fmt.Fprintf(&b, `<h2 id="h%d">Heading number %d</h2>`, i, i)
		b.WriteString(`<p>The first sentence explains the topic. The second adds some detail about it. A third one repeats the topic and the detail. Finally the fourth closes the paragraph.</p>`)
		fmt.Fprintf(&b, `<a href="/item/%d" title="Item %d">Read more</a>`, i, i)
		b.WriteString(`</div></div></section>`)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

func TestSnapshot_NeverReturnsOversized(t *testing.T) {
	doc := largeDocument(800)
	for _, budget := range []int{4096, 20000, 60000} {
		res, err := New(nil).Snapshot(context.Background(), parse(t, doc), budget, 5, snapshot.Options{})
		if err != nil {
			assert.True(t, errors.Is(err, ErrBudgetUnreachable), "budget %d: %v", budget, err)
			continue
		}
		assert.LessOrEqual(t, res.Meta.EstimatedTokens, budget)
		assert.GreaterOrEqual(t, res.Attempts, 1)
		assert.LessOrEqual(t, res.Attempts, 5)
		assert.NoError(t, res.Parameters.Validate())
	}
}

func TestSnapshot_PressureGrows(t *testing.T) {
	p1 := parametersAt(1, 1000)
	p2 := parametersAt(1, 1e7)
	assert.Less(t, p1.L, p2.L)
	assert.Equal(t, 1.0, p2.K.Value())
	assert.Equal(t, 1.0, p2.L)
	assert.Equal(t, 1.0, p2.M)
}

func TestSnapshot_LogsAttempts(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	ctx := logger.WithContext(context.Background())

	_, err := New(nil).Snapshot(ctx, parse(t, calculator), 4096, 5, snapshot.Options{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"attempt":1`)
	assert.Contains(t, buf.String(), `"message":"adaptive attempt"`)
}

func TestSnapshot_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Snapshot(ctx, parse(t, calculator), 4096, 5, snapshot.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshot_InvalidRoot(t *testing.T) {
	_, err := New(nil).Snapshot(context.Background(), &html.Node{Type: html.DocumentNode}, 10, 1, snapshot.Options{})
	assert.ErrorIs(t, err, snapshot.ErrNoRoot)
}
