// Package adaptive searches snapshot parameters until a snapshot fits a
// token budget.
package adaptive

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/hyperifyio/d2snap/internal/dom"
	"github.com/hyperifyio/d2snap/internal/snapshot"
)

const (
	DefaultMaxTokens   = 4096
	DefaultMaxAttempts = 5

	// pressureScale normalizes the size pressure into parameter space.
	pressureScale = 1e6
	// pressureGrowth is applied to the pressure after every attempt.
	pressureGrowth = 1.125
)

// ErrBudgetUnreachable is returned when no attempt produced a snapshot within
// the token budget.
var ErrBudgetUnreachable = errors.New("unable to create snapshot below the token budget")

// Result is a snapshot together with the parameters that produced it.
type Result struct {
	snapshot.Result
	Parameters snapshot.Parameters `json:"parameters"`
	Attempts   int                 `json:"attempts"`
}

// Controller drives an Engine through a low-discrepancy walk of the
// parameter cube. Parameters grow more aggressive with every attempt.
type Controller struct {
	Engine *snapshot.Engine
}

// New returns a Controller over e, or over a default Engine when e is nil.
func New(e *snapshot.Engine) *Controller {
	if e == nil {
		e = snapshot.New()
	}
	return &Controller{Engine: e}
}

// Snapshot returns the first snapshot whose estimated token count is at most
// maxTokens. At most maxAttempts engine runs are made. Non-positive limits
// take the defaults.
func (c *Controller) Snapshot(ctx context.Context, node *html.Node, maxTokens, maxAttempts int, opts snapshot.Options) (Result, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	root := dom.DownsamplingRoot(node)
	if root == nil {
		return Result{}, snapshot.ErrNoRoot
	}
	outer, err := dom.OuterHTML(root)
	if err != nil {
		return Result{}, fmt.Errorf("serialize root: %w", err)
	}

	logger := zerolog.Ctx(ctx)
	pressure := float64(dom.Length(outer))
	lastTokens := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		p := parametersAt(attempt, pressure)
		res, err := c.Engine.Snapshot(ctx, node, p, opts)
		if err != nil {
			return Result{}, err
		}
		pressure = math.Pow(pressure, pressureGrowth)
		lastTokens = res.Meta.EstimatedTokens

		logger.Debug().
			Int("attempt", attempt).
			Str("k", p.K.String()).
			Float64("l", p.L).
			Float64("m", p.M).
			Int("tokens", res.Meta.EstimatedTokens).
			Int("budget", maxTokens).
			Msg("adaptive attempt")

		if res.Meta.EstimatedTokens <= maxTokens {
			return Result{Result: res, Parameters: p, Attempts: attempt}, nil
		}
	}
	return Result{}, fmt.Errorf("%w: %d tokens after %d attempts, budget %d", ErrBudgetUnreachable, lastTokens, maxAttempts, maxTokens)
}

// parametersAt scales the attempt-th Halton point by the current pressure.
func parametersAt(attempt int, pressure float64) snapshot.Parameters {
	h := haltonPoint(attempt)
	scale := func(v float64) float64 { return math.Min(pressure/pressureScale*v, 1) }
	return snapshot.Parameters{
		K: snapshot.Bounded(scale(h[0])),
		L: scale(h[1]),
		M: scale(h[2]),
	}
}
