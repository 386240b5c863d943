package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/d2snap/internal/adaptive"
	"github.com/hyperifyio/d2snap/internal/budget"
	"github.com/hyperifyio/d2snap/internal/cache"
	"github.com/hyperifyio/d2snap/internal/fetch"
	"github.com/hyperifyio/d2snap/internal/render"
	"github.com/hyperifyio/d2snap/internal/robots"
	"github.com/hyperifyio/d2snap/internal/snapshot"
	"github.com/hyperifyio/d2snap/internal/source"
)

// ErrNoInputs is returned by Run when there is nothing to snapshot.
var ErrNoInputs = errors.New("no inputs")

// Request describes one snapshot: fixed parameters, or a token budget when
// Adaptive is set.
type Request struct {
	Adaptive    bool
	Parameters  snapshot.Parameters
	MaxTokens   int
	MaxAttempts int
	Options     snapshot.Options
}

// descriptor identifies the request in snapshot cache keys.
func (r Request) descriptor() string {
	opts := fmt.Sprintf("debug=%t ids=%t keep=%t", r.Options.Debug, r.Options.AssignUniqueIDs, r.Options.KeepUnknownElements)
	if r.Adaptive {
		return fmt.Sprintf("adaptive tokens=%d attempts=%d %s", r.MaxTokens, r.MaxAttempts, opts)
	}
	return fmt.Sprintf("snapshot %s %s", r.Parameters, opts)
}

// Output is the result for one input, as written in json format.
type Output struct {
	Source     string               `json:"source"`
	HTML       string               `json:"html"`
	Meta       snapshot.Meta        `json:"meta"`
	Parameters *snapshot.Parameters `json:"parameters,omitempty"`
	Attempts   int                  `json:"attempts,omitempty"`
	Cached     bool                 `json:"-"`
}

type App struct {
	cfg       Config
	runID     string
	engine    *snapshot.Engine
	adaptive  *adaptive.Controller
	loader    *source.Loader
	renderer  *render.Renderer
	snapCache *cache.SnapshotCache
}

// New validates cfg and wires the loader, caches and engines.
func New(cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	engine := snapshot.New()
	a := &App{
		cfg:      cfg,
		runID:    uuid.NewString(),
		engine:   engine,
		adaptive: adaptive.New(engine),
	}

	var httpCache *cache.HTTPCache
	if cfg.CacheDir != "" && !cfg.NoCache {
		a.maintainCache()
		httpCache = &cache.HTTPCache{Dir: httpCacheDir(cfg.CacheDir), StrictPerms: cfg.CacheStrictPerms}
		a.snapCache = &cache.SnapshotCache{Dir: snapshotCacheDir(cfg.CacheDir), StrictPerms: cfg.CacheStrictPerms}
	}

	httpClient := newHTTPClient(cfg.Timeout, cfg.AllowPrivateHosts)
	fc := &fetch.Client{
		HTTPClient:        httpClient,
		UserAgent:         cfg.UserAgent,
		MaxAttempts:       2,
		PerRequestTimeout: cfg.Timeout,
		Cache:             httpCache,
		RedirectMaxHops:   5,
		MaxConcurrent:     cfg.Concurrency,
		RatePerSecond:     cfg.RatePerSecond,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		AllowPrivateHosts: cfg.AllowPrivateHosts,
	}
	if cfg.Robots {
		fc.Robots = &robots.Manager{
			HTTPClient:        httpClient,
			Cache:             httpCache,
			UserAgent:         cfg.UserAgent,
			EntryExpiry:       30 * time.Minute,
			AllowPrivateHosts: cfg.AllowPrivateHosts,
		}
	}
	a.loader = &source.Loader{Fetcher: fc, Render: cfg.Render, Sanitize: cfg.Sanitize, Stdin: cfg.Stdin}
	if cfg.Render {
		a.renderer = render.New(render.Config{
			BrowserURL:     cfg.BrowserURL,
			StableFor:      500 * time.Millisecond,
			BlockResources: []string{"images", "fonts", "media"},
		})
		a.loader.Renderer = a.renderer
	}
	return a, nil
}

// Close releases the browser, if one was started.
func (a *App) Close() {
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			log.Warn().Err(err).Msg("renderer cleanup failed")
		}
	}
}

// RunID identifies this App in logs.
func (a *App) RunID() string { return a.runID }

// DefaultRequest returns the request described by the configuration.
func (a *App) DefaultRequest() Request {
	maxTokens := a.cfg.MaxTokens
	if a.cfg.Adaptive && maxTokens == 0 && a.cfg.Model != "" {
		maxTokens = budget.SnapshotBudget(a.cfg.Model, a.cfg.ReserveTokens)
	}
	return Request{
		Adaptive:    a.cfg.Adaptive,
		Parameters:  a.cfg.Parameters,
		MaxTokens:   maxTokens,
		MaxAttempts: a.cfg.MaxAttempts,
		Options:     a.cfg.Options,
	}
}

// Run snapshots every configured input concurrently and writes the results
// in input order. The first failure cancels the remaining inputs.
func (a *App) Run(ctx context.Context) error {
	if len(a.cfg.Inputs) == 0 {
		return ErrNoInputs
	}
	logger := log.With().Str("run", a.runID).Logger()
	ctx = logger.WithContext(ctx)
	req := a.DefaultRequest()

	results := make([]Output, len(a.cfg.Inputs))
	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Concurrency > 0 {
		g.SetLimit(a.cfg.Concurrency)
	}
	for i, ref := range a.cfg.Inputs {
		g.Go(func() error {
			out, err := a.Process(gctx, ref, req)
			if err != nil {
				return fmt.Errorf("%s: %w", ref, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return a.write(results)
}

// Process loads ref and snapshots it.
func (a *App) Process(ctx context.Context, ref string, req Request) (Output, error) {
	doc, err := a.Load(ctx, ref)
	if err != nil {
		return Output{}, err
	}
	return a.Snapshot(ctx, doc, req)
}

// Load resolves ref through the configured source loader.
func (a *App) Load(ctx context.Context, ref string) (*source.Document, error) {
	return a.loader.Load(ctx, ref)
}

// Parse wraps markup supplied inline, named by ref.
func (a *App) Parse(ref, markup string) (*source.Document, error) {
	return a.loader.Parse(ref, markup)
}

// Snapshot runs req over doc, consulting the snapshot cache first.
func (a *App) Snapshot(ctx context.Context, doc *source.Document, req Request) (Output, error) {
	logger := zerolog.Ctx(ctx)
	start := time.Now()
	key := cache.KeyFrom(req.descriptor(), doc.HTML)
	if out, ok := a.cached(ctx, key); ok {
		out.Source = doc.Ref
		logger.Info().Str("source", doc.Ref).Int("tokens", out.Meta.EstimatedTokens).Bool("cached", true).Msg("snapshot")
		return out, nil
	}

	var out Output
	if req.Adaptive {
		res, err := a.adaptive.Snapshot(ctx, doc.Root, req.MaxTokens, req.MaxAttempts, req.Options)
		if err != nil {
			return Output{}, err
		}
		params := res.Parameters
		out = Output{HTML: res.HTML, Meta: res.Meta, Parameters: &params, Attempts: res.Attempts}
	} else {
		res, err := a.engine.Snapshot(ctx, doc.Root, req.Parameters, req.Options)
		if err != nil {
			return Output{}, err
		}
		params := req.Parameters
		out = Output{HTML: res.HTML, Meta: res.Meta, Parameters: &params}
	}
	out.Source = doc.Ref
	a.store(ctx, key, out)
	logger.Info().
		Str("source", doc.Ref).
		Int("original", out.Meta.OriginalSize).
		Int("size", out.Meta.SnapshotSize).
		Int("tokens", out.Meta.EstimatedTokens).
		Dur("took", time.Since(start)).
		Msg("snapshot")
	return out, nil
}

func (a *App) cached(ctx context.Context, key string) (Output, bool) {
	if a.snapCache == nil {
		return Output{}, false
	}
	data, ok, err := a.snapCache.Get(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("snapshot cache read failed")
		return Output{}, false
	}
	if !ok {
		return Output{}, false
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("snapshot cache entry malformed")
		return Output{}, false
	}
	out.Cached = true
	return out, true
}

func (a *App) store(ctx context.Context, key string, out Output) {
	if a.snapCache == nil {
		return
	}
	out.Source = ""
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := a.snapCache.Save(ctx, key, data); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("snapshot cache write failed")
	}
}

func (a *App) write(results []Output) (err error) {
	var w io.Writer = a.cfg.Stdout
	if w == nil {
		w = os.Stdout
	}
	if p := strings.TrimSpace(a.cfg.OutputPath); p != "" && p != "-" {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
		}
		f, ferr := os.Create(p)
		if ferr != nil {
			return fmt.Errorf("write output: %w", ferr)
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("write output: %w", cerr)
			}
		}()
		w = f
	}
	if err := writeResults(w, a.cfg.Format, results); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if p := a.cfg.OutputPath; p != "" && p != "-" {
		log.Info().Str("out", p).Int("inputs", len(results)).Msg("wrote output")
	}
	return nil
}

// writeResults writes json as one object per line and html as the bare
// snapshots separated by newlines.
func writeResults(w io.Writer, format string, results []Output) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range results {
		if _, err := io.WriteString(w, r.HTML+"\n"); err != nil {
			return err
		}
	}
	return nil
}
