// Package render captures the live DOM of a page with headless Chrome, for
// pages whose markup only exists after scripts run.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("renderer closed")

// Config configures a Renderer. The zero value launches a local headless
// Chrome found by the launcher.
type Config struct {
	// BrowserURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local browser.
	BrowserURL string
	// BrowserBin overrides the Chrome binary used by the launcher.
	BrowserBin string
	// NavigateTimeout bounds navigation plus load waiting. Default 30s.
	NavigateTimeout time.Duration
	// StableFor waits until network and DOM are quiet for this long after
	// load. Zero skips the wait.
	StableFor time.Duration
	// BlockResources lists resource types that are not downloaded:
	// images, fonts, media, stylesheets.
	BlockResources []string
}

// Renderer owns one browser connection, started on first use and shared by
// concurrent Render calls.
type Renderer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

func New(cfg Config) *Renderer {
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	return &Renderer{cfg: cfg}
}

// Render navigates a fresh tab to pageURL and returns the serialized
// document once it has loaded.
func (r *Renderer) Render(ctx context.Context, pageURL string) (string, error) {
	b, err := r.connect()
	if err != nil {
		return "", err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return "", fmt.Errorf("render: create tab: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Warn().Err(err).Str("url", pageURL).Msg("render: close tab")
		}
	}()
	if len(r.cfg.BlockResources) > 0 {
		router, err := blockResources(page, r.cfg.BlockResources)
		if err != nil {
			return "", err
		}
		defer func() { _ = router.Stop() }()
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigateTimeout)
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("render: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("render: wait load %s: %w", pageURL, err)
	}
	if r.cfg.StableFor > 0 {
		if err := p.WaitStable(r.cfg.StableFor); err != nil {
			log.Debug().Err(err).Str("url", pageURL).Msg("render: page did not settle")
		}
	}
	html, err := page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("render: read html: %w", err)
	}
	return html, nil
}

// Close disconnects from the browser and stops a locally launched one.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return err
}

func (r *Renderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.browser != nil {
		return r.browser, nil
	}
	wsURL := r.cfg.BrowserURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		if r.cfg.BrowserBin != "" {
			l = l.Bin(r.cfg.BrowserBin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("render: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		log.Debug().Str("url", wsURL).Msg("render: launched local chrome")
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if r.lnch != nil {
			r.lnch.Cleanup()
			r.lnch = nil
		}
		return nil, fmt.Errorf("render: connect: %w", err)
	}
	r.browser = b
	return b, nil
}

func blockResources(page *rod.Page, types []string) (*rod.HijackRouter, error) {
	blocked := make(map[proto.NetworkResourceType]bool, len(types))
	for _, t := range types {
		if rt, ok := resourceType(t); ok {
			blocked[rt] = true
		}
	}
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, fmt.Errorf("render: block resources: %w", err)
	}
	go router.Run()
	return router, nil
}

// resourceType maps the plural names used in configuration to CDP types.
func resourceType(name string) (proto.NetworkResourceType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "image", "images":
		return proto.NetworkResourceTypeImage, true
	case "font", "fonts":
		return proto.NetworkResourceTypeFont, true
	case "media":
		return proto.NetworkResourceTypeMedia, true
	case "stylesheet", "stylesheets":
		return proto.NetworkResourceTypeStylesheet, true
	}
	return "", false
}
