// Package fetch downloads HTML pages for snapshotting with retries, redirect
// limits, politeness controls and conditional revalidation against the
// on-disk HTTP cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/d2snap/internal/cache"
	"github.com/hyperifyio/d2snap/internal/robots"
)

var (
	// ErrServer marks 5xx responses, which are retried.
	ErrServer = errors.New("server error")
	// ErrStatus marks other non-2xx responses.
	ErrStatus = errors.New("unexpected status")
	// ErrContentType is returned for responses that are not HTML.
	ErrContentType = errors.New("unsupported content type")
	// ErrScheme is returned for non-HTTP(S) URLs and redirects.
	ErrScheme = errors.New("unsupported URL scheme")
	// ErrTooLarge is returned when a body exceeds MaxBodyBytes.
	ErrTooLarge = errors.New("response body too large")
	// ErrDisallowed is returned when robots.txt forbids the URL.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// Client fetches pages for the source loader. The zero value is usable but
// refuses private hosts.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// Optional on-disk cache for HTTP GET bodies and headers.
	Cache *cache.HTTPCache
	// If true, bypass cache entirely and fetch fresh (no conditional headers),
	// but still save the latest response to cache.
	BypassCache bool

	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
	// MaxConcurrent limits concurrent in-flight requests per client instance.
	// Zero means unlimited.
	MaxConcurrent int
	// RatePerSecond limits request starts per client. Zero means unlimited.
	RatePerSecond float64
	// MaxBodyBytes caps the size of a page. Zero means unlimited.
	MaxBodyBytes int64
	// AllowPrivateHosts permits loopback and private network targets.
	AllowPrivateHosts bool
	// Robots, when set, is consulted before every page request and its
	// crawl delay is honored per host.
	Robots *robots.Manager

	hostMu   sync.Mutex
	hostNext map[string]time.Time
	gateOnce sync.Once
	gate     *semaphore.Weighted
	rateOnce sync.Once
	rate     *rate.Limiter
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

// response is one completed exchange. A 304 carries no body.
type response struct {
	status       int
	body         []byte
	contentType  string
	etag         string
	lastModified string
}

// Get fetches an HTML page, retrying 5xx and timeouts up to MaxAttempts. A
// cached copy is revalidated with ETag and Last-Modified and served on 304.
// It returns the body and its content type.
func (c *Client) Get(ctx context.Context, url string) ([]byte, string, error) {
	if err := c.admit(ctx, url); err != nil {
		return nil, "", err
	}
	var validators *cache.HTTPEntry
	if c.Cache != nil && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, url); err == nil {
			validators = meta
		}
	}
	attempts := max(c.MaxAttempts, 1)
	for i := 0; ; i++ {
		resp, err := c.do(ctx, url, validators)
		if err == nil {
			return c.complete(ctx, url, resp)
		}
		if !isTransient(err) || i == attempts-1 {
			return nil, "", err
		}
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		}
	}
}

// complete stores fresh bodies and swaps a 304 for the cached copy.
func (c *Client) complete(ctx context.Context, url string, resp response) ([]byte, string, error) {
	if c.Cache == nil {
		return resp.body, resp.contentType, nil
	}
	if resp.status != http.StatusNotModified {
		_ = c.Cache.Save(ctx, url, resp.contentType, resp.etag, resp.lastModified, resp.body)
		return resp.body, resp.contentType, nil
	}
	body, err := c.Cache.LoadBody(ctx, url)
	if err != nil {
		return nil, "", fmt.Errorf("load cached page: %w", err)
	}
	ct := resp.contentType
	if meta, err := c.Cache.LoadMeta(ctx, url); err == nil && ct == "" {
		ct = meta.ContentType
	}
	return body, ct, nil
}

func (c *Client) do(ctx context.Context, url string, validators *cache.HTTPEntry) (response, error) {
	if err := c.acquire(ctx); err != nil {
		return response{}, err
	}
	defer c.release()
	if err := c.wait(ctx); err != nil {
		return response{}, err
	}
	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PerRequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return response{}, fmt.Errorf("new request: %w", err)
	}
	if !isHTTPScheme(req.URL) {
		return response{}, fmt.Errorf("%w: %q", ErrScheme, url)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if validators != nil {
		if validators.ETag != "" {
			req.Header.Set("If-None-Match", validators.ETag)
		}
		if validators.LastModified != "" {
			req.Header.Set("If-Modified-Since", validators.LastModified)
		}
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	out := response{
		status:       resp.StatusCode,
		contentType:  resp.Header.Get("Content-Type"),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	switch {
	case resp.StatusCode >= 500:
		return response{}, fmt.Errorf("%w: %d", ErrServer, resp.StatusCode)
	case resp.StatusCode == http.StatusNotModified && validators != nil:
		return out, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return response{}, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	case !isAllowedHTMLContentType(out.contentType):
		return response{}, fmt.Errorf("%w: %s", ErrContentType, out.contentType)
	}
	if out.body, err = c.readBody(resp.Body); err != nil {
		return response{}, err
	}
	return out, nil
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	if c.MaxBodyBytes <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return b, nil
	}
	b, err := io.ReadAll(io.LimitReader(r, c.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > c.MaxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.MaxBodyBytes)
	}
	return b, nil
}

// isTransient treats HTTP 5xx and deadline errors as retryable.
func isTransient(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrServer)
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	hops := c.RedirectMaxHops
	if hops <= 0 {
		hops = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= hops {
			return errors.New("too many redirects")
		}
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return fmt.Errorf("redirect: %w", ErrScheme)
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func isAllowedHTMLContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}

// wait blocks until the rate limiter admits one more request.
func (c *Client) wait(ctx context.Context) error {
	if c.RatePerSecond <= 0 {
		return nil
	}
	c.rateOnce.Do(func() {
		c.rate = rate.NewLimiter(rate.Limit(c.RatePerSecond), 1)
	})
	return c.rate.Wait(ctx)
}

// acquire takes one of MaxConcurrent request slots.
func (c *Client) acquire(ctx context.Context) error {
	if c.MaxConcurrent <= 0 {
		return nil
	}
	c.gateOnce.Do(func() {
		c.gate = semaphore.NewWeighted(int64(c.MaxConcurrent))
	})
	return c.gate.Acquire(ctx, 1)
}

func (c *Client) release() {
	if c.gate != nil {
		c.gate.Release(1)
	}
}

// admit enforces the host policy and robots.txt before any request is made.
func (c *Client) admit(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if !isHTTPScheme(u) {
		return fmt.Errorf("%w: %q", ErrScheme, rawURL)
	}
	if !c.AllowPrivateHosts && robots.IsLocalOrPrivateHost(u.Hostname()) {
		return fmt.Errorf("%w: %s", robots.ErrPrivateHost, u.Hostname())
	}
	if c.Robots == nil {
		return nil
	}
	ok, delay, err := c.Robots.Allowed(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("robots: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}
	if delay != nil && *delay > 0 {
		return c.crawlDelay(ctx, u.Host, *delay)
	}
	return nil
}

// crawlDelay spaces consecutive requests to host by at least d.
func (c *Client) crawlDelay(ctx context.Context, host string, d time.Duration) error {
	c.hostMu.Lock()
	if c.hostNext == nil {
		c.hostNext = make(map[string]time.Time)
	}
	now := time.Now()
	start := c.hostNext[host]
	if start.Before(now) {
		start = now
	}
	c.hostNext[host] = start.Add(d)
	c.hostMu.Unlock()

	wait := time.Until(start)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
