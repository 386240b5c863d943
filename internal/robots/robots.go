// Package robots fetches and evaluates robots.txt so that URL inputs are only
// downloaded when the site permits it.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyperifyio/d2snap/internal/cache"
)

// ErrPrivateHost is returned for loopback, private and link-local hosts
// unless AllowPrivateHosts is set.
var ErrPrivateHost = errors.New("private host not allowed")

// maxRobotsBytes caps how much of a robots.txt is read.
const maxRobotsBytes = 512 << 10

// Source tells where Get found the rules.
type Source int

const (
	SourceNetwork Source = iota
	SourceMemory
	SourceCache304
)

func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceCache304:
		return "cache304"
	default:
		return "network"
	}
}

// Manager resolves robots.txt per host. Rules stay in memory for EntryExpiry
// and are revalidated against Cache afterwards.
type Manager struct {
	HTTPClient        *http.Client
	Cache             *cache.HTTPCache
	UserAgent         string
	EntryExpiry       time.Duration
	AllowPrivateHosts bool

	mu  sync.Mutex
	mem map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	rules  Rules
	expiry time.Time
}

// URLFor returns the robots.txt location governing pageURL.
func URLFor(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !isHTTPScheme(u) || u.Host == "" {
		return "", fmt.Errorf("unsupported url: %q", pageURL)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String(), nil
}

// Allowed reports whether the manager's user agent may fetch pageURL, along
// with the crawl delay of the matching group.
func (m *Manager) Allowed(ctx context.Context, pageURL string) (bool, *time.Duration, error) {
	robotsURL, err := URLFor(pageURL)
	if err != nil {
		return false, nil, err
	}
	rules, _, err := m.Get(ctx, robotsURL)
	if err != nil {
		return false, nil, err
	}
	u, _ := url.Parse(pageURL)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rules.IsAllowed(m.UserAgent, path), rules.CrawlDelayFor(m.UserAgent), nil
}

// Get returns the parsed rules at robotsURL. A missing robots.txt (404 and
// other 4xx) allows everything. Auth errors, 5xx and network failures
// disallow everything until the entry expires.
func (m *Manager) Get(ctx context.Context, robotsURL string) (Rules, Source, error) {
	u, err := url.Parse(robotsURL)
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("parse url: %w", err)
	}
	if !isHTTPScheme(u) {
		return Rules{}, SourceNetwork, fmt.Errorf("unsupported url scheme: %q", robotsURL)
	}
	if host := u.Hostname(); !m.AllowPrivateHosts && IsLocalOrPrivateHost(host) {
		return Rules{}, SourceNetwork, fmt.Errorf("%w: %s", ErrPrivateHost, host)
	}
	if rules, ok := m.remembered(robotsURL); ok {
		return rules, SourceMemory, nil
	}

	rules, src, err := m.fetch(ctx, robotsURL)
	if err != nil {
		return Rules{}, src, err
	}
	m.remember(robotsURL, rules)
	zerolog.Ctx(ctx).Debug().Str("url", robotsURL).Stringer("source", src).Int("groups", len(rules.Groups)).Msg("robots")
	return rules, src, nil
}

// fetch requests robotsURL, revalidating a cached copy when there is one.
func (m *Manager) fetch(ctx context.Context, robotsURL string) (Rules, Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("new request: %w", err)
	}
	if m.UserAgent != "" {
		req.Header.Set("User-Agent", m.UserAgent)
	}
	if m.Cache != nil {
		if meta, err := m.Cache.LoadMeta(ctx, robotsURL); err == nil {
			if meta.ETag != "" {
				req.Header.Set("If-None-Match", meta.ETag)
			}
			if meta.LastModified != "" {
				req.Header.Set("If-Modified-Since", meta.LastModified)
			}
		}
	}

	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Rules{}, SourceNetwork, ctx.Err()
		}
		return disallowAll, SourceNetwork, nil
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusNotModified && m.Cache != nil:
		body, err := m.Cache.LoadBody(ctx, robotsURL)
		if err != nil {
			return Rules{}, SourceCache304, fmt.Errorf("load cached robots: %w", err)
		}
		return parseRobots(string(body)), SourceCache304, nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code >= 500:
		return disallowAll, SourceNetwork, nil
	case code >= 400:
		return Rules{}, SourceNetwork, nil
	case code < 200 || code > 299:
		return Rules{}, SourceNetwork, fmt.Errorf("unexpected status: %d", code)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("read robots: %w", err)
	}
	if m.Cache != nil {
		if err := m.Cache.Save(ctx, robotsURL, "text/plain", resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), data); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("url", robotsURL).Msg("robots cache write failed")
		}
	}
	return parseRobots(string(data)), SourceNetwork, nil
}

func (m *Manager) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *Manager) remembered(key string) (Rules, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.mem[key]
	if !ok || !m.clock().Before(ent.expiry) {
		return Rules{}, false
	}
	return ent.rules, true
}

func (m *Manager) remember(key string, rules Rules) {
	exp := m.EntryExpiry
	if exp <= 0 {
		exp = 30 * time.Minute
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mem == nil {
		m.mem = make(map[string]memEntry)
	}
	m.mem[key] = memEntry{rules: rules, expiry: m.clock().Add(exp)}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// IsLocalOrPrivateHost reports loopback, private and link-local hosts.
// Hostnames are not resolved.
func IsLocalOrPrivateHost(host string) bool {
	h := strings.Trim(strings.ToLower(strings.TrimSpace(host)), "[]")
	if h == "localhost" || h == "localhost.localdomain" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
	}
	return false
}
