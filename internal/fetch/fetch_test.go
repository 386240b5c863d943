package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/d2snap/internal/cache"
	"github.com/hyperifyio/d2snap/internal/robots"
)

const testAgent = "d2snap-test"

func newClient() *Client {
	return &Client{UserAgent: testAgent, MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, AllowPrivateHosts: true}
}

// serve starts a test server and closes it with the test.
func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// htmlPage answers every request with body as text/html.
func htmlPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}
}

// withRobots serves robotsTxt next to an html page and counts page hits.
func withRobots(t *testing.T, robotsTxt string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(robotsTxt))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		htmlPage("<p>ok</p>")(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestGet_ReturnsBodyAndContentType(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	})

	body, ct, err := newClient().Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", ct)
	assert.Equal(t, "<html><body>ok</body></html>", string(body))
}

func TestGet_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		attempts  int
		wantErr   error
		wantCalls int32
	}{
		{"5xx then success is retried", []int{http.StatusBadGateway, http.StatusOK}, 2, nil, 2},
		{"5xx exhausts attempts", []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable}, 2, ErrServer, 2},
		{"4xx is not retried", []int{http.StatusNotFound}, 3, ErrStatus, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tc.statuses[min(n, len(tc.statuses)-1)]
				if status != http.StatusOK {
					w.WriteHeader(status)
					return
				}
				htmlPage("<p>ok</p>")(w, r)
			})
			c := newClient()
			c.MaxAttempts = tc.attempts

			_, _, err := c.Get(context.Background(), srv.URL)
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}
			assert.Equal(t, tc.wantCalls, calls.Load())
		})
	}
}

func TestGet_ContentTypes(t *testing.T) {
	tests := map[string]error{
		"text/html":             nil,
		"application/xhtml+xml": nil,
		"application/pdf":       ErrContentType,
		"image/png":             ErrContentType,
	}
	for ct, wantErr := range tests {
		t.Run(ct, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", ct)
				_, _ = w.Write([]byte("payload"))
			})
			_, _, err := newClient().Get(context.Background(), srv.URL)
			if wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, wantErr)
			}
		})
	}
}

func TestGet_RevalidatesAgainstCache(t *testing.T) {
	const etag = `"abc123"`
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("ETag", etag)
		_, _ = w.Write([]byte("<p>first</p>"))
	})
	c := newClient()
	c.Cache = &cache.HTTPCache{Dir: t.TempDir()}

	first, _, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<p>first</p>", string(first))

	second, ct, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<p>first</p>", string(second))
	assert.Equal(t, "text/html", ct, "content type comes from cached metadata")
	assert.EqualValues(t, 2, calls.Load())
}

func TestGet_BypassCacheSendsNoValidators(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("If-None-Match"))
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("ETag", `"v"`)
		_, _ = w.Write([]byte("fresh"))
	})
	c := newClient()
	c.Cache = &cache.HTTPCache{Dir: t.TempDir()}
	c.BypassCache = true

	for range 2 {
		b, _, err := c.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "fresh", string(b))
	}
}

func TestGet_RejectsNonHTTP(t *testing.T) {
	_, _, err := newClient().Get(context.Background(), "file:///etc/hosts")
	assert.ErrorIs(t, err, ErrScheme)
}

func TestGet_RejectsPrivateHostByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(http.ResponseWriter, *http.Request) { calls.Add(1) })

	_, _, err := (&Client{MaxAttempts: 1}).Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, robots.ErrPrivateHost)
	assert.Zero(t, calls.Load())
}

func TestGet_RedirectLimit(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		htmlPage("ok")(w, r)
	})
	c := newClient()

	c.RedirectMaxHops = 1
	_, _, err := c.Get(context.Background(), srv.URL)
	assert.Error(t, err)

	c.RedirectMaxHops = 2
	_, _, err = c.Get(context.Background(), srv.URL)
	assert.NoError(t, err)
}

func TestGet_MaxBodyBytes(t *testing.T) {
	srv := serve(t, htmlPage(strings.Repeat("x", 64)))
	c := newClient()

	c.MaxBodyBytes = 32
	_, _, err := c.Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)

	c.MaxBodyBytes = 64
	b, _, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, b, 64)
}

func TestGet_RateLimit(t *testing.T) {
	srv := serve(t, htmlPage("ok"))
	c := newClient()
	c.RatePerSecond = 20

	start := time.Now()
	for range 3 {
		_, _, err := c.Get(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	// burst of one: two waits of 50ms
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestGet_RateLimitHonorsContext(t *testing.T) {
	srv := serve(t, htmlPage(""))
	c := newClient()
	c.RatePerSecond = 0.001

	_, _, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = c.Get(ctx, srv.URL)
	assert.Error(t, err)
}

func TestGet_RobotsDisallow(t *testing.T) {
	srv, hits := withRobots(t, "User-agent: *\nDisallow: /private\n")
	c := newClient()
	c.Robots = &robots.Manager{HTTPClient: srv.Client(), UserAgent: c.UserAgent, AllowPrivateHosts: true}

	_, _, err := c.Get(context.Background(), srv.URL+"/private/page")
	require.ErrorIs(t, err, ErrDisallowed)
	assert.Zero(t, hits.Load(), "disallowed page must not be requested")

	_, _, err = c.Get(context.Background(), srv.URL+"/public")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestGet_RobotsCrawlDelay(t *testing.T) {
	srv, _ := withRobots(t, "User-agent: *\nCrawl-delay: 0.1\n")
	c := newClient()
	c.Robots = &robots.Manager{HTTPClient: srv.Client(), UserAgent: c.UserAgent, AllowPrivateHosts: true}

	start := time.Now()
	for range 3 {
		_, _, err := c.Get(context.Background(), srv.URL+"/p")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
}

func TestGet_MaxConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		htmlPage("ok")(w, r)
	})
	c := newClient()
	c.MaxConcurrent = 2

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Get(context.Background(), srv.URL)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
