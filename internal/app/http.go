package app

import (
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/hyperifyio/d2snap/internal/robots"
)

// newHTTPClient returns the client shared by page and robots.txt fetches.
// Connections are pooled per host since batches often hit one site. Unless
// allowPrivate is set, dials to loopback and private addresses are refused
// after name resolution, which also covers redirects and DNS names.
func newHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !allowPrivate {
		dialer.Control = refusePrivate
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          0,   // no global limit
		MaxIdleConnsPerHost:   128, // large per-host pool
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if robots.IsLocalOrPrivateHost(host) {
		return fmt.Errorf("%w: %s", robots.ErrPrivateHost, host)
	}
	return nil
}
