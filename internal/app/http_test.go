package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_Config(t *testing.T) {
	c := newHTTPClient(3*time.Second, true)
	assert.Equal(t, 3*time.Second, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok, "expected *http.Transport")
	assert.GreaterOrEqual(t, tr.MaxIdleConnsPerHost, 100)
	assert.NotSame(t, http.DefaultTransport, tr)
}

func TestNewHTTPClient_DefaultTimeout(t *testing.T) {
	assert.Equal(t, defaultTimeout, newHTTPClient(0, true).Timeout)
}

func TestNewHTTPClient_PrivateDials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("internal"))
	}))
	t.Cleanup(srv.Close)

	_, err := newHTTPClient(time.Second, false).Get(srv.URL)
	assert.ErrorContains(t, err, "private host not allowed")

	resp, err := newHTTPClient(time.Second, true).Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefusePrivate(t *testing.T) {
	assert.Error(t, refusePrivate("tcp4", "127.0.0.1:80", nil))
	assert.Error(t, refusePrivate("tcp4", "10.0.0.5:443", nil))
	assert.Error(t, refusePrivate("tcp6", "[::1]:80", nil))
	assert.NoError(t, refusePrivate("tcp4", "93.184.216.34:443", nil))
}
