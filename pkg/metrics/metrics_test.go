package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewWithRegistry(prometheus.NewRegistry())

	c.RequestRouted(true)
	c.RequestRouted(true)
	c.RequestRouted(false)
	c.ForwardFailed()
	c.HandshakeFailed()
	c.HandshakeFailed()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues(RouteMatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues(RouteFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.forwardErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.handshakeFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.openConnections))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RequestRouted(true)
		c.ForwardFailed()
		c.HandshakeFailed()
		c.ConnectionOpened()
		c.ConnectionClosed()
	})
}

func TestHandler(t *testing.T) {
	c := New()
	c.RequestRouted(false)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `envoi_requests_total{route="fallback"} 1`)
	assert.Contains(t, string(body), "envoi_open_connections 0")
	assert.Contains(t, string(body), "go_goroutines")
}
