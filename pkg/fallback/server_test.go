package fallback

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envoi/pkg/logger"
)

func setupTestLogger() *logger.Logger {
	return logger.New("test", logger.LevelDebug)
}

func TestServeHTTP(t *testing.T) {
	s := New(setupTestLogger())

	tests := []struct {
		name   string
		method string
		target string
		host   string
	}{
		{name: "root", method: http.MethodGet, target: "/", host: "unknown.example"},
		{name: "deep path with query", method: http.MethodGet, target: "/a/b/c?d=e", host: "x.example:8443"},
		{name: "post", method: http.MethodPost, target: "/submit", host: "unknown.example"},
		{name: "no host", method: http.MethodGet, target: "/", host: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Equal(t, Body, rec.Body.String())
		})
	}

	assert.Equal(t, uint64(len(tests)), s.Hits())
}

func TestListen(t *testing.T) {
	s := New(setupTestLogger())
	svc, err := s.Listen("127.0.0.1:0")
	require.NoError(t, err)
	assert.Equal(t, "fallback", svc.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("fallback did not stop")
		}
	}()

	resp, err := http.Get(svc.URL() + "/anything")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, Body, string(body))
}
