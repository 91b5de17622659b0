package static

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envoi/pkg/logger"
	"github.com/envoi/pkg/supervisor"
)

func TestHandler(t *testing.T) {
	primary := t.TempDir()
	secondary := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(primary, "hello.txt"), []byte("hello from primary"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(secondary, "extra.txt"), []byte("hello from secondary"), 0644))

	h, err := Handler(primary, secondary)
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		status   int
		contains string
	}{
		{name: "file in first root", path: "/hello.txt", status: http.StatusOK, contains: "hello from primary"},
		{name: "file in later root", path: "/extra.txt", status: http.StatusOK, contains: "hello from secondary"},
		{name: "missing file", path: "/missing.txt", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestHandlerRejectsBadDirectory(t *testing.T) {
	_, err := Handler(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorContains(t, err, "static directory")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = Handler(file)
	assert.ErrorContains(t, err, "is not a directory")
}

func TestListen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.txt"), []byte("static content"), 0644))

	log := logger.New("test", logger.LevelDebug)
	svc, err := Listen("127.0.0.1:0", dir, log)
	require.NoError(t, err)
	assert.Equal(t, "static", svc.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Serve(ctx)

	resp, err := http.Get(svc.URL() + "/index.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "static content")

	_, err = Listen("127.0.0.1:0", filepath.Join(dir, "missing"), log)
	var svcErr *supervisor.ServiceError
	assert.True(t, errors.As(err, &svcErr))
}
