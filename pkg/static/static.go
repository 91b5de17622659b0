// Package static serves files from local directories on a loopback listener,
// so hosts in the routing table can point at local content.
package static

import (
	"fmt"
	"net/http"
	"os"

	"vimagination.zapto.org/httpgzip"

	"github.com/envoi/pkg/logger"
	"github.com/envoi/pkg/supervisor"
)

// Handler serves the first directory, falling back to later ones for missing
// files. Precompressed .gz siblings are served to clients that accept gzip.
func Handler(dir string, more ...string) (http.Handler, error) {
	dirs := append([]string{dir}, more...)
	roots := make([]http.FileSystem, 0, len(dirs))
	for _, d := range dirs {
		info, err := os.Stat(d)
		if err != nil {
			return nil, fmt.Errorf("static directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static directory: %s is not a directory", d)
		}
		roots = append(roots, http.Dir(d))
	}
	return httpgzip.FileServer(roots[0], roots[1:]...), nil
}

// Listen binds addr and serves dir on it
func Listen(addr, dir string, l *logger.Logger) (*supervisor.HTTPService, error) {
	h, err := Handler(dir)
	if err != nil {
		return nil, &supervisor.ServiceError{Service: "static", Err: err}
	}
	l.Info("Serving %s", dir)
	return supervisor.ListenHTTP("static", addr, h, l)
}
