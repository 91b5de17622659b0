// Package fallback serves the catch-all 404 page for hosts without a route.
package fallback

import (
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/envoi/pkg/logger"
	"github.com/envoi/pkg/supervisor"
)

// Body is the page returned for every request
const Body = "<h1>You've hit 404, this host and/or address leads to no where...</h1>"

// Server answers every method and path with 404 and Body
type Server struct {
	logger *logger.Logger
	hits   atomic.Uint64
}

// New creates a fallback handler
func New(l *logger.Logger) *Server {
	return &Server{logger: l}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.hits.Add(1)
	s.logger.Debug("404 #%d: %s %s%s (from %s)", n, r.Method, r.Host, r.URL.RequestURI(), r.RemoteAddr)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(Body)))
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, Body)
}

// Hits returns the number of requests answered
func (s *Server) Hits() uint64 {
	return s.hits.Load()
}

// Listen binds addr for the fallback service. It is plain HTTP and meant for
// loopback addresses only.
func (s *Server) Listen(addr string) (*supervisor.HTTPService, error) {
	return supervisor.ListenHTTP("fallback", addr, s, s.logger)
}
