package supervisor

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/envoi/pkg/logger"
)

const (
	httpReadHeaderTimeout = 10 * time.Second
	httpIdleTimeout       = 120 * time.Second
	httpShutdownTimeout   = 5 * time.Second
)

// HTTPService serves a handler on a listener bound at construction
type HTTPService struct {
	name   string
	ln     net.Listener
	server *http.Server
	logger *logger.Logger
}

// ListenHTTP binds addr and returns a service that serves handler on it once
// started. A bind failure is returned as a *ServiceError.
func ListenHTTP(name, addr string, handler http.Handler, l *logger.Logger) (*HTTPService, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ServiceError{Service: name, Err: err}
	}

	return &HTTPService{
		name: name,
		ln:   ln,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: httpReadHeaderTimeout,
			IdleTimeout:       httpIdleTimeout,
			ErrorLog:          log.New(logger.NewLogWriter(l, logger.LevelWarn), "", 0),
		},
		logger: l,
	}, nil
}

// Name identifies the service in supervisor errors and logs
func (s *HTTPService) Name() string {
	return s.name
}

// Addr returns the bound address
func (s *HTTPService) Addr() net.Addr {
	return s.ln.Addr()
}

// URL returns the plain HTTP base URL of the service
func (s *HTTPService) URL() string {
	return "http://" + s.ln.Addr().String()
}

// Serve serves until ctx ends, then shuts down gracefully
func (s *HTTPService) Serve(ctx context.Context) error {
	s.logger.Info("%s listening on %s", s.name, s.ln.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- s.server.Serve(s.ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return ErrStopped
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("%s shutdown incomplete: %v", s.name, err)
		s.server.Close()
	}
	<-errc
	return nil
}

// Close stops the service immediately and releases the listener. Serve
// returns ErrStopped if ctx is still live.
func (s *HTTPService) Close() error {
	err := s.server.Close()
	s.ln.Close()
	return err
}
