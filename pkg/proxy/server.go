package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/netutil"

	"github.com/envoi/pkg/logger"
	"github.com/envoi/pkg/metrics"
	envoitls "github.com/envoi/pkg/tls"
)

// ServerOptions configures the inbound side of the proxy
type ServerOptions struct {
	// MaxConnections caps connections that are handshaking or established.
	// Zero or less means unbounded.
	MaxConnections    int
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultServerOptions returns the inbound defaults
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		MaxConnections:    1024,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Server accepts raw TCP connections, terminates TLS on each one in its own
// goroutine and serves the resulting connections over HTTP/1.x or HTTP/2.
type Server struct {
	handler    http.Handler
	terminator *envoitls.Terminator
	opts       ServerOptions
	metrics    *metrics.Collector
	logger     *logger.Logger
}

// NewServer creates a server that passes every request to handler
func NewServer(handler http.Handler, terminator *envoitls.Terminator, opts ServerOptions, collector *metrics.Collector, l *logger.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultServerOptions().ShutdownTimeout
	}
	return &Server{
		handler:    handler,
		terminator: terminator,
		opts:       opts,
		metrics:    collector,
		logger:     l,
	}
}

// Listen binds the TCP listener for addr
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve runs the accept loop on ln until ctx ends or ln fails. A failed
// handshake only drops that connection. ln is closed when Serve returns and
// a nil error means ctx ended.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}

	queue := newConnQueue(ln.Addr())
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
		ErrorLog:          newStdLogger(s.logger, logger.LevelWarn),
		ConnState:         s.trackConn,
	}
	if err := http2.ConfigureServer(httpServer, &http2.Server{IdleTimeout: s.opts.IdleTimeout}); err != nil {
		ln.Close()
		return fmt.Errorf("failed to configure HTTP/2: %w", err)
	}

	s.logger.Info("Proxy listening on %s", ln.Addr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(queue)
	}()

	var stopping sync.Once
	acceptCtx, stopAccept := context.WithCancel(ctx)
	stop := func() {
		stopping.Do(func() {
			stopAccept()
			ln.Close()
		})
	}
	defer stop()

	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- s.acceptLoop(acceptCtx, ln, queue)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-acceptErr:
	case err = <-serveErr:
		err = fmt.Errorf("http server stopped: %w", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		s.logger.Warn("Graceful shutdown incomplete: %v", shutdownErr)
		httpServer.Close()
	}
	queue.Close()

	if ctx.Err() != nil {
		s.logger.Info("Proxy on %s stopped", ln.Addr())
		return nil
	}
	if err == nil {
		err = errors.New("accept loop stopped")
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, queue *connQueue) error {
	var tempDelay time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTemporary(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn("Accept error: %v; retrying in %v", err, tempDelay)
				select {
				case <-time.After(tempDelay):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		tempDelay = 0

		go s.handleConn(ctx, raw, queue)
	}
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn, queue *connQueue) {
	s.logger.Debug("Accepted connection from %s", raw.RemoteAddr())

	conn, err := s.terminator.Accept(ctx, raw)
	if err != nil {
		s.metrics.HandshakeFailed()
		s.logger.Warn("%v", err)
		return
	}

	state := conn.ConnectionState()
	s.logger.Debug("Established %s with %s (%s, alpn %q)",
		envoitls.VersionName(state.Version), conn.RemoteAddr(), state.ServerName, state.NegotiatedProtocol)

	if !queue.push(conn) {
		conn.Close()
	}
}

func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metrics.ConnectionOpened()
	case http.StateClosed, http.StateHijacked:
		s.metrics.ConnectionClosed()
	}
}

// isTemporary matches accept errors such as EMFILE that clear up on their own
func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

func newStdLogger(l *logger.Logger, level logger.LogLevel) *log.Logger {
	return log.New(logger.NewLogWriter(l, level), "", 0)
}
