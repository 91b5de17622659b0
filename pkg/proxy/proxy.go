package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/envoi/pkg/logger"
	"github.com/envoi/pkg/metrics"
	"github.com/envoi/pkg/router"
)

// Options tunes the upstream transport
type Options struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConnsPerHost   int
}

// DefaultOptions returns the upstream transport defaults
func DefaultOptions() Options {
	return Options{
		DialTimeout:           10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   32,
	}
}

// RequestContext records how a single request was routed
type RequestContext struct {
	ID          string
	Host        string
	RequestURI  string
	Destination string
	Target      *url.URL
	Matched     bool
}

type requestContextKey struct{}

// FromContext returns the RequestContext stored by ServeHTTP, if any
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}

// Proxy routes requests by Host header and forwards them upstream
type Proxy struct {
	table        *router.Table
	transport    *http.Transport
	reverseProxy *httputil.ReverseProxy
	counter      *RequestCounter
	metrics      *metrics.Collector
	logger       *logger.Logger
}

// New creates a proxy over table. collector may be nil.
func New(table *router.Table, opts Options, collector *metrics.Collector, log *logger.Logger) *Proxy {
	defaults := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = defaults.ResponseHeaderTimeout
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = defaults.IdleConnTimeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}

	p := &Proxy{
		table:   table,
		counter: &RequestCounter{},
		metrics: collector,
		logger:  log,
	}

	// one pool shared by every connection and destination
	p.transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 8,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   opts.DialTimeout,
		ExpectContinueTimeout: time.Second,
	}

	p.reverseProxy = &httputil.ReverseProxy{
		Rewrite:       p.rewrite,
		Transport:     p.transport,
		FlushInterval: -1,
		ErrorHandler:  p.forwardError,
		ErrorLog:      newStdLogger(log, logger.LevelWarn),
	}

	return p
}

// Route resolves the destination for r. It never fails: a missing or
// unknown Host resolves to the fallback destination.
func (p *Proxy) Route(r *http.Request) *RequestContext {
	dest, matched := p.table.Resolve(r.Host)

	rc := &RequestContext{
		ID:          uuid.NewString(),
		Host:        r.Host,
		RequestURI:  r.URL.RequestURI(),
		Destination: dest,
		Matched:     matched,
	}

	// destinations are normalized when the table is built
	base, err := url.Parse(dest)
	if err != nil {
		p.logger.Error("Unparseable destination %q for host %q: %v", dest, r.Host, err)
		base, _ = url.Parse(p.table.Fallback())
		rc.Destination = p.table.Fallback()
		rc.Matched = false
	}

	target := *base
	target.Path = r.URL.Path
	target.RawPath = r.URL.RawPath
	target.RawQuery = r.URL.RawQuery
	rc.Target = &target

	return rc
}

// ServeHTTP routes r and forwards it to the resolved destination
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := p.Route(r)
	count := p.counter.Inc()
	p.metrics.RequestRouted(rc.Matched)

	host := rc.Host
	if host == "" {
		host = "<no host>"
	}
	p.logger.With("request_id", rc.ID).Info("%s => %s (request #%d)", host, rc.Destination, count)

	ctx := context.WithValue(r.Context(), requestContextKey{}, rc)
	p.reverseProxy.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	// ServeHTTP always stores the route before forwarding
	rc, _ := FromContext(pr.In.Context())
	target := *rc.Target
	pr.Out.URL = &target
	pr.Out.Host = pr.In.Host
	pr.SetXForwarded()
}

func (p *Proxy) forwardError(w http.ResponseWriter, r *http.Request, err error) {
	log := p.logger
	target := "<unknown>"
	if rc, ok := FromContext(r.Context()); ok {
		log = log.With("request_id", rc.ID)
		target = rc.Target.String()
	}

	if errors.Is(err, context.Canceled) {
		log.Debug("Client went away while forwarding to %s", target)
	} else {
		p.metrics.ForwardFailed()
		log.Error("Forward to %s failed: %v", target, err)
	}

	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// Requests returns the number of requests handled since the proxy was created
func (p *Proxy) Requests() uint64 {
	return p.counter.Value()
}

// Close releases idle upstream connections
func (p *Proxy) Close() {
	p.transport.CloseIdleConnections()
}
