// Package supervisor runs the long-lived services of the proxy and treats the
// loss of any one of them as fatal for the process.
package supervisor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/envoi/pkg/logger"
)

// ErrStopped is reported for a service that returned without an error while
// it was still expected to run
var ErrStopped = errors.New("stopped unexpectedly")

// Service is a long-running component. Serve blocks until ctx ends, in which
// case it returns nil, or until the service fails.
type Service interface {
	Name() string
	Serve(ctx context.Context) error
}

// ServiceError reports which service failed
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

type funcService struct {
	name  string
	serve func(ctx context.Context) error
}

func (s funcService) Name() string                    { return s.name }
func (s funcService) Serve(ctx context.Context) error { return s.serve(ctx) }

// Func adapts a serve function into a Service
func Func(name string, serve func(ctx context.Context) error) Service {
	return funcService{name: name, serve: serve}
}

// Run starts every service and blocks until they have all returned.
// Cancelling ctx is a clean shutdown and Run returns nil. If a service stops
// while ctx is still live, the others are cancelled and Run returns that
// service's *ServiceError.
func Run(ctx context.Context, l *logger.Logger, services ...Service) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			l.Debug("Starting %s service", svc.Name())
			err := svc.Serve(gctx)

			// cancelled by the caller or by a failing sibling
			if gctx.Err() != nil {
				if err != nil {
					l.Warn("%s service stopped with error during shutdown: %v", svc.Name(), err)
				} else {
					l.Debug("%s service stopped", svc.Name())
				}
				return nil
			}

			if err == nil {
				err = ErrStopped
			}
			l.Error("%s service failed: %v", svc.Name(), err)
			return &ServiceError{Service: svc.Name(), Err: err}
		})
	}

	return g.Wait()
}
