package bgwork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/bgwork/pkg/api"
)

// DefaultShutdownTimeout bounds Host shutdown when no timeout is configured.
const DefaultShutdownTimeout = 30 * time.Second

// Host runs a set of services for the lifetime of a context.
//
// Run starts the services in registration order, blocks until ctx is done,
// and then stops every started service concurrently within ShutdownTimeout:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	host := bgwork.NewHost(channel, cronSvc)
//	if err := host.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
type Host struct {
	// ShutdownTimeout bounds the stop phase. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Logger receives start/stop failures. Nil means slog.Default().
	Logger *slog.Logger

	mu       sync.Mutex
	services []api.Service
}

// NewHost creates a host for the given services.
func NewHost(services ...api.Service) *Host {
	h := &Host{}
	h.Add(services...)
	return h
}

// Add registers more services. Services added after Run has started are not
// picked up.
func (h *Host) Add(services ...api.Service) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, svc := range services {
		if svc != nil {
			h.services = append(h.services, svc)
		}
	}
}

// Services returns the registered services in start order.
func (h *Host) Services() []api.Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]api.Service(nil), h.services...)
}

func (h *Host) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Run starts all services and blocks until ctx is done, then stops them.
//
// If a service fails to start, the services already started are stopped and
// the start error is returned. Otherwise Run returns the joined stop errors,
// or nil.
func (h *Host) Run(ctx context.Context) error {
	services := h.Services()

	started := make([]api.Service, 0, len(services))
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			startErr := fmt.Errorf("bgwork: start %s: %w", svc.Name(), err)
			h.logger().ErrorContext(ctx, "service_start_failed",
				slog.String("service", svc.Name()),
				slog.Any("error", err),
			)
			return errors.Join(startErr, h.stopAll(started))
		}
		started = append(started, svc)
	}

	<-ctx.Done()
	return h.stopAll(started)
}

func (h *Host) stopAll(services []api.Service) error {
	if len(services) == 0 {
		return nil
	}

	timeout := h.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, svc := range services {
		g.Go(func() error {
			if err := svc.Stop(ctx); err != nil {
				h.logger().ErrorContext(ctx, "service_stop_failed",
					slog.String("service", svc.Name()),
					slog.Any("error", err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("bgwork: stop %s: %w", svc.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
