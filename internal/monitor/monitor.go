// Package monitor publishes service events to WebSocket clients.
//
// A Monitor is both an api.Observer and an api.Service. Register it as (part
// of) the observer of the services to watch, and run it under the Host:
//
//	GET /ws     stream of Event values as JSON text frames
//	GET /stats  BasicMetrics snapshot plus monitor counters
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petrijr/bgwork/pkg/api"
)

// Monitor serves the live event feed.
type Monitor struct {
	addr   string
	logger *slog.Logger

	metrics api.BasicMetrics
	hub     *hub
	dropped atomic.Int64

	mu      sync.Mutex
	started bool
	stopped bool
	ln      net.Listener
	srv     *http.Server
	cancel  context.CancelFunc
}

var (
	_ api.Observer = (*Monitor)(nil)
	_ api.Service  = (*Monitor)(nil)
)

// New creates a Monitor listening on addr once started. A nil logger uses
// slog.Default().
func New(addr string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{addr: addr, logger: logger, hub: newHub()}
}

func (m *Monitor) Name() string { return "monitor" }

// Start binds the listener and serves in the background.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return api.ErrServiceStopped
	}
	if m.started {
		return api.ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("monitor: listen on %s: %w", m.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", m.hub.serveWS(m.logger))
	mux.HandleFunc("GET /stats", m.serveStats)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.ln = ln
	m.cancel = cancel
	m.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}
	m.started = true

	go m.hub.run(runCtx)
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitor_serve_failed", slog.Any("error", err))
		}
	}()

	m.logger.Info("monitor_started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (m *Monitor) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln == nil {
		return ""
	}
	return m.ln.Addr().String()
}

// Clients returns the number of connected feed clients.
func (m *Monitor) Clients() int { return int(m.hub.count.Load()) }

// Metrics returns the counters aggregated from observed events.
func (m *Monitor) Metrics() api.BasicMetricsSnapshot { return m.metrics.Snapshot() }

// Stop shuts the HTTP server down and disconnects feed clients.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	if !started {
		return nil
	}

	err := m.srv.Shutdown(ctx)
	m.cancel()
	select {
	case <-m.hub.done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

type stats struct {
	Metrics       api.BasicMetricsSnapshot `json:"metrics"`
	Clients       int                      `json:"clients"`
	EventsDropped int64                    `json:"events_dropped"`
}

func (m *Monitor) serveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats{
		Metrics:       m.metrics.Snapshot(),
		Clients:       m.Clients(),
		EventsDropped: m.dropped.Load(),
	})
}
