package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport is the inbound adapter that serves the JSON API over HTTP.
type Transport struct {
	handler         *Handler
	server          *http.Server
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	metrics         *Metrics
	registry        *prometheus.Registry
}

// TransportOption is a functional option for configuring Transport.
type TransportOption func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8484".
func WithAddr(addr string) TransportOption {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithTimeouts sets the server read/write and graceful shutdown timeouts.
func WithTimeouts(read, write, shutdown time.Duration) TransportOption {
	return func(t *Transport) {
		t.readTimeout = read
		t.writeTimeout = write
		t.shutdownTimeout = shutdown
	}
}

// WithLogger sets the logger for the transport.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates an HTTP transport serving the given handler. The
// handler's metrics field is populated from the transport's Prometheus
// registry so decisions and transitions are observable at /metrics.
func NewTransport(handler *Handler, opts ...TransportOption) *Transport {
	t := &Transport{
		handler:         handler,
		addr:            "127.0.0.1:8484",
		readTimeout:     10 * time.Second,
		writeTimeout:    30 * time.Second,
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.registry = prometheus.NewRegistry()
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(t.registry)
	t.handler.metrics = t.metrics

	return t
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the server fails.
func (t *Transport) Start(ctx context.Context) error {
	mux := t.handler.Routes()
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))

	handler := MetricsMiddleware(t.metrics)(mux)

	t.server = &http.Server{
		Addr:         t.addr,
		Handler:      handler,
		ReadTimeout:  t.readTimeout,
		WriteTimeout: t.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
