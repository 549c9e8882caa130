package http

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func newBareHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(nil, nil, nil, nil, nil, nil, logger)
}

func TestNewTransportDefaults(t *testing.T) {
	tr := NewTransport(newBareHandler())

	if tr.addr != "127.0.0.1:8484" {
		t.Errorf("addr = %q, want loopback default", tr.addr)
	}
	if tr.readTimeout != 10*time.Second || tr.writeTimeout != 30*time.Second || tr.shutdownTimeout != 10*time.Second {
		t.Errorf("timeouts = %v/%v/%v, want 10s/30s/10s", tr.readTimeout, tr.writeTimeout, tr.shutdownTimeout)
	}
	if tr.metrics == nil || tr.registry == nil {
		t.Error("metrics/registry not initialized")
	}
}

func TestNewTransportOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := NewTransport(newBareHandler(),
		WithAddr("0.0.0.0:9999"),
		WithTimeouts(time.Second, 2*time.Second, 3*time.Second),
		WithLogger(logger),
	)

	if tr.addr != "0.0.0.0:9999" {
		t.Errorf("addr = %q, want option applied", tr.addr)
	}
	if tr.readTimeout != time.Second || tr.writeTimeout != 2*time.Second || tr.shutdownTimeout != 3*time.Second {
		t.Errorf("timeouts = %v/%v/%v, want 1s/2s/3s", tr.readTimeout, tr.writeTimeout, tr.shutdownTimeout)
	}
	if tr.logger != logger {
		t.Error("logger option not applied")
	}
}

func TestNewTransportWiresHandlerMetrics(t *testing.T) {
	h := newBareHandler()
	if h.metrics != nil {
		t.Fatal("handler starts without metrics")
	}

	tr := NewTransport(h)
	if h.metrics != tr.metrics {
		t.Error("handler metrics not populated from the transport registry")
	}
}

func TestCloseBeforeStart(t *testing.T) {
	tr := NewTransport(newBareHandler())
	if err := tr.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}
