package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teemow/planfewer/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is the default bind address for the metrics server.
	DefaultMetricsAddr = ":9090"

	// DefaultShutdownTimeout bounds graceful server shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	metricsReadHeaderTimeout = 10 * time.Second
	metricsWriteTimeout      = 10 * time.Second
	metricsIdleTimeout       = 60 * time.Second
)

// MetricsServer exposes the Prometheus scrape endpoint and a liveness probe
// on a port of its own, so operational scraping never touches the
// OAuth-protected application port.
type MetricsServer struct {
	httpServer *http.Server
}

// NewMetricsServer builds the metrics server. It requires an enabled
// instrumentation provider; when instrumentation is off there is nothing to
// scrape.
func NewMetricsServer(addr string, provider *instrumentation.Provider) (*MetricsServer, error) {
	if provider == nil || !provider.Enabled() {
		return nil, fmt.Errorf("metrics server requires an enabled instrumentation provider")
	}
	if addr == "" {
		addr = DefaultMetricsAddr
	}

	mux := http.NewServeMux()

	// The OpenTelemetry prometheus exporter registers its instruments with
	// the global Prometheus registry, which promhttp.Handler exposes.
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: metricsReadHeaderTimeout,
			WriteTimeout:      metricsWriteTimeout,
			IdleTimeout:       metricsIdleTimeout,
		},
	}, nil
}

// Start serves metrics and blocks until Shutdown or a listener error.
func (s *MetricsServer) Start() error {
	slog.Info("starting metrics server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	slog.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bind address.
func (s *MetricsServer) Addr() string {
	return s.httpServer.Addr
}
