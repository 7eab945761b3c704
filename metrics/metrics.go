// Package metrics exposes Prometheus-compatible counters for the
// coordination engine and a small HTTP server that serves them.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsServer serves the metrics endpoint for a component.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the named component listening on addr.
// An empty addr yields a server that never starts, so callers can wire it
// unconditionally.
func New(name, addr string) (*MetricsServer, error) {
	if name == "" {
		return nil, fmt.Errorf("component name is required")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the metrics endpoint.
func (s *MetricsServer) ListenAndServe() error {
	if s.srv.Addr == "" {
		return nil
	}
	return s.srv.ListenAndServe()
}

// Shutdown stops the metrics server gracefully.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// IncRequest counts one classified control-channel request.
func IncRequest(verb string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`bidwire_requests_total{verb=%q}`, verb)).Inc()
}

// IncBid counts one bid outcome, accepted or denied.
func IncBid(outcome string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`bidwire_bids_total{outcome=%q}`, outcome)).Inc()
}

// IncSettlement counts one settlement terminal state.
func IncSettlement(terminal string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`bidwire_settlements_total{terminal=%q}`, terminal)).Inc()
}
