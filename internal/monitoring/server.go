package monitoring

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for monitoring engine operations.
type Server struct {
	collector *MetricsCollector
	metrics   *Metrics
	server    *http.Server
}

// NewMonitoringServer creates a monitoring server listening on addr.
// /metrics serves the Prometheus collectors, /summary the collector
// summary and /health a liveness document.
func NewMonitoringServer(collector *MetricsCollector, metrics *Metrics, addr string) *Server {
	mux := http.NewServeMux()

	server := &Server{
		collector: collector,
		metrics:   metrics,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second, //nolint:mnd // Standard timeout value
		},
	}

	if metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/summary", server.handleSummary)
	mux.HandleFunc("/health", server.handleHealth)

	return server
}

// Handler returns the HTTP handler of the server.
func (ms *Server) Handler() http.Handler {
	return ms.server.Handler
}

// Start starts the monitoring server.
func (ms *Server) Start() error {
	return ms.server.ListenAndServe()
}

// Stop stops the monitoring server.
func (ms *Server) Stop() error {
	return ms.server.Close()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleSummary serves the aggregate of the collected operation metrics.
func (ms *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ms.collector == nil {
		writeJSON(w, MetricsSummary{})
		return
	}
	writeJSON(w, ms.collector.GetSummary())
}

// handleHealth serves the health check endpoint.
func (ms *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"enabled":   ms.collector != nil && ms.collector.IsEnabled(),
	})
}
