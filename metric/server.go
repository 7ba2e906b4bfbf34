package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPath is the metrics endpoint path.
const DefaultPath = "/metrics"

// NewRegistry creates a registry holding the Go runtime and process
// collectors plus the given collectors.
func NewRegistry(cs ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// NewHandler returns a mux serving reg at DefaultPath and a /health endpoint.
func NewHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// NewServer returns an HTTP server for reg listening on addr. The caller
// starts it with ListenAndServe and stops it with Shutdown.
func NewServer(addr string, reg *prometheus.Registry) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
