package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Readiness is flipped by the app once listeners are up and again on shutdown
type Readiness struct {
	ready   atomic.Bool
	closing atomic.Bool
}

func (r *Readiness) SetReady()   { r.ready.Store(true) }
func (r *Readiness) SetClosing() { r.closing.Store(true) }

// Ready reports whether the broker accepts traffic
func (r *Readiness) Ready() bool {
	return r.ready.Load() && !r.closing.Load()
}

// NewHandler serves /metrics from gatherer plus /healthz and /readyz
func NewHandler(gatherer prometheus.Gatherer, readiness *Readiness) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if readiness == nil || !readiness.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}
