// Package metrics records resolution counters in a Prometheus registry.
// slipway is a short-lived CLI, so the registry is written to a node_exporter
// textfile at exit instead of being scraped.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slipway"

// Recorder implements usecases.Metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	refLookups  *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	redirects   prometheus.Histogram
	secrets     *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		refLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ref_lookups_total",
			Help:      "Ref resolutions by the source that answered them.",
		}, []string{"source"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Convergence loops by outcome.",
		}, []string{"outcome"}),
		redirects: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redirects",
			Help:      "Redirects followed per convergence loop.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		secrets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secrets_bound_total",
			Help:      "Bound secrets by the scope they were found in.",
		}, []string{"scope"}),
	}

	r.registry.MustRegister(r.refLookups, r.resolutions, r.redirects, r.secrets)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RefLookup implements usecases.Metrics.
func (r *Recorder) RefLookup(source string) {
	r.refLookups.WithLabelValues(source).Inc()
}

// ResolutionFinished implements usecases.Metrics.
func (r *Recorder) ResolutionFinished(outcome string, redirects int) {
	r.resolutions.WithLabelValues(outcome).Inc()
	r.redirects.Observe(float64(redirects))
}

// SecretsBound implements usecases.Metrics.
func (r *Recorder) SecretsBound(scope string, n int) {
	r.secrets.WithLabelValues(scope).Add(float64(n))
}

// WriteToTextfile writes the registry in text exposition format to path,
// creating its directory if needed. The file is replaced atomically.
func (r *Recorder) WriteToTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
