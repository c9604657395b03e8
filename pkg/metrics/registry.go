// Package metrics defines the Recorder contract the backup/restore
// components consult for observability, and owns the process-wide
// Prometheus registry the concrete pkg/metrics/prometheus implementation
// registers against. Metrics emission is an external collaborator per
// spec.md §1 (out of scope for the core algorithms); this package is the
// seam that collaborator plugs into.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var registry *prometheus.Registry

// InitRegistry creates the process-wide registry and enables metrics.
// Call once at startup before constructing a Recorder; callers that never
// call this get a nil Recorder and zero overhead.
func InitRegistry() *prometheus.Registry {
	registry = prometheus.NewRegistry()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil if metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}
