package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider gives callers access to the registry holding the engine's
// collectors, e.g. to serve them over promhttp.
type RegistryProvider interface {
	Registry() *prometheus.Registry
}
