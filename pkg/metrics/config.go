package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "blockbridge"

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace overrides the default "blockbridge" namespace for metrics.
	Namespace string

	// Labels are additional labels to add to all metrics.
	Labels prometheus.Labels
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
		Labels:    nil,
	}
}

// Resolve returns the Registry described by config: nil when disabled,
// DefaultRegistry when no custom registerer, namespace or labels are set,
// and a Registry on config.Registry otherwise. Resolving the same config
// twice yields registries sharing the same collectors. An error means the
// metric names clash with collectors of a different shape.
func Resolve(config Config) (*Registry, error) {
	if !config.Enabled {
		return nil, nil
	}
	custom := (config.Registry != nil && config.Registry != prometheus.DefaultRegisterer) ||
		(config.Namespace != "" && config.Namespace != DefaultNamespace) ||
		len(config.Labels) > 0
	if !custom {
		return DefaultRegistry, nil
	}
	return NewRegistryWithConfig(config)
}
