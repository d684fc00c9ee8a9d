package core

import "github.com/prometheus/client_golang/prometheus"

// MetricsRegistry assembles a dedicated registry from the active plugins'
// collectors. Registration panics on duplicates, so colliding collectors
// surface at startup rather than at scrape time.
func MetricsRegistry(plugins []Plugin) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	for _, plugin := range plugins {
		registry.MustRegister(plugin.Collectors()...)
	}
	return registry
}
