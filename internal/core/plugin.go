package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mklaassen/toonbridge/internal/oauth"
)

// HealthStatus represents plugin health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is a Grafana dashboard asset embedded by the plugin.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Endpoints   []string
}

// Plugin is the compile-time contract for all toonbridge plugins.
type Plugin interface {
	ID() string
	Manifest() Manifest
	OAuthDeclaration() oauth.Declaration
	Dashboards() []Dashboard
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// HTTPRegistrant lets plugins mount handlers (command API, webhook receiver)
// on the daemon mux.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}

// Runner lets plugins own background work (pollers, event loops). Stop is
// signalled through the context passed to Run.
type Runner interface {
	Run(stop <-chan struct{})
}
