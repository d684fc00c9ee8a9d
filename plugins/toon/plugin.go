package toon

import (
	_ "embed"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mklaassen/toonbridge/internal/core"
	"github.com/mklaassen/toonbridge/internal/oauth"
	"github.com/mklaassen/toonbridge/internal/realtime"
)

//go:embed dashboard.json
var dashboardJSON []byte

const oauthScope = "status control consumption"

// Plugin implements the toonbridge plugin contract for Toon displays.
type Plugin struct {
	cfg           Config
	client        *Client
	service       *Service
	health        core.HealthStatus
	healthMessage string
}

// NewPlugin constructs the Toon plugin. A config or client error leaves the
// plugin registered but unhealthy so the registry can report it.
func NewPlugin(cfg Config, blobStore oauth.BlobStore, publisher realtime.Publisher, log *logrus.Entry) *Plugin {
	client, err := NewClient(cfg, Declaration(cfg), blobStore, log)
	if err != nil {
		return &Plugin{cfg: cfg, health: core.HealthError, healthMessage: err.Error()}
	}

	return &Plugin{
		cfg:     cfg,
		client:  client,
		service: NewService(client, publisher, log),
		health:  core.HealthHealthy,
	}
}

// Declaration is the OAuth contract the daemon registers for this plugin.
func Declaration(cfg Config) oauth.Declaration {
	return oauth.Declaration{
		Provider:     "toon",
		AuthorizeURL: defaultAuthorizeURL,
		TokenURL:     defaultTokenURL,
		Scope:        oauthScope,
		StatePath:    cfg.StatePath,
	}
}

func (p *Plugin) ID() string {
	return "toon"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "toon",
		DisplayName: "Toon",
		Version:     "0.1.0",
		Endpoints: []string{
			"/api/v1/toon/status",
			"/api/v1/toon/agreements",
			"/api/v1/toon/temperature",
			"/api/v1/toon/state",
			"/api/v1/toon/resume",
			"/api/v1/toon/consumption/{gas|electricity}",
			"/api/v1/toon/unpair",
			"/api/v1/toon/webhook",
		},
	}
}

func (p *Plugin) OAuthDeclaration() oauth.Declaration {
	return Declaration(p.cfg)
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "toon-overview", JSON: dashboardJSON}}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.service == nil {
		return nil
	}
	collectors := []prometheus.Collector{NewMetricsCollector(p.service.Mirror())}
	return append(collectors, SharedCollectors()...)
}

func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	if p.service == nil {
		return
	}
	p.service.RegisterHTTP(mux)
}

func (p *Plugin) Run(stop <-chan struct{}) {
	if p.service == nil {
		return
	}
	p.service.Run(stop)
}

// Client exposes the vendor client for daemon wiring (webhook registration,
// oauth refresh loop).
func (p *Plugin) Client() *Client {
	return p.client
}

func (p *Plugin) Health() core.HealthStatus {
	return p.health
}

func (p *Plugin) HealthMessage() string {
	return p.healthMessage
}
