package plugins

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mklaassen/toonbridge/internal/config"
	"github.com/mklaassen/toonbridge/internal/core"
	"github.com/mklaassen/toonbridge/internal/oauth"
	"github.com/mklaassen/toonbridge/internal/realtime"
)

// Deps are the shared services handed to every plugin factory.
type Deps struct {
	BlobStore oauth.BlobStore
	Publisher realtime.Publisher
	Log       *logrus.Entry
}

// Factory builds a plugin instance from the loaded config, or reports false
// when its config section is absent.
type Factory func(*config.Config, Deps) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// brokenPlugin stands in for a plugin whose config failed to load so the
// registry can still report it as unhealthy.
func brokenPlugin(id string, err error) core.Plugin {
	return failedPlugin{id: id, message: err.Error()}
}

type failedPlugin struct {
	id      string
	message string
}

func (p failedPlugin) ID() string { return p.id }
func (p failedPlugin) Manifest() core.Manifest {
	return core.Manifest{PluginID: p.id, DisplayName: p.id}
}
func (p failedPlugin) OAuthDeclaration() oauth.Declaration { return oauth.Declaration{} }
func (p failedPlugin) Dashboards() []core.Dashboard        { return nil }
func (p failedPlugin) Collectors() []prometheus.Collector  { return nil }
func (p failedPlugin) Health() core.HealthStatus           { return core.HealthError }
func (p failedPlugin) HealthMessage() string               { return p.message }

// Compiled returns the configured plugin instances for this build.
func Compiled(cfg *config.Config, deps Deps) []core.Plugin {
	if cfg == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(cfg, deps)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
