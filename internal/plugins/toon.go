package plugins

import (
	"github.com/mklaassen/toonbridge/internal/config"
	"github.com/mklaassen/toonbridge/internal/core"
	"github.com/mklaassen/toonbridge/plugins/toon"
)

func init() {
	Register(func(cfg *config.Config, deps Deps) (core.Plugin, bool) {
		if cfg.Toon == nil {
			return nil, false
		}
		pluginCfg, err := toon.FromDaemonConfig(cfg.Toon)
		if err != nil {
			return brokenPlugin("toon", err), true
		}
		return toon.NewPlugin(pluginCfg, deps.BlobStore, deps.Publisher, deps.Log), true
	})
}
